// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package geyser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Key derives the bridge's "{slot}_{hex(sha256(payload))}" key, where
// hex is the 64-character lowercase hex of SHA-256 over payload.
func Key(slot uint64, payload []byte) string {
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("%d_%s", slot, hex.EncodeToString(hash[:]))
}

// ParseKey splits a "{slot}_{hex64}" key into its slot and hash, as
// consumed by the dedup stage (§4.H). Malformed keys — missing '_',
// non-numeric slot, or a hash that isn't 64 hex characters — are
// reported via ok=false and must be silently skipped by the caller.
func ParseKey(key string) (slot uint64, hash [32]byte, ok bool) {
	idx := strings.IndexByte(key, '_')
	if idx < 0 {
		return 0, hash, false
	}

	slotPart, hexPart := key[:idx], key[idx+1:]
	if len(hexPart) != 64 {
		return 0, hash, false
	}

	slot, err := strconv.ParseUint(slotPart, 10, 64)
	if err != nil {
		return 0, hash, false
	}

	decoded, err := hex.DecodeString(hexPart)
	if err != nil {
		return 0, hash, false
	}

	copy(hash[:], decoded)
	return slot, hash, true
}
