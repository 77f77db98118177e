// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dedup

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemorySize = 1 << 20

// MemoryBackend is an in-memory bounded LRU keyed by the
// string-encoded (slot, hash) pair. A fresh instance starts empty;
// the LRU library's internal locking makes Allowed concurrency-safe.
type MemoryBackend struct {
	cache *lru.Cache[string, struct{}]
}

// NewMemoryBackend builds a MemoryBackend holding up to size entries.
func NewMemoryBackend(size int) (*MemoryBackend, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{cache: cache}, nil
}

// Allowed implements [Backend]. It never returns an error. Uses
// ContainsOrAdd so the check-and-set is atomic under concurrent
// callers — a plain Contains-then-Add would race.
func (m *MemoryBackend) Allowed(_ context.Context, slot uint64, hash [32]byte) (bool, error) {
	key := seenKey(slot, hash)
	alreadySeen, _ := m.cache.ContainsOrAdd(key, struct{}{})
	return !alreadySeen, nil
}

// Close is a no-op; the in-memory cache owns no external resources.
func (m *MemoryBackend) Close() error {
	return nil
}
