// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dedup abstracts "has this (slot, hash) pair been seen
// before?" over a pluggable store, per §4.B: an in-memory bounded LRU
// and a remote Redis-backed test-and-set, selected by a tagged-union
// config field.
package dedup

import (
	"context"
	"fmt"

	"github.com/solanabridge/geyser-kafka-bridge/config"
)

// Backend answers whether (slot, hash) has been observed before.
// Allowed returns (true, nil) on first observation and (false, nil)
// on a duplicate. A non-nil error means the backend itself failed;
// the dedup stage treats any such error as fatal.
type Backend interface {
	Allowed(ctx context.Context, slot uint64, hash [32]byte) (bool, error)
	Close() error
}

// NewFromConfig dispatches on cfg.Type to build the configured
// backend.
func NewFromConfig(cfg config.BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "memory":
		size := cfg.Size
		if size <= 0 {
			size = defaultMemorySize
		}
		return NewMemoryBackend(size)
	case "redis":
		return NewRedisBackend(RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTLSecs:  cfg.TTLSecs,
		})
	default:
		return nil, fmt.Errorf("dedup: unknown backend type %q", cfg.Type)
	}
}

func seenKey(slot uint64, hash [32]byte) string {
	return fmt.Sprintf("%d_%x", slot, hash)
}
