// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dedup

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultTTL = 24 * time.Hour

// RedisOptions configures [NewRedisBackend].
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTLSecs  int
}

// RedisBackend is a remote, networked test-and-set backend built on
// Redis's SETNX. It is conservative on failure: connection or command
// errors return (false, err) so the caller treats the backend failure
// as fatal, per the documented per-instance contract.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to the Redis instance described by opts.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	ttl := defaultTTL
	if opts.TTLSecs > 0 {
		ttl = time.Duration(opts.TTLSecs) * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &RedisBackend{client: client, ttl: ttl}, nil
}

// Allowed implements [Backend] via SETNX with the configured TTL as
// the test-and-set primitive.
func (r *RedisBackend) Allowed(ctx context.Context, slot uint64, hash [32]byte) (bool, error) {
	key := seenKey(slot, hash)
	ok, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Close releases the underlying Redis client connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
