// Package kv wraps the redis client with per-operation timeouts and the
// degraded-mode semantics the chat path relies on: a slow or unavailable KV
// store turns into cache misses and skipped writes, never request failures.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// Store is the timeout-bounded facade over the redis client. All methods
	// derive a child context capped at the configured operation timeout.
	Store struct {
		rdb       redis.UniversalClient
		opTimeout time.Duration
	}

	// Script is a registered server-side script, evaluated atomically.
	Script struct {
		script *redis.Script
	}
)

// ErrNotFound reports a missing key. Callers treat it as a cache miss or
// absent state, not a failure.
var ErrNotFound = errors.New("kv: not found")

// New builds a Store around an established redis client. opTimeout bounds
// every individual operation; zero means 50ms.
func New(rdb redis.UniversalClient, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 50 * time.Millisecond
	}
	return &Store{rdb: rdb, opTimeout: opTimeout}
}

// Dial parses a redis URL and returns a connected Store. The connection is
// verified with a single bounded PING.
func Dial(ctx context.Context, url string, opTimeout time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, opTimeout), nil
}

// WithTimeout returns a Store sharing the same connection with a different
// per-operation timeout. Used for the tighter profile hot path.
func (s *Store) WithTimeout(d time.Duration) *Store {
	return &Store{rdb: s.rdb, opTimeout: d}
}

// Client exposes the underlying redis client for health checks.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// SetEX stores value at key with a TTL.
func (s *Store) SetEX(ctx context.Context, key string, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Set stores value at key without expiry.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Set(ctx, key, value, 0).Err()
}

// Incr atomically increments the integer at key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Incr(ctx, key).Result()
}

// Expire refreshes the TTL on key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Del(ctx, keys...).Err()
}

// SAdd adds a member to a set and reports whether it was newly added.
func (s *Store) SAdd(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.SAdd(ctx, key, member).Result()
	return n == 1, err
}

// SCard returns the cardinality of a set.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.SCard(ctx, key).Result()
}

// Pipeline runs fn against a single pipelined round trip.
func (s *Store) Pipeline(ctx context.Context, fn func(redis.Pipeliner) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.rdb.Pipelined(ctx, fn)
	return err
}

// NewScript registers a Lua script for EVALSHA-first execution.
func NewScript(src string) *Script {
	return &Script{script: redis.NewScript(src)}
}

// Run evaluates the script atomically. Script evaluation gets a looser bound
// than plain operations since it replaces a read-modify-write round trip.
func (s *Store) Run(ctx context.Context, sc *Script, keys []string, args ...any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*s.opTimeout)
	defer cancel()
	res, err := sc.script.Run(ctx, s.rdb, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return res, err
}
