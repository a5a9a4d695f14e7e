// Package cache implements the versioned tag cache. Invalidation never
// deletes value keys: it bumps an integer version that participates in every
// key under the tag, and stale generations age out by TTL. This replaces
// DEL-storm invalidation with a single INCR.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campusgraph/advisor/internal/canon"
	"github.com/campusgraph/advisor/internal/kv"
)

type (
	// TagCache is a read-through cache whose keys are bound to a bumpable
	// per-tag version. Safe for concurrent use.
	TagCache struct {
		store   *kv.Store
		metrics *Metrics
	}

	// Metrics carries the cache instrumentation. Nil disables recording.
	Metrics struct {
		Hits          *prometheus.CounterVec
		Misses        *prometheus.CounterVec
		Invalidations *prometheus.CounterVec
	}
)

// bump atomically produces a version strictly greater than the current read
// version. A missing tagver key reads as version 1, so the first bump must
// land on 2.
var bumpScript = kv.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  redis.call('SET', KEYS[1], 2)
  return 2
end
return redis.call('INCR', KEYS[1])
`)

// NewMetrics registers the tag cache collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcache_hit_total", Help: "Tag cache hits.",
		}, []string{"tag"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcache_miss_total", Help: "Tag cache misses (loader invoked).",
		}, []string{"tag"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcache_invalidate_total", Help: "Tag version bumps.",
		}, []string{"tag"}),
	}
	reg.MustRegister(m.Hits, m.Misses, m.Invalidations)
	return m
}

// New builds a TagCache over the KV store. metrics may be nil.
func New(store *kv.Store, metrics *Metrics) *TagCache {
	return &TagCache{store: store, metrics: metrics}
}

// Version returns the current version of tag. Missing or unreadable tagver
// keys read as 1.
func (c *TagCache) Version(ctx context.Context, tag string) int64 {
	v, err := c.store.Get(ctx, "tagver:"+tag)
	if err != nil {
		return 1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Key computes the full cache key for (tag, keyFields) under the current
// tag version.
func (c *TagCache) Key(ctx context.Context, tag string, keyFields any) (string, error) {
	digest, err := canon.SHA1Hex(keyFields)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d:%s", tag, c.Version(ctx, tag), digest[:12]), nil
}

// GetOrSet returns the cached value for (tag, keyFields), invoking loader on
// a miss and storing its JSON encoding with a jittered TTL. The second return
// reports a cache hit. KV failures degrade to loader calls with skipped
// writes.
func (c *TagCache) GetOrSet(ctx context.Context, tag string, keyFields any, ttl time.Duration, loader func(context.Context) (any, error)) (json.RawMessage, bool, error) {
	key, err := c.Key(ctx, tag, keyFields)
	if err != nil {
		return nil, false, err
	}
	if cached, err := c.store.Get(ctx, key); err == nil {
		c.hit(tag)
		return markCacheHit([]byte(cached)), true, nil
	}
	c.miss(tag)
	value, err := loader(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("tagcache %s: encode: %w", tag, err)
	}
	if ttl > 0 {
		// Best effort: a failed write is a future miss, not an error.
		_ = c.store.SetEX(ctx, key, string(raw), JitterTTL(key, ttl))
	}
	return raw, false, nil
}

// GetOrSetKeyed is GetOrSet with a caller-assembled key of the form
// "{prefix}:v{version(tag)}:{suffix}", for callers whose key layout carries
// readable fields instead of a hashed field set.
func (c *TagCache) GetOrSetKeyed(ctx context.Context, tag, prefix, suffix string, ttl time.Duration, loader func(context.Context) (any, error)) (json.RawMessage, bool, error) {
	key := fmt.Sprintf("%s:v%d:%s", prefix, c.Version(ctx, tag), suffix)
	if cached, err := c.store.Get(ctx, key); err == nil {
		c.hit(tag)
		return markCacheHit([]byte(cached)), true, nil
	}
	c.miss(tag)
	value, err := loader(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("tagcache %s: encode: %w", tag, err)
	}
	if ttl > 0 {
		_ = c.store.SetEX(ctx, key, string(raw), JitterTTL(key, ttl))
	}
	return raw, false, nil
}

// Invalidate bumps the tag version and returns it. Old generations expire by
// their own TTLs; no value key is ever deleted.
func (c *TagCache) Invalidate(ctx context.Context, tag string) (int64, error) {
	res, err := c.store.Run(ctx, bumpScript, []string{"tagver:" + tag})
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", tag, err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("invalidate %s: unexpected reply %T", tag, res)
	}
	if c.metrics != nil {
		c.metrics.Invalidations.WithLabelValues(tag).Inc()
	}
	return n, nil
}

// GetOrSetAs is GetOrSet decoded into a concrete type.
func GetOrSetAs[T any](ctx context.Context, c *TagCache, tag string, keyFields any, ttl time.Duration, loader func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	raw, hit, err := c.GetOrSet(ctx, tag, keyFields, ttl, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("tagcache %s: decode: %w", tag, err)
	}
	return out, hit, nil
}

// JitterTTL spreads a TTL by up to ±10%, deterministically in the key, so
// entries written together do not expire together.
func JitterTTL(key string, ttl time.Duration) time.Duration {
	sum := sha1.Sum([]byte(key))
	n := binary.BigEndian.Uint32(sum[:4])
	// Map to [-0.10, +0.10].
	frac := (float64(n)/float64(1<<32))*0.2 - 0.1
	return ttl + time.Duration(frac*float64(ttl))
}

// markCacheHit sets cache_hit=true on JSON object payloads so downstream
// consumers can report hit ratios without a side channel.
func markCacheHit(raw []byte) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}
	obj["cache_hit"] = json.RawMessage("true")
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func (c *TagCache) hit(tag string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(tag).Inc()
	}
}

func (c *TagCache) miss(tag string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(tag).Inc()
	}
}
