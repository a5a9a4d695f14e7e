package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/kv"
)

func newTestCache(t *testing.T) (*TagCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(kv.New(client, time.Second), nil), mr
}

func TestGetOrSetMissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]any{"mean": 87.5}, nil
	}

	raw, hit, err := c.GetOrSet(ctx, "grades", map[string]string{"course": "CS 3110"}, time.Hour, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, calls)
	require.JSONEq(t, `{"mean":87.5}`, string(raw))

	raw, hit, err = c.GetOrSet(ctx, "grades", map[string]string{"course": "CS 3110"}, time.Hour, loader)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, calls, "loader must not run on a hit")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, true, decoded["cache_hit"], "hits are stamped with cache_hit")
}

func TestInvalidateBumpsVersion(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.EqualValues(t, 1, c.Version(ctx, "grades"), "missing tagver reads as 1")

	v, err := c.Invalidate(ctx, "grades")
	require.NoError(t, err)
	require.EqualValues(t, 2, v, "first bump lands on 2")
	require.EqualValues(t, 2, c.Version(ctx, "grades"))

	v, err = c.Invalidate(ctx, "grades")
	require.NoError(t, err)
	require.EqualValues(t, 3, v)
}

func TestInvalidateRotatesKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"n": calls}, nil
	}

	_, _, err := c.GetOrSet(ctx, "roster", "FA26", time.Hour, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = c.Invalidate(ctx, "roster")
	require.NoError(t, err)

	raw, hit, err := c.GetOrSet(ctx, "roster", "FA26", time.Hour, loader)
	require.NoError(t, err)
	require.False(t, hit, "a bump must rotate every key under the tag")
	require.Equal(t, 2, calls)
	require.JSONEq(t, `{"n":2}`, string(raw))
}

func TestKeyShape(t *testing.T) {
	c, _ := newTestCache(t)
	key, err := c.Key(context.Background(), "professors", map[string]string{"course": "CS 3110"})
	require.NoError(t, err)
	require.Regexp(t, `^professors:v1:[0-9a-f]{12}$`, key)
}

func TestGetOrSetDegradesWhenRedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()
	ctx := context.Background()

	calls := 0
	raw, hit, err := c.GetOrSet(ctx, "grades", "CS 3110", time.Hour, func(context.Context) (any, error) {
		calls++
		return map[string]string{"ok": "yes"}, nil
	})
	require.NoError(t, err, "a KV outage is a miss, never a request failure")
	require.False(t, hit)
	require.Equal(t, 1, calls)
	require.JSONEq(t, `{"ok":"yes"}`, string(raw))
}

func TestGetOrSetAs(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type stats struct {
		Mean float64 `json:"mean"`
	}
	got, hit, err := GetOrSetAs(ctx, c, "grades", "CS 3110", time.Hour, func(context.Context) (stats, error) {
		return stats{Mean: 91.2}, nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 91.2, got.Mean)

	got, hit, err = GetOrSetAs(ctx, c, "grades", "CS 3110", time.Hour, func(context.Context) (stats, error) {
		t.Fatal("loader must not run on a hit")
		return stats{}, nil
	})
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 91.2, got.Mean)
}

func TestJitterTTL(t *testing.T) {
	ttl := time.Hour
	seen := map[time.Duration]bool{}
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		j := JitterTTL(key, ttl)
		require.GreaterOrEqual(t, j, time.Duration(float64(ttl)*0.9))
		require.LessOrEqual(t, j, time.Duration(float64(ttl)*1.1))
		require.Equal(t, j, JitterTTL(key, ttl), "jitter is deterministic per key")
		seen[j] = true
	}
	require.Greater(t, len(seen), 1, "distinct keys should spread")
}
