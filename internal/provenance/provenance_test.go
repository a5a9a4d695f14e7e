package provenance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/kv"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(kv.New(client, time.Second), nil), mr
}

func TestPutGetRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	fetched := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	err := store.Put(ctx, Tag{
		Source:      "grades",
		EntityID:    "CS 3110",
		Version:     "v3",
		DataVersion: "abc123",
		FetchedAt:   fetched,
		TTLSeconds:  3600,
		SoftTTL:     600,
		Meta:        map[string]any{"rows": 42.0},
	})
	require.NoError(t, err)

	tag, err := store.Get(ctx, "grades", "CS 3110")
	require.NoError(t, err)
	require.Equal(t, "grades", tag.Source)
	require.Equal(t, "CS 3110", tag.EntityID)
	require.Equal(t, "v3", tag.Version)
	require.Equal(t, "abc123", tag.DataVersion)
	require.True(t, tag.FetchedAt.Equal(fetched))
	require.NotNil(t, tag.ExpiresAt, "expiry derived from the TTL")
	require.True(t, tag.ExpiresAt.Equal(fetched.Add(time.Hour)))
	require.Equal(t, map[string]any{"rows": 42.0}, tag.Meta)
}

func TestPutRejectsMissingIdentity(t *testing.T) {
	store, _ := newTestStore(t)
	require.Error(t, store.Put(context.Background(), Tag{Source: "grades"}))
	require.Error(t, store.Put(context.Background(), Tag{EntityID: "CS 3110"}))
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "grades", "CS 9999")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestStalenessAt(t *testing.T) {
	fetched := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	exp := fetched.Add(time.Hour)
	tag := &Tag{FetchedAt: fetched, ExpiresAt: &exp, SoftTTL: 600}

	require.Equal(t, Fresh, tag.StalenessAt(fetched.Add(5*time.Minute)))
	require.Equal(t, SoftStale, tag.StalenessAt(fetched.Add(10*time.Minute)), "soft boundary is inclusive")
	require.Equal(t, SoftStale, tag.StalenessAt(fetched.Add(30*time.Minute)))
	require.Equal(t, HardStale, tag.StalenessAt(exp), "expiry boundary is inclusive")
	require.Equal(t, HardStale, tag.StalenessAt(exp.Add(time.Minute)))

	noSoft := &Tag{FetchedAt: fetched, ExpiresAt: &exp}
	require.Equal(t, Fresh, noSoft.StalenessAt(fetched.Add(59*time.Minute)))

	noExpiry := &Tag{FetchedAt: fetched}
	require.Equal(t, Fresh, noExpiry.StalenessAt(fetched.Add(1000*time.Hour)))
}

func TestCheckMissingIsHardStale(t *testing.T) {
	store, _ := newTestStore(t)
	require.Equal(t, HardStale, store.Check(context.Background(), "grades", "CS 9999"))
}

func TestCheckTracksClock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Put(ctx, Tag{
		Source: "grades", EntityID: "CS 3110", TTLSeconds: 3600, SoftTTL: 600,
	}))

	require.Equal(t, Fresh, store.Check(ctx, "grades", "CS 3110"))

	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	require.Equal(t, SoftStale, store.Check(ctx, "grades", "CS 3110"))

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.Equal(t, HardStale, store.Check(ctx, "grades", "CS 3110"))
}

func TestInvalidateOnVersionChange(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Tag{
		Source: "grades", EntityID: "CS 3110", Version: "v1", DataVersion: "d1", TTLSeconds: 3600,
	}))

	// Same versions: nothing to do.
	dropped, err := store.InvalidateOnVersionChange(ctx, "grades", "CS 3110", "v1", "d1", nil)
	require.NoError(t, err)
	require.False(t, dropped)

	// Version bump drops the tag and runs the cache hook.
	hookCalls := 0
	dropped, err = store.InvalidateOnVersionChange(ctx, "grades", "CS 3110", "v2", "d1",
		func(context.Context) error { hookCalls++; return nil })
	require.NoError(t, err)
	require.True(t, dropped)
	require.Equal(t, 1, hookCalls)

	_, err = store.Get(ctx, "grades", "CS 3110")
	require.ErrorIs(t, err, kv.ErrNotFound)

	// A missing tag is a no-op, not an error.
	dropped, err = store.InvalidateOnVersionChange(ctx, "grades", "CS 3110", "v3", "d1", nil)
	require.NoError(t, err)
	require.False(t, dropped)
}

func TestInvalidateOnDataVersionChange(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Tag{
		Source: "grades", EntityID: "CS 3110", Version: "v1", DataVersion: "d1", TTLSeconds: 3600,
	}))

	dropped, err := store.InvalidateOnVersionChange(ctx, "grades", "CS 3110", "v1", "d2", nil)
	require.NoError(t, err)
	require.True(t, dropped)
}

func TestPutPopulatesMonthlyIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	fetched := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, Tag{
		Source: "grades", EntityID: "CS 3110", FetchedAt: fetched, TTLSeconds: 3600,
	}))

	members, err := mr.SMembers("prov:index:grades:202608")
	require.NoError(t, err)
	require.Equal(t, []string{"CS 3110"}, members)
}
