package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/kv"
)

func TestAppendEvictsOldest(t *testing.T) {
	state := &ConversationState{ID: "conv-1"}
	for i := 0; i < 7; i++ {
		state.Append(Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}, 5)
	}
	require.Len(t, state.Messages, 5)
	require.Equal(t, "m2", state.Messages[0].Content)
	require.Equal(t, "m6", state.Messages[4].Content)
}

func TestTail(t *testing.T) {
	state := &ConversationState{}
	for i := 0; i < 4; i++ {
		state.Append(Message{Content: fmt.Sprintf("m%d", i)}, 20)
	}
	require.Len(t, state.Tail(2), 2)
	require.Equal(t, "m3", state.Tail(2)[1].Content)
	require.Len(t, state.Tail(10), 4)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := NewConversationStore(newTestKV(t), nil, time.Hour, 3)
	ctx := context.Background()

	state := &ConversationState{ID: "conv-2"}
	for i := 0; i < 5; i++ {
		state.Messages = append(state.Messages, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i), TS: time.Now().UTC()})
	}
	require.NoError(t, store.Save(ctx, state))
	require.False(t, state.UpdatedAt.IsZero())
	require.False(t, state.CreatedAt.IsZero())

	loaded, err := store.Load(ctx, "conv-2")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3, "history is trimmed to the bound")
	require.Equal(t, "m2", loaded.Messages[0].Content)
	require.Equal(t, "m4", loaded.Messages[2].Content)
}

func TestLoadUnknownID(t *testing.T) {
	store := NewConversationStore(newTestKV(t), nil, time.Hour, 20)
	_, err := store.Load(context.Background(), "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestLoadOrCreateFreshState(t *testing.T) {
	store := NewConversationStore(newTestKV(t), nil, time.Hour, 20)
	state := store.LoadOrCreate(context.Background(), "fresh-1")
	require.Equal(t, "fresh-1", state.ID)
	require.Empty(t, state.Messages)
	require.False(t, state.CreatedAt.IsZero())
}

func TestLoadOrCreateKVOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewConversationStore(kv.New(client, time.Second), nil, time.Hour, 20)

	mr.Close()
	state := store.LoadOrCreate(context.Background(), "conv-down")
	require.Equal(t, "conv-down", state.ID, "a KV outage still yields a usable fresh state")
	require.Empty(t, state.Messages)
	require.False(t, state.CreatedAt.IsZero())
}

func TestSaveMirrorsProfile(t *testing.T) {
	kvStore := newTestKV(t)
	profiles := NewProfileStore(kvStore, time.Hour)
	store := NewConversationStore(kvStore, profiles, time.Hour, 20)
	ctx := context.Background()

	state := &ConversationState{
		ID:      "conv-3",
		Profile: &StudentProfile{ID: "stu-9", Major: "CS"},
	}
	require.NoError(t, store.Save(ctx, state))

	mirrored, err := profiles.Get(ctx, "stu-9")
	require.NoError(t, err)
	require.Equal(t, "CS", mirrored.Major)
}
