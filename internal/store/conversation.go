package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/schema"
)

type (
	// Role identifies a message author.
	Role string

	// Message is one conversation turn.
	Message struct {
		Role    Role      `json:"role"`
		Content string    `json:"content"`
		TS      time.Time `json:"ts"`
		Tokens  int       `json:"tokens,omitempty"`
	}

	// ConversationState is the durable per-conversation record. Message
	// history is bounded: appends past MaxMessages evict the oldest.
	ConversationState struct {
		ID                    string                  `json:"id"`
		Profile               *StudentProfile         `json:"profile,omitempty"`
		Messages              []Message               `json:"messages"`
		ActiveRecommendations []schema.Recommendation `json:"active_recommendations,omitempty"`
		CreatedAt             time.Time               `json:"created_at"`
		UpdatedAt             time.Time               `json:"updated_at"`
	}

	// ConversationStore owns conversation:{id} keys. Writes are
	// last-writer-wins per id; the embedded profile is mirrored into the
	// profile store for cross-session continuity.
	ConversationStore struct {
		kv          *kv.Store
		profiles    *ProfileStore
		ttl         time.Duration
		maxMessages int
	}
)

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultMaxMessages bounds the stored message history.
const DefaultMaxMessages = 20

// NewConversationStore builds a conversation store. profiles may be nil to
// disable profile mirroring (tests).
func NewConversationStore(store *kv.Store, profiles *ProfileStore, ttl time.Duration, maxMessages int) *ConversationStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationStore{kv: store, profiles: profiles, ttl: ttl, maxMessages: maxMessages}
}

func conversationKey(id string) string { return "conversation:" + id }

// Append adds a message, evicting the oldest past the bound.
func (c *ConversationState) Append(msg Message, max int) {
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) > max {
		c.Messages = c.Messages[len(c.Messages)-max:]
	}
}

// Tail returns the last n messages.
func (c *ConversationState) Tail(n int) []Message {
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Load reads a conversation, trims history to the bound, and refreshes the
// TTL. Returns kv.ErrNotFound for unknown ids.
func (s *ConversationStore) Load(ctx context.Context, id string) (*ConversationState, error) {
	raw, err := s.kv.Get(ctx, conversationKey(id))
	if err != nil {
		return nil, err
	}
	var state ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("conversation %s: decode: %w", id, err)
	}
	if len(state.Messages) > s.maxMessages {
		state.Messages = state.Messages[len(state.Messages)-s.maxMessages:]
	}
	_ = s.kv.Expire(ctx, conversationKey(id), s.ttl)
	return &state, nil
}

// LoadOrCreate returns the stored conversation or a fresh one with the given
// id. KV unavailability degrades to a fresh in-memory state.
func (s *ConversationStore) LoadOrCreate(ctx context.Context, id string) *ConversationState {
	state, err := s.Load(ctx, id)
	if err == nil {
		return state
	}
	// Unknown id and KV outage both degrade to a fresh in-memory state rather
	// than failing the chat.
	return &ConversationState{ID: id, CreatedAt: time.Now()}
}

// Save persists the conversation (last writer wins) and mirrors the embedded
// profile for cross-session continuity. Either write failing is non-fatal to
// the caller; the error is returned for logging only.
func (s *ConversationStore) Save(ctx context.Context, state *ConversationState) error {
	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}
	if len(state.Messages) > s.maxMessages {
		state.Messages = state.Messages[len(state.Messages)-s.maxMessages:]
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation %s: encode: %w", state.ID, err)
	}
	if err := s.kv.SetEX(ctx, conversationKey(state.ID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("conversation %s: save: %w", state.ID, err)
	}
	if s.profiles != nil && state.Profile != nil && state.Profile.ID != "" {
		if _, err := s.profiles.MergeAtomic(ctx, state.Profile); err != nil {
			return fmt.Errorf("conversation %s: mirror profile: %w", state.ID, err)
		}
	}
	return nil
}
