package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusgraph/advisor/internal/advisor"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/stream"
)

// handleChat runs one chat turn over Server-Sent Events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req advisor.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	channel := stream.NewChannel(stream.Options{
		HeartbeatInterval: s.Heartbeat,
		Disconnected:      func() bool { return ctx.Err() != nil },
	})
	for frame := range channel.Run(ctx, s.Orchestrator.Chat(ctx, req)) {
		if err := writeSSE(w, frame); err != nil {
			// Broken pipe: the context cancel tears down the producers.
			return
		}
		flusher.Flush()
	}
}

// writeSSE renders one frame in SSE wire format. Multi-line data is emitted
// as repeated data: lines so literal content survives framing.
func writeSSE(w http.ResponseWriter, f stream.Frame) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", f.Event)
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	if f.RetryMS > 0 {
		fmt.Fprintf(&b, "retry: %d\n", f.RetryMS)
	}
	for _, line := range strings.Split(f.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := w.Write([]byte(b.String()))
	return err
}

// handleExplain explains a past recommendation.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req advisor.ExplainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.Orchestrator.Explain(r.Context(), req)
	switch {
	case errors.Is(err, advisor.ErrConversationNotFound):
		writeError(w, r, http.StatusNotFound, "conversation_not_found", req.ConversationID)
	case errors.Is(err, advisor.ErrRecommendationNotFound):
		writeError(w, r, http.StatusNotFound, "recommendation_not_found",
			fmt.Sprintf("index %d", req.RecommendationIndex))
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "explain_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleConversation returns a bounded summary of a stored conversation.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.Conversations.Load(r.Context(), id)
	if errors.Is(err, kv.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "conversation_not_found", id)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "conversation_load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                     state.ID,
		"message_count":          len(state.Messages),
		"messages":               state.Tail(10),
		"active_recommendations": state.ActiveRecommendations,
		"created_at":             state.CreatedAt,
		"updated_at":             state.UpdatedAt,
	})
}
