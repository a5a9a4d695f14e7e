package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/schema"
)

type (
	// ExplainType selects the explanation facet.
	ExplainType string

	// ExplainRequest asks why a past recommendation was made.
	ExplainRequest struct {
		ConversationID      string      `json:"conversation_id" validate:"required"`
		RecommendationIndex int         `json:"recommendation_index" validate:"min=0"`
		ExplanationType     ExplainType `json:"explanation_type,omitempty"`
	}

	// ExplainResponse carries the recommendation context, contributing
	// provider kinds, a readable explanation, and a visualization payload.
	ExplainResponse struct {
		Recommendation schema.Recommendation `json:"recommendation"`
		Contributors   []contextsrc.Kind     `json:"contributors"`
		Explanation    string                `json:"explanation"`
		Visualization  map[string]any        `json:"visualization,omitempty"`
	}
)

// Explanation facets.
const (
	ExplainAttention      ExplainType = "attention"
	ExplainGraphPath      ExplainType = "graph_path"
	ExplainContextSources ExplainType = "context_sources"
	ExplainFull           ExplainType = "full"
)

// Explain errors surfaced to the API layer.
var (
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrRecommendationNotFound = errors.New("recommendation index out of range")
)

// Explain reconstructs why a recommendation was made using the stored
// conversation state and the per-conversation context snapshot.
func (o *Orchestrator) Explain(ctx context.Context, req ExplainRequest) (*ExplainResponse, error) {
	if req.ExplanationType == "" {
		req.ExplanationType = ExplainFull
	}
	state, err := o.conversations.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	if req.RecommendationIndex < 0 || req.RecommendationIndex >= len(state.ActiveRecommendations) {
		return nil, ErrRecommendationNotFound
	}
	rec := state.ActiveRecommendations[req.RecommendationIndex]
	sources := o.loadContextRecord(ctx, req.ConversationID)

	resp := &ExplainResponse{Recommendation: rec}
	for _, src := range sources {
		resp.Contributors = append(resp.Contributors, src.Kind)
	}
	resp.Explanation = explainText(rec, sources, req.ExplanationType)
	resp.Visualization = visualization(rec, sources, req.ExplanationType)
	return resp, nil
}

func (o *Orchestrator) loadContextRecord(ctx context.Context, conversationID string) []contextsrc.Source {
	if o.kv == nil {
		return nil
	}
	raw, err := o.kv.Get(ctx, contextRecordKey(conversationID))
	if errors.Is(err, kv.ErrNotFound) || err != nil {
		return nil
	}
	var sources []contextsrc.Source
	if json.Unmarshal([]byte(raw), &sources) != nil {
		return nil
	}
	return sources
}

func explainText(rec schema.Recommendation, sources []contextsrc.Source, t ExplainType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (priority %d) was recommended: %s", rec.CourseCode, rec.Priority, rec.Rationale)
	if t == ExplainAttention || t == ExplainFull {
		if len(sources) > 0 {
			b.WriteString(" The advice drew on ")
			for i, src := range sources {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s (confidence %.2f)", src.Kind, src.Confidence)
			}
			b.WriteString(".")
		} else {
			b.WriteString(" No context snapshot survives for this conversation.")
		}
	}
	return b.String()
}

// visualization shapes a renderer-friendly payload per facet. The graph_path
// facet surfaces the prerequisite chains the graph provider contributed.
func visualization(rec schema.Recommendation, sources []contextsrc.Source, t ExplainType) map[string]any {
	switch t {
	case ExplainGraphPath:
		for _, src := range sources {
			if src.Kind == contextsrc.KindGraphAnalysis {
				return map[string]any{"type": "graph_path", "course": rec.CourseCode, "data": src.Data}
			}
		}
		return map[string]any{"type": "graph_path", "course": rec.CourseCode}
	case ExplainContextSources, ExplainAttention, ExplainFull:
		contributions := make([]map[string]any, 0, len(sources))
		for _, src := range sources {
			contributions = append(contributions, map[string]any{
				"kind":       src.Kind,
				"confidence": src.Confidence,
				"cache_hit":  src.CacheHit,
				"source_tag": src.SourceTag,
			})
		}
		return map[string]any{"type": "context_sources", "contributions": contributions}
	default:
		return nil
	}
}
