// Package advisor orchestrates a chat turn: conversation state, parallel
// context fetch, budgeted prompt assembly, deadline-routed streaming
// generation, and schema-enforced structured output.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/llm"
	"github.com/campusgraph/advisor/internal/schema"
	"github.com/campusgraph/advisor/internal/store"
	"github.com/campusgraph/advisor/internal/stream"
)

type (
	// ChatRequest is one user turn.
	ChatRequest struct {
		Message            string                `json:"message" validate:"required,min=1,max=500"`
		ConversationID     string                `json:"conversation_id,omitempty"`
		StudentProfile     *store.StudentProfile `json:"student_profile,omitempty"`
		ContextPreferences map[string]bool       `json:"context_preferences,omitempty"`
		MaxRecommendations int                   `json:"max_recommendations,omitempty" validate:"omitempty,min=1,max=10"`
	}

	// Orchestrator drives the chat pipeline.
	Orchestrator struct {
		conversations *store.ConversationStore
		profiles      *store.ProfileStore
		fetcher       *contextsrc.Fetcher
		budget        *contextsrc.TokenBudgetManager
		router        *llm.Router
		enforcer      *schema.Enforcer
		kv            *kv.Store
		metrics       *Metrics
		maxTokens     int
	}
)

const (
	// slowGapThreshold flags inter-token stalls for monitoring without
	// interrupting the stream.
	slowGapThreshold = 1500 * time.Millisecond

	// sloFirstToken and sloTotal are the latency targets reported in the
	// done chunk.
	sloFirstToken = 500 * time.Millisecond
	sloTotal      = 500 * time.Millisecond

	// generationMaxTokens bounds the streamed completion.
	generationMaxTokens = 700

	// contextRecordTTL keeps the per-conversation context snapshot that the
	// explain endpoint reads.
	contextRecordTTL = time.Hour
)

var tracer = otel.Tracer("advisor")

// NewOrchestrator wires the chat pipeline. metrics may be nil.
func NewOrchestrator(conversations *store.ConversationStore, profiles *store.ProfileStore, fetcher *contextsrc.Fetcher, budget *contextsrc.TokenBudgetManager, router *llm.Router, enforcer *schema.Enforcer, kvStore *kv.Store, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		profiles:      profiles,
		fetcher:       fetcher,
		budget:        budget,
		router:        router,
		enforcer:      enforcer,
		kv:            kvStore,
		metrics:       metrics,
		maxTokens:     generationMaxTokens,
	}
}

// Chat runs one turn and returns the chunk stream. The channel is closed
// after the terminal chunk (done or error). Cancelling ctx stops generation.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) <-chan stream.Chunk {
	out := make(chan stream.Chunk, 16)
	go func() {
		defer close(out)
		requestID := uuid.NewString()
		ctx := log.With(ctx, log.KV{K: "request_id", V: requestID})
		if err := o.chat(ctx, req, requestID, out); err != nil {
			log.Errorf(ctx, err, "advisor: chat failed")
			o.count("error")
			out <- stream.ErrorChunk(errorCode(err), requestID)
		}
	}()
	return out
}

func (o *Orchestrator) chat(ctx context.Context, req ChatRequest, requestID string, out chan<- stream.Chunk) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "advisor.chat",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("advisor.request_id", requestID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat turn failed")
		} else {
			span.SetStatus(codes.Ok, "ok")
		}
		span.End()
	}()
	if len(req.Message) == 0 || len(req.Message) > 500 {
		return fmt.Errorf("invalid_message: length %d", len(req.Message))
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	state := o.conversations.LoadOrCreate(ctx, conversationID)
	state.Profile = o.resolveProfile(ctx, state, req.StudentProfile)

	out <- stream.NewChunk(stream.ChunkContextInfo, "", map[string]any{
		"status":          "loading_context",
		"conversation_id": conversationID,
	})

	sources := o.fetcher.FetchAll(ctx, req.Message, state.Profile, enabledKinds(req.ContextPreferences))
	span.SetAttributes(attribute.Int("advisor.context_sources", len(sources)))
	if o.metrics != nil {
		o.metrics.ContextSources.Observe(float64(len(sources)))
	}
	out <- stream.NewChunk(stream.ChunkContextInfo, "", map[string]any{
		"status":          "building_prompt",
		"providers":       len(sources),
		"conversation_id": conversationID,
	})

	prompt := BuildPrompt(o.budget, state, sources, req.Message)

	text, provider, fallback, firstToken, err := o.generate(ctx, prompt, out)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("advisor.llm_provider", provider),
		attribute.Bool("advisor.fallback_used", fallback),
	)
	if o.metrics != nil {
		o.metrics.FirstToken.Observe(firstToken.Seconds())
		if fallback {
			o.metrics.FallbackUsed.Inc()
		}
	}

	now := time.Now()
	state.Append(store.Message{Role: store.RoleUser, Content: req.Message, TS: now, Tokens: contextsrc.EstimateTokens(req.Message)}, store.DefaultMaxMessages)
	state.Append(store.Message{Role: store.RoleAssistant, Content: text, TS: now, Tokens: contextsrc.EstimateTokens(text)}, store.DefaultMaxMessages)

	resp, validated := o.enforce(ctx, prompt, text)
	if n := req.MaxRecommendations; n > 0 && n <= 10 && len(resp.Recommendations) > n {
		resp.Recommendations = resp.Recommendations[:n]
	}
	state.ActiveRecommendations = resp.Recommendations
	if err := o.conversations.Save(ctx, state); err != nil {
		log.Warnf(ctx, "advisor: save conversation: %v", err)
	}
	o.saveContextRecord(ctx, conversationID, sources)

	total := time.Since(start)
	if o.metrics != nil {
		o.metrics.Duration.Observe(total.Seconds())
	}
	o.count("ok")
	out <- stream.NewChunk(stream.ChunkDone, "stream_complete", map[string]any{
		"conversation_id":     conversationID,
		"request_id":          requestID,
		"total_time_ms":       total.Milliseconds(),
		"llm_provider":        provider,
		"fallback_used":       fallback,
		"validation_passed":   validated,
		"recommended_courses": recommendedCourses(resp, validated),
		"provenance_info":     provenanceInfo(sources),
		"slo": map[string]any{
			"first_token_ok": firstToken < sloFirstToken,
			"total_ok":       total < sloTotal,
		},
	})
	return nil
}

// generate streams the completion, forwarding tokens as chunks and watching
// inter-token gaps. Returns the full text, backend name, fallback flag, and
// first-token latency.
func (o *Orchestrator) generate(ctx context.Context, prompt string, out chan<- stream.Chunk) (string, string, bool, time.Duration, error) {
	start := time.Now()
	var (
		text       []byte
		provider   string
		fallback   bool
		firstToken time.Duration
		lastToken  = start
	)
	for ev := range o.router.Stream(ctx, prompt, o.maxTokens) {
		if ev.Err != nil {
			return "", ev.Provider, ev.Fallback, firstToken, fmt.Errorf("generation_failed: %w", ev.Err)
		}
		if ev.Done {
			provider, fallback = ev.Provider, ev.Fallback
			break
		}
		now := time.Now()
		if firstToken == 0 {
			firstToken = now.Sub(start)
		} else if gap := now.Sub(lastToken); gap > slowGapThreshold {
			if o.metrics != nil {
				o.metrics.SlowGaps.Inc()
			}
			log.Debugf(ctx, "advisor: slow inter-token gap %s from %s", gap, ev.Provider)
		}
		lastToken = now
		provider, fallback = ev.Provider, ev.Fallback
		text = append(text, ev.Token...)
		out <- stream.NewChunk(stream.ChunkToken, ev.Token, map[string]any{
			"llm_provider": ev.Provider,
			"fallback":     ev.Fallback,
		})
	}
	if len(text) == 0 {
		return "", provider, fallback, firstToken, errors.New("generation_failed: empty stream")
	}
	return string(text), provider, fallback, firstToken, nil
}

// enforce validates the generated tail JSON, re-asking once through the
// structured completion path and finally degrading to regex extraction.
// The second return reports whether strict validation passed.
func (o *Orchestrator) enforce(ctx context.Context, prompt, text string) (*schema.AdvisorResponse, bool) {
	resp, err := o.enforcer.Enforce(text, false)
	if err == nil {
		return resp, true
	}
	log.Infof(ctx, "advisor: first-pass enforcement failed: %v", err)

	reask, _, rerr := o.router.CompleteJSON(ctx, schema.ReaskPrompt(prompt), o.maxTokens)
	if rerr == nil {
		if resp, err := o.enforcer.Enforce(reask, true); err == nil {
			return resp, true
		} else {
			log.Infof(ctx, "advisor: re-ask enforcement failed: %v", err)
		}
	} else {
		log.Warnf(ctx, "advisor: re-ask completion failed: %v", rerr)
	}
	return o.enforcer.FallbackExtract(text), false
}

// resolveProfile merges an incoming profile atomically, falling back to the
// stored profile or a minimal default.
func (o *Orchestrator) resolveProfile(ctx context.Context, state *store.ConversationState, incoming *store.StudentProfile) *store.StudentProfile {
	if incoming != nil && incoming.ID != "" {
		incoming.Normalize()
		merged, err := o.profiles.MergeAtomic(ctx, incoming)
		if err == nil {
			return merged
		}
		log.Warnf(ctx, "advisor: profile merge: %v", err)
		return incoming
	}
	if state.Profile != nil {
		return state.Profile
	}
	return &store.StudentProfile{}
}

func (o *Orchestrator) saveContextRecord(ctx context.Context, conversationID string, sources []contextsrc.Source) {
	if o.kv == nil {
		return
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return
	}
	_ = o.kv.SetEX(ctx, contextRecordKey(conversationID), string(raw), contextRecordTTL)
}

func contextRecordKey(conversationID string) string {
	return "chatctx:" + conversationID
}

func (o *Orchestrator) count(outcome string) {
	if o.metrics != nil {
		o.metrics.Requests.WithLabelValues(outcome).Inc()
	}
}

// enabledKinds converts request preferences to provider kinds. Absent keys
// leave providers enabled.
func enabledKinds(prefs map[string]bool) map[contextsrc.Kind]bool {
	if len(prefs) == 0 {
		return nil
	}
	out := make(map[contextsrc.Kind]bool, len(prefs))
	for k, v := range prefs {
		out[contextsrc.Kind(k)] = v
	}
	return out
}

func recommendedCourses(resp *schema.AdvisorResponse, validated bool) []map[string]any {
	out := make([]map[string]any, 0, len(resp.Recommendations))
	for _, rec := range resp.Recommendations {
		out = append(out, map[string]any{
			"course_code":       rec.CourseCode,
			"title":             rec.Title,
			"rationale":         rec.Rationale,
			"priority":          rec.Priority,
			"next_action":       rec.NextAction,
			"validation_passed": validated,
		})
	}
	return out
}

func provenanceInfo(sources []contextsrc.Source) []map[string]any {
	out := make([]map[string]any, 0, len(sources))
	for _, src := range sources {
		out = append(out, map[string]any{
			"kind":               src.Kind,
			"source_tag":         src.SourceTag,
			"version":            src.Version,
			"cache_hit":          src.CacheHit,
			"processing_time_ms": src.ProcessingMS,
		})
	}
	return out
}

// errorCode maps an internal error to a stable client-facing code.
func errorCode(err error) string {
	msg := err.Error()
	for _, code := range []string{"invalid_message", "generation_failed"} {
		if len(msg) >= len(code) && msg[:len(code)] == code {
			return code
		}
	}
	return "internal_error"
}
