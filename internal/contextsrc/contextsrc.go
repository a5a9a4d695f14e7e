// Package contextsrc gathers advisory context for a chat turn. Each provider
// answers one question (similar courses, prerequisite structure, professor
// intel, difficulty, grades, enrollment, schedule fit, degree progress, time
// conflicts) under its own deadline; the fetcher runs them as siblings and
// returns whatever arrived in time.
package contextsrc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// Kind identifies a context provider.
	Kind string

	// Payload is a provider's raw answer plus cache attribution.
	Payload struct {
		Data       map[string]any
		Confidence float64
		CacheHit   bool
		Version    int64
		SourceTag  string
	}

	// Source is one provider's contribution to a chat turn, annotated with
	// timing and token accounting for prompt budgeting.
	Source struct {
		Kind         Kind           `json:"kind"`
		Data         map[string]any `json:"data"`
		Confidence   float64        `json:"confidence"`
		TokenCount   int            `json:"token_count"`
		ProcessingMS int64          `json:"processing_time_ms"`
		CacheHit     bool           `json:"cache_hit"`
		Version      int64          `json:"version"`
		SourceTag    string         `json:"source_tag"`
	}

	// Provider fetches one kind of context. A nil payload with nil error
	// means the provider has nothing to contribute for this message.
	Provider interface {
		Kind() Kind
		Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error)
	}

	// Fetcher runs providers in parallel with per-provider deadlines.
	Fetcher struct {
		providers []Provider
		timeout   time.Duration
		metrics   *Metrics
	}

	// Metrics carries provider instrumentation. Nil disables recording.
	Metrics struct {
		Duration *prometheus.HistogramVec
		Failures *prometheus.CounterVec
	}
)

// Provider kinds.
const (
	KindVectorSearch      Kind = "vector_search"
	KindGraphAnalysis     Kind = "graph_analysis"
	KindProfessorIntel    Kind = "professor_intel"
	KindDifficultyData    Kind = "difficulty_data"
	KindGradesData        Kind = "grades_data"
	KindEnrollmentData    Kind = "enrollment_data"
	KindScheduleFit       Kind = "schedule_fit"
	KindDegreeProgress    Kind = "degree_progress"
	KindConflictDetection Kind = "conflict_detection"
)

// DefaultTimeout bounds each provider fetch.
const DefaultTimeout = 150 * time.Millisecond

// maxMentionCodes caps course codes extracted from a message or profile.
const maxMentionCodes = 5

// NewMetrics registers the provider collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "context_provider_seconds",
			Help:    "Wall-clock duration of provider fetches.",
			Buckets: []float64{.005, .01, .025, .05, .1, .15, .25, .5},
		}, []string{"kind", "outcome"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "context_provider_failures_total",
			Help: "Provider fetches that failed or timed out.",
		}, []string{"kind", "reason"}),
	}
	reg.MustRegister(m.Duration, m.Failures)
	return m
}

// NewFetcher builds a fetcher over the given providers. timeout <= 0 takes
// the default; metrics may be nil.
func NewFetcher(providers []Provider, timeout time.Duration, metrics *Metrics) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{providers: providers, timeout: timeout, metrics: metrics}
}

// FetchAll runs every enabled provider concurrently and returns the sources
// that completed inside their deadlines, in provider registration order.
// Failures and timeouts are recorded and skipped; they never fail the fetch.
func (f *Fetcher) FetchAll(ctx context.Context, message string, profile *store.StudentProfile, enabled map[Kind]bool) []Source {
	results := make([]*Source, len(f.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range f.providers {
		if enabled != nil {
			if on, ok := enabled[p.Kind()]; ok && !on {
				continue
			}
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()
			start := time.Now()
			payload, err := p.Fetch(pctx, message, profile)
			elapsed := time.Since(start)
			switch {
			case err != nil:
				f.record(p.Kind(), "error", elapsed)
				log.Debugf(ctx, "contextsrc: %s failed after %s: %v", p.Kind(), elapsed, err)
			case payload == nil || len(payload.Data) == 0:
				f.record(p.Kind(), "empty", elapsed)
			default:
				f.record(p.Kind(), "ok", elapsed)
				results[i] = &Source{
					Kind:         p.Kind(),
					Data:         payload.Data,
					Confidence:   payload.Confidence,
					TokenCount:   EstimateTokens(renderData(payload.Data)),
					ProcessingMS: elapsed.Milliseconds(),
					CacheHit:     payload.CacheHit,
					Version:      payload.Version,
					SourceTag:    payload.SourceTag,
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		if r != nil {
			sources = append(sources, *r)
		}
	}
	return sources
}

func (f *Fetcher) record(kind Kind, outcome string, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.Duration.WithLabelValues(string(kind), outcome).Observe(elapsed.Seconds())
	if outcome == "error" {
		f.metrics.Failures.WithLabelValues(string(kind), outcome).Inc()
	}
}

// EstimateTokens approximates the token count of s as len/4, floored at 1.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// candidateCodes extracts course codes from the message, falling back to the
// profile's current then planned courses, capped.
func candidateCodes(message string, profile *store.StudentProfile) []course.Code {
	codes := course.ExtractMentions(message, maxMentionCodes)
	if len(codes) > 0 || profile == nil {
		return codes
	}
	seen := make(map[course.Code]bool)
	for _, set := range [][]course.Code{profile.Current, profile.Planned} {
		for _, c := range set {
			if seen[c] || len(codes) == maxMentionCodes {
				continue
			}
			seen[c] = true
			codes = append(codes, c)
		}
	}
	return codes
}

func renderData(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
