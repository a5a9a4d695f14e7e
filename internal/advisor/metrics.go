package advisor

import "github.com/prometheus/client_golang/prometheus"

type (
	// Metrics carries the chat pipeline instrumentation. Nil disables
	// recording.
	Metrics struct {
		Requests       *prometheus.CounterVec
		Duration       prometheus.Histogram
		FirstToken     prometheus.Histogram
		SlowGaps       prometheus.Counter
		FallbackUsed   prometheus.Counter
		ContextSources prometheus.Histogram
	}
)

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total", Help: "Chat requests by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_duration_seconds",
			Help:    "End-to-end chat latency.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}),
		FirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_first_token_seconds",
			Help:    "Latency to the first streamed token.",
			Buckets: []float64{.05, .1, .2, .35, .5, 1, 2},
		}),
		SlowGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_stream_gap_total", Help: "Inter-token gaps above the slow-gap threshold.",
		}),
		FallbackUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_fallback_total", Help: "Chats answered by the fallback backend.",
		}),
		ContextSources: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_context_sources",
			Help:    "Context providers contributing per chat.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.FirstToken, m.SlowGaps, m.FallbackUsed, m.ContextSources)
	return m
}
