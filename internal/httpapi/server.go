package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"goa.design/clue/log"

	"github.com/campusgraph/advisor/internal/advisor"
	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/calendar"
	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/graph"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// Pinger reports backend availability for the health endpoint.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// Server aggregates the handlers' dependencies.
	Server struct {
		Orchestrator  *advisor.Orchestrator
		Conversations *store.ConversationStore
		Profiles      *store.ProfileStore
		TagCache      *cache.TagCache
		Grades        *contextsrc.GradesContext
		VectorCtx     *contextsrc.VectorContext
		GraphCtx      *contextsrc.GraphContext
		Engine        graph.Engine
		Centrality    *graph.CentralityService
		Communities   *graph.CommunityService
		Pathfinding   *graph.PathfindingService
		Calendar      *calendar.Exporter

		// GraphPing and VectorPing drive the health services map; either may
		// be nil when the backend is mocked in-process.
		GraphPing  Pinger
		VectorPing Pinger

		Version   string
		Registry  *prometheus.Registry
		Heartbeat time.Duration
	}
)

// Router builds the chi router with the full API surface mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logContext)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/explain", s.handleExplain)
		r.Get("/chat/conversation/{id}", s.handleConversation)

		r.Post("/rag_with_graph", s.handleRAGWithGraph)
		r.Post("/prerequisite_path", s.handlePrerequisitePath)
		r.Post("/centrality", s.handleCentrality)
		r.Post("/communities", s.handleCommunities)
		r.Post("/shortest_path", s.handleShortestPath)
		r.Post("/alternative_paths", s.handleAlternativePaths)
		r.Post("/semester_plan", s.handleSemesterPlan)
		r.Post("/course_recommendations", s.handleCourseRecommendations)
		r.Post("/graph/subgraph", s.handleSubgraph)
	})

	r.Get("/grades/{course_code}", s.handleGrades)
	r.Post("/admin/cache/invalidate/{tag}", s.handleInvalidate)
	r.Get("/profiles/{student_id}", s.handleGetProfile)
	r.Put("/profiles/{student_id}", s.handlePutProfile)
	r.Patch("/profiles/{student_id}", s.handlePatchProfile)
	r.Get("/calendar/export.ics", s.handleCalendarExport)
	return r
}

// logContext threads the request id into the clue log context.
func logContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = log.With(ctx, log.KV{K: "req_id", V: id})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleHealth pings the external backends in parallel and reports their
// availability alongside the build version.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	type ping struct {
		name string
		ok   bool
	}
	checks := []struct {
		name   string
		pinger Pinger
	}{
		{"neo4j", s.GraphPing},
		{"qdrant", s.VectorPing},
	}
	results := make(chan ping, len(checks))
	for _, c := range checks {
		go func() {
			if c.pinger == nil {
				results <- ping{c.name, true}
				return
			}
			results <- ping{c.name, c.pinger.Ping(ctx) == nil}
		}()
	}
	services := make(map[string]bool, len(checks))
	for range checks {
		p := <-results
		services[p.name] = p.ok
	}
	status := "ok"
	for _, ok := range services {
		if !ok {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"services":  services,
		"version":   s.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
