// Command advisor runs the academic advisor HTTP service: the streaming chat
// endpoint, graph algorithm APIs, profile and grades resources, calendar
// export, and operational endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"goa.design/clue/log"

	"github.com/campusgraph/advisor/internal/advisor"
	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/calendar"
	"github.com/campusgraph/advisor/internal/config"
	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/degree"
	"github.com/campusgraph/advisor/internal/graph"
	"github.com/campusgraph/advisor/internal/httpapi"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/llm"
	"github.com/campusgraph/advisor/internal/mock"
	"github.com/campusgraph/advisor/internal/provenance"
	"github.com/campusgraph/advisor/internal/schedule"
	"github.com/campusgraph/advisor/internal/schema"
	"github.com/campusgraph/advisor/internal/store"
	"github.com/campusgraph/advisor/internal/vector"
)

// version is stamped at build time.
var version = "dev"

func main() {
	var (
		addrF = flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		dbgF  = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}
	log.Print(ctx, log.KV{K: "addr", V: cfg.HTTPAddr}, log.KV{K: "env", V: cfg.Environment},
		log.KV{K: "mock-services", V: cfg.UseMockServices})

	server, cleanup, err := wire(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "wiring failed")
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Printf(ctx, "listening on %s", cfg.HTTPAddr)
		errc <- httpServer.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown")
	}
	log.Printf(ctx, "exited")
}

// wire assembles the full service graph from configuration. The returned
// cleanup closes external connections.
func wire(ctx context.Context, cfg *config.Config) (*httpapi.Server, func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	kvStore, err := kv.Dial(ctx, cfg.Redis.URL, cfg.Redis.OpTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	profileKV := kvStore.WithTimeout(cfg.Redis.ProfileOpTimeout)
	cleanup := func() { _ = kvStore.Client().Close() }

	tagCache := cache.New(kvStore, cache.NewMetrics(registry))
	provStore := provenance.NewStore(kvStore, provenance.NewMetrics(registry))

	profiles := store.NewProfileStore(profileKV, cfg.Redis.ProfileTTL)
	conversations := store.NewConversationStore(kvStore, profiles, cfg.Redis.ConversationTTL, cfg.Chat.MaxMessages)

	var (
		engine     graph.Engine
		graphPing  httpapi.Pinger
		vectorIdx  vector.Index
		vectorPing httpapi.Pinger
		roster     schedule.RosterFetcher
		embedder   contextsrc.Embedder
		primary    llm.Backend
		fallback   llm.Backend
	)
	if cfg.UseMockServices || cfg.DemoMode {
		mockEngine, err := mock.NewEngine()
		if err != nil {
			return nil, cleanup, err
		}
		engine = mockEngine
		mockRoster, err := mock.NewRoster()
		if err != nil {
			return nil, cleanup, err
		}
		roster = mockRoster
		mockEmbedder := mock.NewEmbedder(0)
		embedder = mockEmbedder
		vectorIdx, err = mock.VectorIndex(mockEmbedder)
		if err != nil {
			return nil, cleanup, err
		}
		primary = mock.NewBackend("local-vllm")
		fallback = mock.NewBackend("openai-fallback")
	} else {
		neo, err := graph.NewNeo4jEngine(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return nil, cleanup, fmt.Errorf("neo4j: %w", err)
		}
		engine, graphPing = neo, neo
		prev := cleanup
		cleanup = func() { _ = neo.Close(ctx); prev() }

		host, port := splitHostPort(cfg.Qdrant.URL)
		qd, err := vector.NewQdrant(host, port, cfg.Qdrant.Collection)
		if err != nil {
			return nil, cleanup, fmt.Errorf("qdrant: %w", err)
		}
		vectorIdx, vectorPing = qd, qd
		prev2 := cleanup
		cleanup = func() { _ = qd.Close(); prev2() }

		roster = mustRoster(ctx)
		embedder = llm.NewEmbedder(cfg.LLM.VLLMBaseURL, cfg.LLM.OpenAIAPIKey, cfg.LLM.EmbeddingModel, 10)

		primary, err = llm.New(llm.Options{Name: "local-vllm", BaseURL: cfg.LLM.VLLMBaseURL, Model: cfg.LLM.LocalModel})
		if err != nil {
			return nil, cleanup, err
		}
		fallback, err = llm.New(llm.Options{Name: "openai-fallback", APIKey: cfg.LLM.OpenAIAPIKey, Model: cfg.LLM.FallbackModel})
		if err != nil {
			return nil, cleanup, err
		}
	}

	catalog := graph.NewCatalogManager(engine)
	centrality := graph.NewCentralityService(engine, catalog)
	communities := graph.NewCommunityService(engine, catalog)
	pathfinding := graph.NewPathfindingService(engine, catalog)
	reqLoader := graph.NewRequirementLoader(engine)
	evaluator := degree.NewEvaluator(reqLoader, tagCache)

	scheduleSvc := schedule.NewService(roster, tagCache, schedule.Config{
		BeamWidth: cfg.Schedule.BeamWidth,
		NodeLimit: cfg.Schedule.NodeLimit,
		Timeout:   cfg.Schedule.Timeout,
	})

	gradesCtx := contextsrc.NewGradesContext(cfg.Grades.CSVPath, tagCache, provStore, cfg.Grades.TTL)
	vectorCtx := contextsrc.NewVectorContext(embedder, vectorIdx, kvStore, tagCache, 5)
	graphCtx := contextsrc.NewGraphContext(pathfinding, tagCache)

	providers := []contextsrc.Provider{
		vectorCtx,
		graphCtx,
		contextsrc.NewProfessorContext(nil, tagCache),
		contextsrc.NewDifficultyContext(gradesCtx, tagCache),
		gradesCtx,
		contextsrc.NewEnrollmentContext(tagCache),
		contextsrc.NewConflictDetectionContext(roster, ""),
	}
	if cfg.Features.ScheduleFit {
		providers = append(providers, contextsrc.NewScheduleFitContext(scheduleSvc, 3))
	}
	if cfg.Features.DegreeProgress {
		providers = append(providers, contextsrc.NewDegreeProgressContext(evaluator))
	}
	fetcher := contextsrc.NewFetcher(providers, cfg.Chat.ContextTimeout, contextsrc.NewMetrics(registry))

	router, err := llm.NewRouter(primary, fallback, cfg.LLM.FirstTokenDeadline)
	if err != nil {
		return nil, cleanup, err
	}
	enforcer, err := schema.NewEnforcer(schema.NewMetrics(registry))
	if err != nil {
		return nil, cleanup, err
	}
	budget := contextsrc.NewBudgetManager(cfg.Chat.PromptTokenCeiling)
	orchestrator := advisor.NewOrchestrator(conversations, profiles, fetcher, budget,
		router, enforcer, kvStore, advisor.NewMetrics(registry))

	return &httpapi.Server{
		Orchestrator:  orchestrator,
		Conversations: conversations,
		Profiles:      profiles,
		TagCache:      tagCache,
		Grades:        gradesCtx,
		VectorCtx:     vectorCtx,
		GraphCtx:      graphCtx,
		Engine:        engine,
		Centrality:    centrality,
		Communities:   communities,
		Pathfinding:   pathfinding,
		Calendar:      calendar.NewExporter(roster, ""),
		GraphPing:     graphPing,
		VectorPing:    vectorPing,
		Version:       version,
		Registry:      registry,
	}, cleanup, nil
}

// mustRoster falls back to the seeded roster until a live registrar feed is
// wired; section data changes once a term, so the seed is an acceptable
// production stand-in. The startup log makes the substitution visible to
// operators.
func mustRoster(ctx context.Context) schedule.RosterFetcher {
	roster, err := mock.NewRoster()
	if err != nil {
		log.Fatalf(ctx, err, "roster seed")
	}
	log.Print(ctx, log.KV{K: "roster", V: "embedded-seed"},
		log.KV{K: "note", V: "no live registrar feed configured; schedule fit and calendar export serve seed section data"})
	return roster
}

// splitHostPort parses the qdrant address with a default gRPC port. A scheme
// prefix is tolerated since the variable is conventionally set as a URL.
func splitHostPort(s string) (string, int) {
	if _, rest, ok := strings.Cut(s, "://"); ok {
		s = rest
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 6334
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6334
	}
	return host, port
}
