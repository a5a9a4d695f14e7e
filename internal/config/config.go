// Package config loads service configuration from the environment. Every
// setting has a default matching the documented operational envelope, so an
// empty environment yields a runnable development configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type (
	// Config is the full advisor service configuration.
	Config struct {
		Environment string
		HTTPAddr    string
		DemoMode    bool
		// UseMockServices swaps the vector index, graph engine, and roster
		// fetcher for deterministic in-process fakes.
		UseMockServices bool

		Redis    RedisConfig
		Neo4j    Neo4jConfig
		Qdrant   QdrantConfig
		LLM      LLMConfig
		Grades   GradesConfig
		Chat     ChatConfig
		Schedule ScheduleConfig
		Features FeatureFlags
	}

	// RedisConfig configures the KV + script store.
	RedisConfig struct {
		URL string
		// OpTimeout bounds individual KV operations; ProfileOpTimeout is the
		// tighter bound used on the profile hot path.
		OpTimeout        time.Duration
		ProfileOpTimeout time.Duration
		ConversationTTL  time.Duration
		ProfileTTL       time.Duration
	}

	// Neo4jConfig configures the external graph engine.
	Neo4jConfig struct {
		URI      string
		Username string
		Password string
	}

	// QdrantConfig configures the external vector index.
	QdrantConfig struct {
		URL        string
		Collection string
	}

	// LLMConfig configures the two OpenAI-compatible completion backends and
	// the embedding API.
	LLMConfig struct {
		VLLMBaseURL   string
		LocalModel    string
		FallbackModel string
		OpenAIAPIKey  string
		// FirstTokenDeadline bounds how long the primary backend has to emit
		// its first streaming token before the router switches to fallback.
		FirstTokenDeadline time.Duration
		EmbeddingModel     string
	}

	// GradesConfig locates the historical grade distribution CSV.
	GradesConfig struct {
		CSVPath string
		TTL     time.Duration
		SoftTTL time.Duration
	}

	// ChatConfig bounds the chat pipeline.
	ChatConfig struct {
		ContextTimeout time.Duration
		// PromptTokenCeiling is the hard cap on the assembled prompt.
		PromptTokenCeiling int
		MaxMessages        int
	}

	// ScheduleConfig bounds the schedule-fit beam search.
	ScheduleConfig struct {
		Timeout   time.Duration
		BeamWidth int
		NodeLimit int
	}

	// FeatureFlags gates optional context providers.
	FeatureFlags struct {
		DegreeProgress bool
		ScheduleFit    bool
	}
)

// Load reads configuration from the environment, after loading an optional
// .env file. Unset variables fall back to defaults; malformed numeric values
// are an error rather than a silent default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:     getString("ENVIRONMENT", "development"),
		HTTPAddr:        getString("HTTP_ADDR", ":8000"),
		DemoMode:        getBool("DEMO_MODE", false),
		UseMockServices: getBool("USE_MOCK_SERVICES", false),
		Redis: RedisConfig{
			URL: getString("REDIS_URL", "redis://localhost:6379/0"),
		},
		Neo4j: Neo4jConfig{
			URI:      getString("NEO4J_URI", "bolt://localhost:7687"),
			Username: getString("NEO4J_USERNAME", "neo4j"),
			Password: getString("NEO4J_PASSWORD", ""),
		},
		Qdrant: QdrantConfig{
			URL:        getString("QDRANT_URL", "localhost:6334"),
			Collection: getString("QDRANT_COLLECTION_NAME", "cornell_courses"),
		},
		LLM: LLMConfig{
			VLLMBaseURL:    getString("VLLM_BASE_URL", "http://localhost:8001/v1"),
			LocalModel:     getString("LOCAL_MODEL", "meta-llama/Llama-3.1-8B-Instruct"),
			FallbackModel:  getString("FALLBACK_MODEL", "gpt-4o-mini"),
			OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
			EmbeddingModel: getString("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Grades: GradesConfig{
			CSVPath: getString("GRADES_CSV", "data/grades.csv"),
		},
		Features: FeatureFlags{
			DegreeProgress: getBool("ENABLE_DEGREE_PROGRESS", true),
			ScheduleFit:    getBool("ENABLE_SCHEDULE_FIT", true),
		},
	}

	var err error
	if cfg.Redis.OpTimeout, err = getMillis("REDIS_OP_TIMEOUT_MS", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Redis.ProfileOpTimeout, err = getMillis("REDIS_PROFILE_OP_TIMEOUT_MS", 25*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Redis.ConversationTTL, err = getDays("REDIS_TTL_DAYS", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Redis.ProfileTTL, err = getDays("PROFILE_TTL_DAYS", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LLM.FirstTokenDeadline, err = getMillis("FIRST_TOKEN_DEADLINE_MS", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Chat.ContextTimeout, err = getMillis("CONTEXT_TIMEOUT_MS", 150*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Chat.PromptTokenCeiling, err = getInt("PROMPT_TOKEN_CEILING", 1200); err != nil {
		return nil, err
	}
	if cfg.Chat.MaxMessages, err = getInt("CONVERSATION_MAX_MESSAGES", 20); err != nil {
		return nil, err
	}
	if cfg.Grades.TTL, err = getDays("GRADES_TTL_DAYS", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Grades.SoftTTL, err = getDays("GRADES_SOFT_TTL_DAYS", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Schedule.Timeout, err = getMillis("SCHEDULE_FIT_TIMEOUT_MS", 300*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Schedule.BeamWidth, err = getInt("SCHEDULE_FIT_BEAM_WIDTH", 1024); err != nil {
		return nil, err
	}
	if cfg.Schedule.NodeLimit, err = getInt("SCHEDULE_FIT_NODE_LIMIT", 50000); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getDays(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(f * 24 * float64(time.Hour)), nil
}
