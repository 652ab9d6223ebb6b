// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration. Policy thresholds live here
// rather than as code constants so deployment profiles can retune them.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Database settings. Empty DatabaseURL runs fully in-memory.
	DatabaseURL string

	// Segment blob store for oversized event contexts.
	SegmentPath        string
	InlineContextBytes int

	// Qdrant settings. Empty URL falls back to the in-memory index.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// Claim extraction service. Empty endpoint uses the local heuristic
	// splitter.
	ExtractionEndpoint string

	// Auth settings.
	APIKey        string // static API key for the HTTP surface; empty disables auth
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting.
	RateLimitPerMinute int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Episode policy.
	EpisodeIdleTimeout       time.Duration
	EventCountWeight         float64
	CognitiveWeight          float64
	OutcomeWeight            float64
	EventCountSaturation     int
	CognitiveCountSaturation int

	// Memory policy.
	HighSignificance float64
	MemoryHalfLife   time.Duration
	MinStrength      float64
	AccessBoost      float64
	MemoryCacheSize  int

	// Strategy policy.
	StrategyCacheSize int
	ConfidenceScale   float64
	CostWeight        float64

	// Claim policy.
	ClaimMinConfidence  float64
	ClaimMergeThreshold float64

	// Engine limits.
	MaxGraphNodes       int
	EnrichmentQueueSize int
	EnrichmentWorkers   int
	SweepInterval       time.Duration

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                     envInt("KIOKU_PORT", 8080),
		ReadTimeout:              envDuration("KIOKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:             envDuration("KIOKU_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:      int64(envInt("KIOKU_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		DatabaseURL:              envStr("DATABASE_URL", ""),
		SegmentPath:              envStr("KIOKU_SEGMENT_PATH", ""),
		InlineContextBytes:       envInt("KIOKU_INLINE_CONTEXT_BYTES", 64*1024),
		QdrantURL:                envStr("QDRANT_URL", ""),
		QdrantAPIKey:             envStr("QDRANT_API_KEY", ""),
		QdrantCollection:         envStr("KIOKU_QDRANT_COLLECTION", "kioku_claims"),
		EmbeddingProvider:        envStr("KIOKU_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:             envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:           envStr("KIOKU_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:      envInt("KIOKU_EMBEDDING_DIMENSIONS", 1024),
		OllamaURL:                envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:              envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		ExtractionEndpoint:       envStr("KIOKU_EXTRACTION_ENDPOINT", ""),
		APIKey:                   envStr("KIOKU_API_KEY", ""),
		JWTSecret:                envStr("KIOKU_JWT_SECRET", ""),
		JWTExpiration:            envDuration("KIOKU_JWT_EXPIRATION", 24*time.Hour),
		RateLimitPerMinute:       envInt("KIOKU_RATE_LIMIT_PER_MINUTE", 600),
		OTELEndpoint:             envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:              envStr("OTEL_SERVICE_NAME", "kioku"),
		EpisodeIdleTimeout:       envDuration("KIOKU_EPISODE_IDLE_TIMEOUT", 30*time.Minute),
		EventCountWeight:         envFloat("KIOKU_EVENT_COUNT_WEIGHT", 0.35),
		CognitiveWeight:          envFloat("KIOKU_COGNITIVE_WEIGHT", 0.25),
		OutcomeWeight:            envFloat("KIOKU_OUTCOME_WEIGHT", 0.40),
		EventCountSaturation:     envInt("KIOKU_EVENT_COUNT_SATURATION", 10),
		CognitiveCountSaturation: envInt("KIOKU_COGNITIVE_COUNT_SATURATION", 3),
		HighSignificance:         envFloat("KIOKU_HIGH_SIGNIFICANCE", 0.6),
		MemoryHalfLife:           envDuration("KIOKU_MEMORY_HALF_LIFE", 168*time.Hour),
		MinStrength:              envFloat("KIOKU_MIN_STRENGTH", 0.05),
		AccessBoost:              envFloat("KIOKU_ACCESS_BOOST", 0.15),
		MemoryCacheSize:          envInt("KIOKU_MEMORY_CACHE_SIZE", 1000),
		StrategyCacheSize:        envInt("KIOKU_STRATEGY_CACHE_SIZE", 500),
		ConfidenceScale:          envFloat("KIOKU_CONFIDENCE_SCALE", 3),
		CostWeight:               envFloat("KIOKU_COST_WEIGHT", 0.05),
		ClaimMinConfidence:       envFloat("KIOKU_CLAIM_MIN_CONFIDENCE", 0.7),
		ClaimMergeThreshold:      envFloat("KIOKU_CLAIM_MERGE_THRESHOLD", 0.92),
		MaxGraphNodes:            envInt("KIOKU_MAX_GRAPH_NODES", 100_000),
		EnrichmentQueueSize:      envInt("KIOKU_ENRICHMENT_QUEUE_SIZE", 1024),
		EnrichmentWorkers:        envInt("KIOKU_ENRICHMENT_WORKERS", 2),
		SweepInterval:            envDuration("KIOKU_SWEEP_INTERVAL", time.Minute),
		LogLevel:                 envStr("KIOKU_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges on the policy thresholds.
func (c Config) Validate() error {
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: KIOKU_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KIOKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.ClaimMinConfidence < 0 || c.ClaimMinConfidence > 1 {
		return fmt.Errorf("config: KIOKU_CLAIM_MIN_CONFIDENCE must be in [0,1]")
	}
	if c.ClaimMergeThreshold <= 0 || c.ClaimMergeThreshold > 1 {
		return fmt.Errorf("config: KIOKU_CLAIM_MERGE_THRESHOLD must be in (0,1]")
	}
	if c.HighSignificance < 0 || c.HighSignificance > 1 {
		return fmt.Errorf("config: KIOKU_HIGH_SIGNIFICANCE must be in [0,1]")
	}
	if c.EpisodeIdleTimeout <= 0 {
		return fmt.Errorf("config: KIOKU_EPISODE_IDLE_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
