// Package kioku is the public API for embedding the Kioku memory engine.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := kioku.New(
//	    kioku.WithVersion(version),
//	    kioku.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root).
package kioku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kioku/internal/auth"
	"github.com/ashita-ai/kioku/internal/claims"
	"github.com/ashita-ai/kioku/internal/config"
	"github.com/ashita-ai/kioku/internal/engine"
	"github.com/ashita-ai/kioku/internal/episode"
	"github.com/ashita-ai/kioku/internal/extraction"
	"github.com/ashita-ai/kioku/internal/mcp"
	"github.com/ashita-ai/kioku/internal/memory"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/ratelimit"
	"github.com/ashita-ai/kioku/internal/search"
	"github.com/ashita-ai/kioku/internal/segment"
	"github.com/ashita-ai/kioku/internal/server"
	"github.com/ashita-ai/kioku/internal/service/embedding"
	"github.com/ashita-ai/kioku/internal/storage"
	"github.com/ashita-ai/kioku/internal/strategy"
	"github.com/ashita-ai/kioku/internal/telemetry"
	"github.com/ashita-ai/kioku/migrations"
)

// App is the Kioku server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB    // nil when running in-memory
	segments     *segment.Store // nil when no segment path configured
	qdrantIndex  *search.QdrantIndex
	eng          *engine.Engine
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Kioku server. It connects to the database (when
// configured), runs migrations, wires all subsystems, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}

	logger.Info("kioku starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{cfg: cfg, otelShutdown: otelShutdown, logger: logger, version: version}

	// Durable store. Empty DATABASE_URL runs fully in-memory.
	var store engine.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.db = db
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			a.closePartial()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		store = db
	} else {
		logger.Warn("no DATABASE_URL configured, running in-memory (state is lost on restart)")
	}

	// Segment blob store for oversized event contexts.
	if cfg.SegmentPath != "" {
		segs, err := segment.Open(cfg.SegmentPath, logger)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("segment store: %w", err)
		}
		a.segments = segs
		logger.Info("segment store: enabled", "path", cfg.SegmentPath, "inline_threshold", cfg.InlineContextBytes)
	}

	// Embedding provider: external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embedder != nil {
		embedder = &embedderAdapter{p: o.embedder}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Claim index. Qdrant when configured, in-memory otherwise.
	var index search.Index
	if cfg.QdrantURL != "" {
		qdrant, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, logger)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrant.EnsureCollection(context.Background()); err != nil {
			_ = qdrant.Close()
			a.closePartial()
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		a.qdrantIndex = qdrant
		index = qdrant
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		index = search.NewMemoryIndex()
		logger.Info("qdrant: disabled (no QDRANT_URL), using in-memory index")
	}

	// Claim extractor. External service when configured, local heuristic
	// splitter otherwise.
	var extractor extraction.Provider
	if cfg.ExtractionEndpoint != "" {
		extractor = extraction.NewHTTPProvider(cfg.ExtractionEndpoint)
		logger.Info("claim extraction: http", "endpoint", cfg.ExtractionEndpoint)
	} else {
		extractor = extraction.NewHeuristicProvider()
		logger.Info("claim extraction: heuristic (no KIOKU_EXTRACTION_ENDPOINT)")
	}

	agg := metrics.New()
	if err := agg.RegisterOTEL(); err != nil {
		logger.Warn("otel metric registration failed", "error", err)
	}

	a.eng = engine.New(engineConfig(cfg), engine.Dependencies{
		Store:     store,
		Segments:  a.segments,
		Extractor: extractor,
		Embedder:  embedder,
		Index:     index,
		Metrics:   agg,
		Logger:    logger,
	})

	// Auth.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("auth: %w", err)
	}
	authn, err := auth.NewAuthenticator(cfg.APIKey, jwtMgr)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !authn.Enabled() {
		logger.Warn("authentication disabled (no KIOKU_API_KEY)")
	}

	// Rate limiter.
	if cfg.RateLimitPerMinute > 0 {
		a.limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(a.eng, logger, version)

	a.srv = server.New(server.ServerConfig{
		Engine:              a.eng,
		Logger:              logger,
		Auth:                authn,
		Limiter:             a.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return a, nil
}

// Run starts the engine workers and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically, so callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.eng.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight ones, drain the enrichment queue, then close the index,
// segment store, and database.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kioku shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	drainCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	a.eng.Close(drainCtx)
	cancel()

	a.closePartial()

	a.logger.Info("kioku stopped")
	return nil
}

// closePartial releases whatever resources were acquired so far. Used both
// on construction failure and at the end of Shutdown.
func (a *App) closePartial() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if a.segments != nil {
		_ = a.segments.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

// Engine exposes the underlying engine for embedded (in-process) use.
func (a *App) Engine() *engine.Engine {
	return a.eng
}

// engineConfig maps the flat env-var config onto the engine's policy
// profiles.
func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		MaxGraphNodes:       cfg.MaxGraphNodes,
		InlineContextBytes:  cfg.InlineContextBytes,
		EnrichmentQueueSize: cfg.EnrichmentQueueSize,
		EnrichmentWorkers:   cfg.EnrichmentWorkers,
		SweepInterval:       cfg.SweepInterval,
		PendingClaimBatch:   100,
		Episode: episode.Config{
			IdleTimeout:              cfg.EpisodeIdleTimeout,
			EventCountWeight:         cfg.EventCountWeight,
			CognitiveWeight:          cfg.CognitiveWeight,
			OutcomeWeight:            cfg.OutcomeWeight,
			EventCountSaturation:     cfg.EventCountSaturation,
			CognitiveCountSaturation: cfg.CognitiveCountSaturation,
		},
		Memory: memory.Config{
			HighSignificance: cfg.HighSignificance,
			HalfLife:         cfg.MemoryHalfLife,
			MinStrength:      cfg.MinStrength,
			AccessBoost:      cfg.AccessBoost,
			CacheSize:        cfg.MemoryCacheSize,
		},
		Strategy: strategy.Config{
			CacheSize:       cfg.StrategyCacheSize,
			ConfidenceScale: cfg.ConfidenceScale,
			CostWeight:      cfg.CostWeight,
		},
		Claims: claims.Config{
			MinConfidence:     cfg.ClaimMinConfidence,
			MergeThreshold:    cfg.ClaimMergeThreshold,
			SearchFetchFactor: 3,
		},
	}
}

// newEmbeddingProvider picks the embedding backend: explicit provider from
// config, else auto-detect (Ollama if reachable, OpenAI if keyed, noop).
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KIOKU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// newLogger builds a text slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// embedderAdapter wraps a public EmbeddingProvider to satisfy the internal
// embedding.Provider interface.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.p.Embed(ctx, text)
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := a.p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}
