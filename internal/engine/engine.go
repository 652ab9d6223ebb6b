// Package engine wires the ingestion pipeline and the query surface.
//
// Ingest runs validation, identity defaulting, persistence, graph building
// and episode tracking synchronously, then acknowledges. Semantic enrichment
// (claim extraction and embedding) completes asynchronously on a bounded
// queue; its effects become visible on subsequent reads.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/claims"
	"github.com/ashita-ai/kioku/internal/episode"
	"github.com/ashita-ai/kioku/internal/extraction"
	"github.com/ashita-ai/kioku/internal/graph"
	"github.com/ashita-ai/kioku/internal/identity"
	"github.com/ashita-ai/kioku/internal/memory"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/search"
	"github.com/ashita-ai/kioku/internal/segment"
	"github.com/ashita-ai/kioku/internal/service/embedding"
	"github.com/ashita-ai/kioku/internal/strategy"
)

// Store is the durable persistence surface beneath the engine. *storage.DB
// implements it; a nil Store runs the engine fully in-memory.
type Store interface {
	InsertEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	ListEvents(ctx context.Context, f model.EventFilter) ([]*model.Event, error)

	SaveEpisode(ctx context.Context, ep *model.Episode) error
	ListEpisodes(ctx context.Context, f model.EpisodeFilter) ([]*model.Episode, error)

	UpsertNode(ctx context.Context, n model.GraphNode) error
	UpsertEdge(ctx context.Context, e model.GraphEdge) error

	SaveMemory(ctx context.Context, m *model.Memory) error
	SaveClaim(ctx context.Context, c *model.Claim) error
	SaveStrategy(ctx context.Context, s *model.Strategy) error
}

// Config bundles the engine's own knobs with the policy profiles of its
// components. Everything here is deployment policy, not a constant.
type Config struct {
	// MaxGraphNodes caps arena growth; writes beyond it fail with
	// CapacityExceeded. 0 = unbounded.
	MaxGraphNodes int

	// InlineContextBytes is the serialized-context size above which the body
	// is offloaded to segment storage. 0 disables offloading.
	InlineContextBytes int

	// EnrichmentQueueSize bounds the async enrichment queue. When full, new
	// events skip semantic enrichment rather than blocking ingestion.
	EnrichmentQueueSize int

	// EnrichmentWorkers is the number of goroutines draining the queue.
	EnrichmentWorkers int

	// SweepInterval is how often idle episodes are force-closed and pending
	// claim embeddings are backfilled.
	SweepInterval time.Duration

	// PendingClaimBatch is the per-sweep embedding backfill batch size.
	PendingClaimBatch int

	Episode  episode.Config
	Memory   memory.Config
	Strategy strategy.Config
	Claims   claims.Config
}

// DefaultConfig returns the default single-node profile.
func DefaultConfig() Config {
	return Config{
		MaxGraphNodes:       100_000,
		InlineContextBytes:  64 * 1024,
		EnrichmentQueueSize: 1024,
		EnrichmentWorkers:   2,
		SweepInterval:       time.Minute,
		PendingClaimBatch:   100,
		Episode:             episode.DefaultConfig(),
		Memory:              memory.DefaultConfig(),
		Strategy:            strategy.DefaultConfig(),
		Claims:              claims.DefaultConfig(),
	}
}

// Dependencies carries the engine's external capabilities. Every field is
// optional: nil Store and Segments run in-memory, nil providers fall back to
// the local heuristic extractor, zero-vector embedder and in-memory index.
type Dependencies struct {
	Store     Store
	Segments  *segment.Store
	Extractor extraction.Provider
	Embedder  embedding.Provider
	Index     search.Index
	Metrics   *metrics.Aggregator
	Logger    *slog.Logger
}

// Engine owns the pipeline and delegates the query surface to its components.
type Engine struct {
	cfg      Config
	store    Store
	segments *segment.Store
	metrics  *metrics.Aggregator
	logger   *slog.Logger

	assigner   *identity.Assigner
	arena      *graph.Arena
	builder    *graph.Builder
	detector   *episode.Detector
	claims     *claims.Service
	memories   *memory.Service
	strategies *strategy.Learner

	enrichCh chan *model.Event
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New assembles an engine. Call Start to launch the background workers and
// Close to drain them.
func New(cfg Config, deps Dependencies) *Engine {
	if cfg.EnrichmentQueueSize <= 0 {
		cfg.EnrichmentQueueSize = 1024
	}
	if cfg.EnrichmentWorkers <= 0 {
		cfg.EnrichmentWorkers = 2
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.PendingClaimBatch <= 0 {
		cfg.PendingClaimBatch = 100
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agg := deps.Metrics
	if agg == nil {
		agg = metrics.New()
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = extraction.NewHeuristicProvider()
	}
	embedder := deps.Embedder
	if embedder == nil {
		embedder = embedding.NewNoopProvider(0)
	}
	index := deps.Index
	if index == nil {
		index = search.NewMemoryIndex()
	}

	// A nil Store must stay a nil interface inside each component, not a
	// non-nil interface wrapping a nil pointer.
	var (
		persister graph.Persister
		memStore  memory.Store
		stratSt   strategy.Store
		claimSt   claims.Store
	)
	if deps.Store != nil {
		persister = deps.Store
		memStore = deps.Store
		stratSt = deps.Store
		claimSt = deps.Store
	}

	arena := graph.NewArena(cfg.MaxGraphNodes)
	e := &Engine{
		cfg:        cfg,
		store:      deps.Store,
		segments:   deps.Segments,
		metrics:    agg,
		logger:     logger,
		assigner:   identity.NewAssigner(),
		arena:      arena,
		builder:    graph.NewBuilder(arena, persister, logger, agg),
		detector:   episode.NewDetector(cfg.Episode, logger, agg),
		claims:     claims.New(cfg.Claims, extractor, embedder, index, claimSt, agg, logger),
		memories:   memory.New(cfg.Memory, memStore, agg, logger),
		strategies: strategy.New(cfg.Strategy, stratSt, agg, logger),
		enrichCh:   make(chan *model.Event, cfg.EnrichmentQueueSize),
	}
	return e
}

// Start launches the enrichment workers and the idle-episode sweep loop.
func (e *Engine) Start(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for i := 0; i < e.cfg.EnrichmentWorkers; i++ {
		e.wg.Add(1)
		go e.enrichLoop(loopCtx)
	}
	e.wg.Add(1)
	go e.sweepLoop(loopCtx)
}

// Close stops the background workers, waiting up to the caller's deadline
// for in-flight enrichment to drain.
func (e *Engine) Close(ctx context.Context) {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("engine: close timed out waiting for workers")
	}
}

// Ingest runs the synchronous half of the pipeline and acknowledges. When
// enableSemantic is set, claim enrichment is queued (or run inline if the
// workers are not started); a full queue skips enrichment for this event
// rather than failing or blocking the ack.
func (e *Engine) Ingest(ctx context.Context, ev *model.Event, enableSemantic bool) (model.IngestResult, error) {
	start := time.Now()

	if err := model.ValidateEvent(ev); err != nil {
		e.metrics.EventsRejected.Add(1)
		return model.IngestResult{}, err
	}
	if err := e.assigner.AssignDefaults(ev); err != nil {
		e.metrics.EventsRejected.Add(1)
		return model.IngestResult{}, err
	}

	e.offloadContext(ctx, ev)

	if e.store != nil {
		if err := e.store.InsertEvent(ctx, ev); err != nil {
			e.metrics.EventsRejected.Add(1)
			return model.IngestResult{}, fmt.Errorf("engine: persist event %s: %w", ev.ID, err)
		}
	}

	nodesCreated, err := e.builder.Build(ctx, ev)
	if err != nil {
		// The event is already durable; the graph write failed on capacity.
		// Surface it as retryable without counting a rejection.
		return model.IngestResult{}, fmt.Errorf("engine: build graph for event %s: %w", ev.ID, err)
	}

	closed := e.detector.Observe(ev)
	for i := range closed {
		e.finalizeEpisode(ctx, &closed[i])
	}

	if enableSemantic {
		e.enqueueEnrichment(ctx, ev)
	}

	e.metrics.EventsIngested.Add(1)
	return model.IngestResult{
		Success:          true,
		EventID:          ev.ID.String(),
		NodesCreated:     nodesCreated,
		PatternsDetected: len(closed),
		ProcessingTime:   time.Since(start),
	}, nil
}

// offloadContext writes oversized context bodies to segment storage and
// stamps the event with the pointer. Offload failure keeps the context
// inline; it is never fatal.
func (e *Engine) offloadContext(ctx context.Context, ev *model.Event) {
	body, err := json.Marshal(ev.Context)
	if err != nil {
		return
	}
	ev.ContextSizeBytes = int64(len(body))

	if e.segments == nil || e.cfg.InlineContextBytes <= 0 || len(body) <= e.cfg.InlineContextBytes {
		return
	}
	ptr, err := e.segments.Put(ctx, "contexts", ev.ID.String(), body)
	if err != nil {
		e.logger.Warn("engine: context offload failed, keeping inline", "event_id", ev.ID, "error", err)
		return
	}
	ev.SegmentPointer = ptr
}

// finalizeEpisode persists a closed episode and feeds it to memory formation
// and strategy learning. Downstream failures are logged, never propagated —
// the episode closure itself already happened.
func (e *Engine) finalizeEpisode(ctx context.Context, ep *model.Episode) {
	if e.store != nil {
		if err := e.store.SaveEpisode(ctx, ep); err != nil {
			e.logger.Warn("engine: persist episode failed", "episode_id", ep.ID, "error", err)
		}
	}
	if _, err := e.memories.FormFromEpisode(ctx, ep); err != nil {
		e.logger.Warn("engine: memory formation failed", "episode_id", ep.ID, "error", err)
	}
	if _, err := e.strategies.ObserveEpisode(ctx, ep); err != nil {
		e.logger.Warn("engine: strategy update failed", "episode_id", ep.ID, "error", err)
	}
}

// enqueueEnrichment hands the event to the async workers. Without running
// workers the enrichment runs inline so embedded single-threaded use still
// gets claims.
func (e *Engine) enqueueEnrichment(ctx context.Context, ev *model.Event) {
	if !e.running.Load() {
		e.claims.ProcessEvent(ctx, ev)
		return
	}

	cp := *ev
	select {
	case e.enrichCh <- &cp:
	default:
		e.metrics.EnrichmentDropped.Add(1)
		e.logger.Warn("engine: enrichment queue full, skipping event", "event_id", ev.ID)
	}
}

func (e *Engine) enrichLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			e.drainEnrichment()
			return
		case ev := <-e.enrichCh:
			e.claims.ProcessEvent(ctx, ev)
		}
	}
}

// drainEnrichment processes whatever is left in the queue at shutdown under
// its own deadline, since the loop context is already cancelled.
func (e *Engine) drainEnrichment() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-e.enrichCh:
			e.claims.ProcessEvent(drainCtx, ev)
		default:
			return
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep force-closes idle episodes and backfills pending claim embeddings.
// Runs on the background ticker; exported so embedded callers without
// Start can drive the lifecycle themselves.
func (e *Engine) Sweep(ctx context.Context) {
	closed := e.detector.SweepIdle()
	for i := range closed {
		e.finalizeEpisode(ctx, &closed[i])
	}
	if processed, succeeded := e.claims.ProcessPending(ctx, e.cfg.PendingClaimBatch); processed > 0 {
		e.logger.Info("engine: pending claim backfill", "processed", processed, "succeeded", succeeded)
	}
}
