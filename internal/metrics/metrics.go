// Package metrics provides the engine's explicitly-owned counter aggregator.
//
// The aggregator is created once at engine startup and injected into every
// component that counts something — there is no ambient global state. Counters
// are mirrored to OpenTelemetry instruments when a meter provider is
// configured, and remain readable/resettable in-process for the stats surface.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Aggregator owns all process-wide engine counters.
type Aggregator struct {
	EventsIngested  atomic.Int64
	EventsRejected  atomic.Int64
	NodesCreated    atomic.Int64
	EdgesCreated    atomic.Int64
	EdgesReinforced atomic.Int64

	EpisodesOpened atomic.Int64
	EpisodesClosed atomic.Int64

	ClaimsCreated    atomic.Int64
	ClaimsReinforced atomic.Int64
	ClaimsDiscarded  atomic.Int64

	MemoriesFormed    atomic.Int64
	MemoryRetrievals  atomic.Int64
	MemoryEvictions   atomic.Int64
	StrategiesCreated atomic.Int64
	StrategyUpdates   atomic.Int64
	StrategyEvictions atomic.Int64

	IndexHits    atomic.Int64
	IndexMisses  atomic.Int64
	IndexQueries atomic.Int64

	EnrichmentDropped atomic.Int64
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Snapshot is a point-in-time copy of all counters, shaped for the stats
// endpoint.
type Snapshot struct {
	EventsIngested  int64 `json:"events_ingested"`
	EventsRejected  int64 `json:"events_rejected"`
	NodesCreated    int64 `json:"nodes_created"`
	EdgesCreated    int64 `json:"edges_created"`
	EdgesReinforced int64 `json:"edges_reinforced"`

	EpisodesOpened int64 `json:"episodes_opened"`
	EpisodesClosed int64 `json:"episodes_closed"`

	ClaimsCreated    int64 `json:"claims_created"`
	ClaimsReinforced int64 `json:"claims_reinforced"`
	ClaimsDiscarded  int64 `json:"claims_discarded"`

	MemoriesFormed    int64 `json:"memories_formed"`
	MemoryRetrievals  int64 `json:"memory_retrievals"`
	MemoryEvictions   int64 `json:"memory_evictions"`
	StrategiesCreated int64 `json:"strategies_created"`
	StrategyUpdates   int64 `json:"strategy_updates"`
	StrategyEvictions int64 `json:"strategy_evictions"`

	IndexHits    int64 `json:"index_hits"`
	IndexMisses  int64 `json:"index_misses"`
	IndexQueries int64 `json:"index_queries"`

	EnrichmentDropped int64 `json:"enrichment_dropped"`
}

// Read returns a snapshot of all counters.
func (a *Aggregator) Read() Snapshot {
	return Snapshot{
		EventsIngested:    a.EventsIngested.Load(),
		EventsRejected:    a.EventsRejected.Load(),
		NodesCreated:      a.NodesCreated.Load(),
		EdgesCreated:      a.EdgesCreated.Load(),
		EdgesReinforced:   a.EdgesReinforced.Load(),
		EpisodesOpened:    a.EpisodesOpened.Load(),
		EpisodesClosed:    a.EpisodesClosed.Load(),
		ClaimsCreated:     a.ClaimsCreated.Load(),
		ClaimsReinforced:  a.ClaimsReinforced.Load(),
		ClaimsDiscarded:   a.ClaimsDiscarded.Load(),
		MemoriesFormed:    a.MemoriesFormed.Load(),
		MemoryRetrievals:  a.MemoryRetrievals.Load(),
		MemoryEvictions:   a.MemoryEvictions.Load(),
		StrategiesCreated: a.StrategiesCreated.Load(),
		StrategyUpdates:   a.StrategyUpdates.Load(),
		StrategyEvictions: a.StrategyEvictions.Load(),
		IndexHits:         a.IndexHits.Load(),
		IndexMisses:       a.IndexMisses.Load(),
		IndexQueries:      a.IndexQueries.Load(),
		EnrichmentDropped: a.EnrichmentDropped.Load(),
	}
}

// Reset zeroes all counters. Used by the stats surface and tests.
func (a *Aggregator) Reset() {
	for _, c := range []*atomic.Int64{
		&a.EventsIngested, &a.EventsRejected, &a.NodesCreated, &a.EdgesCreated,
		&a.EdgesReinforced, &a.EpisodesOpened, &a.EpisodesClosed,
		&a.ClaimsCreated, &a.ClaimsReinforced, &a.ClaimsDiscarded,
		&a.MemoriesFormed, &a.MemoryRetrievals, &a.MemoryEvictions,
		&a.StrategiesCreated, &a.StrategyUpdates, &a.StrategyEvictions,
		&a.IndexHits, &a.IndexMisses, &a.IndexQueries, &a.EnrichmentDropped,
	} {
		c.Store(0)
	}
}

// RegisterOTEL mirrors the aggregator's counters as observable OTEL gauges.
// A no-op meter provider makes this free when telemetry is disabled.
func (a *Aggregator) RegisterOTEL() error {
	meter := otel.GetMeterProvider().Meter("kioku/engine")

	register := func(name string, src *atomic.Int64) error {
		_, err := meter.Int64ObservableCounter(name,
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(src.Load())
				return nil
			}))
		return err
	}

	for name, src := range map[string]*atomic.Int64{
		"kioku.events.ingested":     &a.EventsIngested,
		"kioku.events.rejected":     &a.EventsRejected,
		"kioku.graph.nodes_created": &a.NodesCreated,
		"kioku.graph.edges_created": &a.EdgesCreated,
		"kioku.episodes.closed":     &a.EpisodesClosed,
		"kioku.claims.created":      &a.ClaimsCreated,
		"kioku.memories.formed":     &a.MemoriesFormed,
		"kioku.index.hits":          &a.IndexHits,
		"kioku.index.misses":        &a.IndexMisses,
	} {
		if err := register(name, src); err != nil {
			return err
		}
	}
	return nil
}
