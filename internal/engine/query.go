package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/analytics"
	"github.com/ashita-ai/kioku/internal/graph"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

// Event returns a persisted event by id.
func (e *Engine) Event(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	if e.store == nil {
		return nil, fmt.Errorf("engine: no durable store configured")
	}
	return e.store.GetEvent(ctx, id)
}

// Events lists persisted events matching the filter, oldest first. Without
// a durable store the event log is not queryable and the result is empty.
func (e *Engine) Events(ctx context.Context, f model.EventFilter) ([]*model.Event, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListEvents(ctx, f)
}

// Episodes lists episodes. Open episodes are served from the in-memory
// detector; closed ones from the durable store.
func (e *Engine) Episodes(ctx context.Context, f model.EpisodeFilter) ([]*model.Episode, error) {
	if f.State == model.EpisodeOpen {
		open := e.detector.OpenEpisodes(f.AgentID)
		out := make([]*model.Episode, 0, len(open))
		for i := range open {
			if f.GoalID != "" && open[i].GoalID != f.GoalID {
				continue
			}
			out = append(out, &open[i])
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return out, nil
	}
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListEpisodes(ctx, f)
}

// WorkingMemories renders transient Working views of an agent's open
// episodes. Never cached or persisted.
func (e *Engine) WorkingMemories(agentID string) []model.Memory {
	open := e.detector.OpenEpisodes(agentID)
	out := make([]model.Memory, 0, len(open))
	for i := range open {
		out = append(out, e.memories.WorkingView(&open[i]))
	}
	return out
}

// MemoriesByAgent returns an agent's memories, most relevant first.
func (e *Engine) MemoriesByAgent(ctx context.Context, agentID string, limit int) []model.Memory {
	return e.memories.RetrieveByAgent(ctx, agentID, limit)
}

// MemoriesByContext returns memories matching a context query, exact
// fingerprint matches first.
func (e *Engine) MemoriesByContext(ctx context.Context, q model.ContextQuery) []model.ContextMatch {
	return e.memories.RetrieveByContext(ctx, q)
}

// Memory returns a memory by id without touching access bookkeeping.
func (e *Engine) Memory(id uuid.UUID) (model.Memory, error) {
	return e.memories.Get(id)
}

// StrategiesByAgent returns an agent's strategies, best quality first.
func (e *Engine) StrategiesByAgent(agentID string, limit int) []model.Strategy {
	return e.strategies.ListByAgent(agentID, limit)
}

// SimilarStrategies ranks strategies by overlap with the query.
func (e *Engine) SimilarStrategies(q model.StrategyQuery) []model.StrategyMatch {
	return e.strategies.FindSimilar(q)
}

// SuggestActions is the policy guide surface.
func (e *Engine) SuggestActions(contextHash uint64, lastAction string, limit int) []model.ActionSuggestion {
	return e.strategies.SuggestActions(contextHash, lastAction, limit)
}

// SearchClaims embeds the query and returns the best Active claims.
func (e *Engine) SearchClaims(ctx context.Context, query string, topK int, minSimilarity float64) ([]model.ClaimMatch, error) {
	return e.claims.Search(ctx, query, topK, minSimilarity)
}

// Claim returns a claim by id, any status.
func (e *Engine) Claim(id uuid.UUID) (model.Claim, error) {
	return e.claims.Get(id)
}

// Claims lists claims newest first.
func (e *Engine) Claims(limit, offset int) []model.Claim {
	return e.claims.List(limit, offset)
}

// ProcessPendingClaims backfills embeddings for claims stored without one.
func (e *Engine) ProcessPendingClaims(ctx context.Context, limit int) (processed, succeeded int) {
	return e.claims.ProcessPending(ctx, limit)
}

// GraphSnapshot returns an immutable copy of the full graph.
func (e *Engine) GraphSnapshot() graph.Snapshot {
	return e.arena.Snapshot()
}

// Neighborhood returns the subgraph within depth hops of the given node.
// An unknown anchor yields an empty snapshot.
func (e *Engine) Neighborhood(t model.NodeType, key string, depth int) graph.Snapshot {
	id, ok := e.arena.Lookup(t, key)
	if !ok {
		return graph.Snapshot{}
	}
	return e.arena.Neighborhood(id, depth)
}

// Goals returns the derived goal registry.
func (e *Engine) Goals() map[string]graph.GoalInfo {
	return e.builder.Goals()
}

// Components runs union-find connected components over a fresh snapshot.
func (e *Engine) Components() analytics.ComponentsResult {
	return analytics.Components(e.arena.Snapshot())
}

// Communities runs Louvain community detection over a fresh snapshot.
func (e *Engine) Communities() analytics.LouvainResult {
	return analytics.Louvain(e.arena.Snapshot())
}

// PathStats computes diameter and average path length over the largest
// component of a fresh snapshot.
func (e *Engine) PathStats() analytics.PathStats {
	return analytics.Paths(e.arena.Snapshot())
}

// Centrality computes the full centrality suite over a fresh snapshot.
func (e *Engine) Centrality(ctx context.Context) analytics.CentralityResult {
	return analytics.Centrality(ctx, e.arena.Snapshot())
}

// Stats is the engine's point-in-time operational summary.
type Stats struct {
	Counters metrics.Snapshot `json:"counters"`

	GraphNodes   int `json:"graph_nodes"`
	GraphEdges   int `json:"graph_edges"`
	OpenEpisodes int `json:"open_episodes"`
	Memories     int `json:"memories"`
	Strategies   int `json:"strategies"`
	Claims       int `json:"claims"`

	EnrichmentQueued int `json:"enrichment_queued"`
}

// Stats reads the counters and component sizes.
func (e *Engine) Stats() Stats {
	return Stats{
		Counters:         e.metrics.Read(),
		GraphNodes:       e.arena.Order(),
		GraphEdges:       e.arena.Size(),
		OpenEpisodes:     len(e.detector.OpenEpisodes("")),
		Memories:         e.memories.Count(),
		Strategies:       e.strategies.Count(),
		Claims:           e.claims.Count(),
		EnrichmentQueued: len(e.enrichCh),
	}
}

// SegmentBody resolves a segment pointer to its offloaded context body.
func (e *Engine) SegmentBody(ctx context.Context, pointer string) ([]byte, error) {
	if e.segments == nil {
		return nil, fmt.Errorf("engine: no segment store configured")
	}
	return e.segments.Get(ctx, pointer)
}
