// Package memory forms durable memories from closed episodes and retrieves
// them by agent or by context similarity. Strength decays lazily on read
// with a configurable half-life; every retrieval boosts it back up, so
// frequently used memories stay strong while idle ones fade toward a floor.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/cache"
	"github.com/ashita-ai/kioku/internal/identity"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// Config controls formation thresholds and decay behavior.
type Config struct {
	// HighSignificance separates Semantic from Episodic on success.
	HighSignificance float64

	HalfLife    time.Duration // time for strength to halve
	MinStrength float64       // floor, never decay below
	AccessBoost float64       // strength boost per retrieval

	// CacheSize bounds the in-process memory cache. Eviction never deletes
	// the durable record.
	CacheSize int
}

// DefaultConfig returns the default deployment profile.
func DefaultConfig() Config {
	return Config{
		HighSignificance: 0.6,
		HalfLife:         168 * time.Hour,
		MinStrength:      0.05,
		AccessBoost:      0.15,
		CacheSize:        1000,
	}
}

// Store persists memories. May be nil for embedded deployments.
type Store interface {
	SaveMemory(ctx context.Context, m *model.Memory) error
}

// Service owns memory formation and retrieval.
type Service struct {
	cfg     Config
	store   Store
	metrics *metrics.Aggregator
	logger  *slog.Logger

	mu    sync.Mutex
	cache *cache.LRU[uuid.UUID, *model.Memory]

	now func() time.Time
}

// New creates the memory service. store may be nil.
func New(cfg Config, store Store, agg *metrics.Aggregator, logger *slog.Logger) *Service {
	if cfg.HighSignificance <= 0 {
		cfg.HighSignificance = 0.6
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 168 * time.Hour
	}
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = 0.05
	}
	if cfg.AccessBoost <= 0 {
		cfg.AccessBoost = 0.15
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	s := &Service{
		cfg:     cfg,
		store:   store,
		metrics: agg,
		logger:  logger,
		now:     time.Now,
	}
	s.cache = cache.NewLRU[uuid.UUID, *model.Memory](cfg.CacheSize, func(id uuid.UUID, _ *model.Memory) {
		agg.MemoryEvictions.Add(1)
		logger.Debug("memory: cache eviction", "memory_id", id)
	})
	return s
}

// NewWithClock creates a service with an injected clock for tests.
func NewWithClock(cfg Config, store Store, agg *metrics.Aggregator, logger *slog.Logger, now func() time.Time) *Service {
	s := New(cfg, store, agg, logger)
	s.now = now
	return s
}

// FormFromEpisode forms exactly one memory from a closed episode.
// Classification: Success + high significance → Semantic, Success + low →
// Episodic, Failure → Negative, Abandoned → Episodic.
func (s *Service) FormFromEpisode(ctx context.Context, ep *model.Episode) (*model.Memory, error) {
	if ep.State != model.EpisodeClosed {
		return nil, fmt.Errorf("memory: episode %s is %s, not Closed", ep.ID, ep.State)
	}

	now := s.now()
	m := &model.Memory{
		ID:             uuid.New(),
		EpisodeID:      ep.ID,
		AgentID:        ep.AgentID,
		SessionID:      ep.SessionID,
		MemoryType:     classify(ep.Outcome, ep.Significance, s.cfg.HighSignificance),
		Strength:       ep.Significance,
		RelevanceScore: ep.Significance,
		ContextHash:    ep.ContextHash,
		Context:        ep.Context,
		Outcome:        ep.Outcome,
		Summary:        summarize(ep),
		FormedAt:       now,
		LastAccessed:   now,
	}
	if m.Strength < s.cfg.MinStrength {
		m.Strength = s.cfg.MinStrength
	}

	s.mu.Lock()
	s.cache.Put(m.ID, m)
	s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.MemoriesFormed.Add(1)
	return m, nil
}

// WorkingView builds a transient Working memory for a still-open episode.
// Never persisted or cached.
func (s *Service) WorkingView(ep *model.Episode) model.Memory {
	now := s.now()
	return model.Memory{
		ID:             uuid.New(),
		EpisodeID:      ep.ID,
		AgentID:        ep.AgentID,
		SessionID:      ep.SessionID,
		MemoryType:     model.MemoryWorking,
		Strength:       1.0,
		RelevanceScore: ep.Significance,
		ContextHash:    ep.ContextHash,
		Context:        ep.Context,
		Summary:        summarize(ep),
		FormedAt:       now,
		LastAccessed:   now,
	}
}

// RetrieveByAgent returns an agent's memories ordered by relevance score,
// recency as the tie-break. Each returned memory is touched: access count,
// last-accessed and a strength boost after lazy decay.
func (s *Service) RetrieveByAgent(ctx context.Context, agentID string, limit int) []model.Memory {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	var picked []*model.Memory
	s.cache.Each(func(_ uuid.UUID, m *model.Memory) bool {
		if m.AgentID == agentID {
			picked = append(picked, m)
		}
		return true
	})
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].RelevanceScore != picked[j].RelevanceScore {
			return picked[i].RelevanceScore > picked[j].RelevanceScore
		}
		return picked[i].LastAccessed.After(picked[j].LastAccessed)
	})
	if len(picked) > limit {
		picked = picked[:limit]
	}

	out := s.touchAllLocked(picked)
	s.mu.Unlock()

	s.writeThrough(ctx, out)
	s.metrics.MemoryRetrievals.Add(1)
	return out
}

// RetrieveByContext returns memories matching a query context.
// Exact fingerprint matches come first at similarity 1.0; remaining slots
// are filled by approximate context overlap ≥ MinSimilarity.
func (s *Service) RetrieveByContext(ctx context.Context, q model.ContextQuery) []model.ContextMatch {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	hash := q.Context.Fingerprint
	if hash == 0 {
		hash = identity.Fingerprint(q.Context)
	}

	s.mu.Lock()
	var exact, approx []*model.Memory
	var approxScores []float64
	s.cache.Each(func(_ uuid.UUID, m *model.Memory) bool {
		if q.AgentID != "" && m.AgentID != q.AgentID {
			return true
		}
		if q.SessionID != "" && m.SessionID != q.SessionID {
			return true
		}
		if m.ContextHash == hash {
			exact = append(exact, m)
			return true
		}
		if sim := ContextSimilarity(q.Context, m.Context); sim >= q.MinSimilarity && sim > 0 {
			approx = append(approx, m)
			approxScores = append(approxScores, sim)
		}
		return true
	})

	sort.Slice(exact, func(i, j int) bool {
		return exact[i].RelevanceScore > exact[j].RelevanceScore
	})

	type scored struct {
		m   *model.Memory
		sim float64
	}
	rest := make([]scored, len(approx))
	for i := range approx {
		rest[i] = scored{approx[i], approxScores[i]}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].sim != rest[j].sim {
			return rest[i].sim > rest[j].sim
		}
		return rest[i].m.RelevanceScore > rest[j].m.RelevanceScore
	})

	var pickedMems []*model.Memory
	var sims []float64
	for _, m := range exact {
		if len(pickedMems) == limit {
			break
		}
		pickedMems = append(pickedMems, m)
		sims = append(sims, 1.0)
	}
	for _, sc := range rest {
		if len(pickedMems) == limit {
			break
		}
		pickedMems = append(pickedMems, sc.m)
		sims = append(sims, sc.sim)
	}

	touched := s.touchAllLocked(pickedMems)
	s.mu.Unlock()

	s.writeThrough(ctx, touched)
	s.metrics.MemoryRetrievals.Add(1)

	matches := make([]model.ContextMatch, len(touched))
	for i := range touched {
		matches[i] = model.ContextMatch{Memory: touched[i], Similarity: sims[i]}
	}
	return matches
}

// Get returns a memory by id without touching access bookkeeping.
func (s *Service) Get(id uuid.UUID) (model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.cache.Get(id); ok {
		return *m, nil
	}
	return model.Memory{}, fmt.Errorf("memory: memory %s: %w", id, storage.ErrNotFound)
}

// Count returns the number of cached memories.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// touchAllLocked applies lazy decay then the access boost to each memory and
// returns value copies reflecting the new state.
func (s *Service) touchAllLocked(mems []*model.Memory) []model.Memory {
	now := s.now()
	out := make([]model.Memory, len(mems))
	for i, m := range mems {
		m.Strength = s.decayed(m.Strength, now.Sub(m.LastAccessed))
		m.Strength += s.cfg.AccessBoost
		if m.Strength > 1 {
			m.Strength = 1
		}
		m.AccessCount++
		m.LastAccessed = now
		out[i] = *m
	}
	return out
}

// decayed applies exponential half-life decay, clamped to the floor.
func (s *Service) decayed(strength float64, idle time.Duration) float64 {
	if idle <= 0 {
		return strength
	}
	decayed := strength * math.Pow(0.5, idle.Hours()/s.cfg.HalfLife.Hours())
	if decayed < s.cfg.MinStrength {
		return s.cfg.MinStrength
	}
	return decayed
}

func (s *Service) persist(ctx context.Context, m *model.Memory) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveMemory(ctx, m); err != nil {
		return fmt.Errorf("memory: persist memory %s: %w", m.ID, err)
	}
	return nil
}

// writeThrough persists retrieval bookkeeping. Failures are logged, not
// surfaced: a read should not fail because a counter update did.
func (s *Service) writeThrough(ctx context.Context, mems []model.Memory) {
	if s.store == nil {
		return
	}
	for i := range mems {
		if err := s.store.SaveMemory(ctx, &mems[i]); err != nil {
			s.logger.Warn("memory: write-through failed", "memory_id", mems[i].ID, "error", err)
		}
	}
}

func classify(outcome string, significance, highBar float64) model.MemoryType {
	switch outcome {
	case model.OutcomeSuccess:
		if significance >= highBar {
			return model.MemorySemantic
		}
		return model.MemoryEpisodic
	case model.OutcomeFailure:
		return model.MemoryNegative
	default:
		return model.MemoryEpisodic
	}
}

// summarize renders a compact human-readable episode summary.
func summarize(ep *model.Episode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "goal %s: %d events", ep.GoalID, ep.EventCount)
	if len(ep.ActionTrace) > 0 {
		names := make([]string, 0, len(ep.ActionTrace))
		for _, a := range ep.ActionTrace {
			names = append(names, a.Name)
		}
		fmt.Fprintf(&b, ", actions %s", strings.Join(names, " → "))
	}
	if ep.Outcome != "" {
		fmt.Fprintf(&b, ", outcome %s", ep.Outcome)
	}
	return b.String()
}

// ContextSimilarity scores approximate overlap between two contexts:
// a blend of goal overlap (ids exact, descriptions by token Jaccard) and
// environment variable agreement. Returns a value in [0,1].
func ContextSimilarity(a, b model.EventContext) float64 {
	goalSim := goalOverlap(a.ActiveGoals, b.ActiveGoals)
	envSim := envOverlap(a.Environment.Variables, b.Environment.Variables)

	switch {
	case len(a.ActiveGoals) == 0 && len(b.ActiveGoals) == 0:
		return envSim
	case len(a.Environment.Variables) == 0 && len(b.Environment.Variables) == 0:
		return goalSim
	default:
		return 0.6*goalSim + 0.4*envSim
	}
}

func goalOverlap(a, b []model.Goal) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ids := make(map[string]bool, len(a))
	for _, g := range a {
		ids[g.ID] = true
	}
	matched := 0
	for _, g := range b {
		if ids[g.ID] {
			matched++
		}
	}
	union := len(a) + len(b) - matched
	idJaccard := float64(matched) / float64(union)

	descSim := tokenJaccard(goalText(a), goalText(b))
	return 0.7*idJaccard + 0.3*descSim
}

func goalText(goals []model.Goal) string {
	parts := make([]string, len(goals))
	for i, g := range goals {
		parts[i] = g.Description
	}
	return strings.Join(parts, " ")
}

func envOverlap(a, b map[string]any) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := 0
	for k, v := range a {
		if bv, ok := b[k]; ok && fmt.Sprint(v) == fmt.Sprint(bv) {
			matched++
		}
	}
	union := len(a) + len(b) - matched
	return float64(matched) / float64(union)
}

// tokenJaccard computes word-level Jaccard overlap of two lowercase token
// sets. Single characters are skipped as noise.
func tokenJaccard(a, b string) float64 {
	as, bs := tokenSet(a), tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	matched := 0
	for w := range as {
		if bs[w] {
			matched++
		}
	}
	union := len(as) + len(bs) - matched
	return float64(matched) / float64(union)
}

func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r > 127)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			set[f] = true
		}
	}
	return set
}
