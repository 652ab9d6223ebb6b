// Package strategy mines closed episodes into reusable strategies and serves
// the policy guide. A strategy is keyed by (agent, goal bucket, behavior
// signature); repeated observations reinforce its counters, and every derived
// score is recomputed from the counters, never set directly.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/cache"
	"github.com/ashita-ai/kioku/internal/episode"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

// Config tunes learning and scoring.
type Config struct {
	// CacheSize bounds the in-process strategy cache. Eviction never deletes
	// the durable record.
	CacheSize int

	// ConfidenceScale controls how fast confidence approaches 1 with
	// evidence: confidence = n / (n + scale).
	ConfidenceScale float64

	// CostWeight converts expected cost (mean episode duration in minutes)
	// into the value penalty.
	CostWeight float64
}

// DefaultConfig returns the default deployment profile.
func DefaultConfig() Config {
	return Config{
		CacheSize:       500,
		ConfidenceScale: 3,
		CostWeight:      0.05,
	}
}

// Store persists strategies. May be nil for embedded deployments.
type Store interface {
	SaveStrategy(ctx context.Context, s *model.Strategy) error
}

// Learner owns the strategy registry.
type Learner struct {
	cfg     Config
	store   Store
	metrics *metrics.Aggregator
	logger  *slog.Logger

	mu    sync.Mutex
	cache *cache.LRU[string, *model.Strategy]

	// bucketByGoal maps observed goal ids to their buckets so similarity
	// queries carrying only goal ids can resolve bucket membership.
	bucketByGoal map[string]string

	now func() time.Time
}

// New creates the learner. store may be nil.
func New(cfg Config, store Store, agg *metrics.Aggregator, logger *slog.Logger) *Learner {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 500
	}
	if cfg.ConfidenceScale <= 0 {
		cfg.ConfidenceScale = 3
	}
	if cfg.CostWeight <= 0 {
		cfg.CostWeight = 0.05
	}
	l := &Learner{
		cfg:          cfg,
		store:        store,
		metrics:      agg,
		logger:       logger,
		bucketByGoal: make(map[string]string),
		now:          time.Now,
	}
	l.cache = cache.NewLRU[string, *model.Strategy](cfg.CacheSize, func(key string, _ *model.Strategy) {
		agg.StrategyEvictions.Add(1)
		logger.Debug("strategy: cache eviction", "key", key)
	})
	return l
}

// ObserveEpisode reinforces or creates a strategy from a closed episode.
// Episodes without actions teach nothing and return nil.
func (l *Learner) ObserveEpisode(ctx context.Context, ep *model.Episode) (*model.Strategy, error) {
	if ep.State != model.EpisodeClosed || len(ep.ActionTrace) == 0 {
		return nil, nil
	}

	bucket := GoalBucket(goalDescription(ep), ep.GoalID)
	sig := BehaviorSignature(ep.ActionTrace)
	key := ep.AgentID + "\x00" + bucket + "\x00" + sig
	success := ep.Outcome == model.OutcomeSuccess

	l.mu.Lock()
	l.bucketByGoal[ep.GoalID] = bucket
	s, ok := l.cache.Get(key)
	if !ok {
		s = &model.Strategy{
			ID:                uuid.New(),
			Name:              strategyName(bucket, ep.ActionTrace),
			AgentID:           ep.AgentID,
			StrategyType:      "behavioral",
			GoalBucketID:      bucket,
			BehaviorSignature: sig,
			Precondition:      ep.ContextHash,
			ActionHint:        ep.ActionTrace[0].Name,
			ReasoningSteps:    reasoningSteps(ep.ActionTrace),
			CreatedAt:         l.now(),
		}
		l.cache.Put(key, s)
		l.metrics.StrategiesCreated.Add(1)
	} else {
		l.metrics.StrategyUpdates.Add(1)
	}

	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.SupportCount++
	l.recompute(s, ep)
	s.UpdatedAt = l.now()
	out := *s
	l.mu.Unlock()

	if err := l.persist(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// recompute derives every score from the counters. Laplace smoothing keeps
// single-observation strategies away from the 0/1 extremes.
func (l *Learner) recompute(s *model.Strategy, ep *model.Episode) {
	n := float64(s.SuccessCount + s.FailureCount)
	s.QualityScore = (float64(s.SuccessCount) + 1) / (n + 2)
	s.ExpectedSuccess = s.QualityScore
	s.Confidence = n / (n + l.cfg.ConfidenceScale)

	// Running mean of episode duration in minutes.
	duration := ep.LastEvent.Sub(ep.StartedAt).Minutes()
	if duration < 0 {
		duration = 0
	}
	s.ExpectedCost += (duration - s.ExpectedCost) / n

	s.ExpectedValue = s.ExpectedSuccess - l.cfg.CostWeight*s.ExpectedCost
	if s.ExpectedValue < 0 {
		s.ExpectedValue = 0
	}
}

// FindSimilar ranks strategies by weighted overlap with the query: goal
// bucket membership, tool/action-name overlap, and a context-hash equality
// bonus. Only entries scoring ≥ MinScore are returned, best first.
func (l *Learner) FindSimilar(q model.StrategyQuery) []model.StrategyMatch {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	queryTools := make(map[string]bool, len(q.ToolNames)+len(q.ResultTypes))
	for _, t := range q.ToolNames {
		queryTools[strings.ToLower(t)] = true
	}
	for _, r := range q.ResultTypes {
		queryTools[strings.ToLower(r)] = true
	}

	l.mu.Lock()
	queryBuckets := make(map[string]bool, len(q.GoalIDs))
	for _, id := range q.GoalIDs {
		if bucket, ok := l.bucketByGoal[id]; ok {
			queryBuckets[bucket] = true
		} else {
			queryBuckets[id] = true
		}
	}
	var matches []model.StrategyMatch
	l.cache.Each(func(_ string, s *model.Strategy) bool {
		if q.AgentID != "" && s.AgentID != q.AgentID {
			return true
		}

		var score float64
		if len(queryBuckets) > 0 && queryBuckets[s.GoalBucketID] {
			score += 0.45
		}
		if len(queryTools) > 0 {
			score += 0.35 * actionOverlap(queryTools, s.BehaviorSignature)
		}
		if q.ContextHash != 0 && q.ContextHash == s.Precondition {
			score += 0.2
		}

		if score >= q.MinScore && score > 0 {
			matches = append(matches, model.StrategyMatch{Strategy: *s, Score: score})
		}
		return true
	})
	l.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Strategy.QualityScore > matches[j].Strategy.QualityScore
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SuggestActions is the policy guide: it finds strategies whose precondition
// matches the context fingerprint and whose behavior sequence follows from
// lastAction (when given), ranked by expected success weighted by confidence.
func (l *Learner) SuggestActions(contextHash uint64, lastAction string, limit int) []model.ActionSuggestion {
	if limit <= 0 {
		limit = 5
	}

	type ranked struct {
		suggestion model.ActionSuggestion
		rank       float64
	}

	l.mu.Lock()
	var candidates []ranked
	l.cache.Each(func(_ string, s *model.Strategy) bool {
		if contextHash != 0 && s.Precondition != 0 && s.Precondition != contextHash {
			return true
		}

		action, ok := nextAction(s.BehaviorSignature, lastAction)
		if !ok {
			return true
		}

		evidence := s.SuccessCount + s.FailureCount
		candidates = append(candidates, ranked{
			suggestion: model.ActionSuggestion{
				ActionName:         action,
				SuccessProbability: s.ExpectedSuccess,
				EvidenceCount:      evidence,
				Reasoning: fmt.Sprintf("strategy %q for goal bucket %q succeeded in %d of %d observed episodes",
					s.Name, s.GoalBucketID, s.SuccessCount, evidence),
			},
			rank: s.ExpectedSuccess * s.Confidence,
		})
		return true
	})
	l.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank > candidates[j].rank
		}
		return candidates[i].suggestion.ActionName < candidates[j].suggestion.ActionName
	})

	// Deduplicate by action, keeping the best-ranked occurrence.
	seen := make(map[string]bool)
	var out []model.ActionSuggestion
	for _, c := range candidates {
		if seen[c.suggestion.ActionName] {
			continue
		}
		seen[c.suggestion.ActionName] = true
		out = append(out, c.suggestion)
		if len(out) == limit {
			break
		}
	}
	return out
}

// ListByAgent returns an agent's strategies, best quality first.
func (l *Learner) ListByAgent(agentID string, limit int) []model.Strategy {
	if limit <= 0 {
		limit = 50
	}

	l.mu.Lock()
	var out []model.Strategy
	l.cache.Each(func(_ string, s *model.Strategy) bool {
		if s.AgentID == agentID {
			out = append(out, *s)
		}
		return true
	})
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the number of cached strategies.
func (l *Learner) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

func (l *Learner) persist(ctx context.Context, s *model.Strategy) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SaveStrategy(ctx, s); err != nil {
		return fmt.Errorf("strategy: persist strategy %s: %w", s.ID, err)
	}
	return nil
}

// BehaviorSignature encodes the ordered action names with their outcome
// polarities: "restart:+>verify:+". The same action sequence with different
// outcomes is a different behavior.
func BehaviorSignature(trace []model.ActionStep) string {
	parts := make([]string, len(trace))
	for i, step := range trace {
		polarity := "?"
		switch episode.NormalizeOutcome(step.Outcome) {
		case model.OutcomeSuccess:
			polarity = "+"
		case model.OutcomeFailure:
			polarity = "-"
		}
		parts[i] = strings.ToLower(step.Name) + ":" + polarity
	}
	return strings.Join(parts, ">")
}

// GoalBucket coarsely groups semantically similar goals: the sorted distinct
// tokens of the description (capped at four), falling back to the goal id
// when no description is available.
func GoalBucket(description, goalID string) string {
	tokens := tokenize(description)
	if len(tokens) == 0 {
		return goalID
	}
	sort.Strings(tokens)
	if len(tokens) > 4 {
		tokens = tokens[:4]
	}
	return strings.Join(tokens, "-")
}

// tokenize splits text into lowercase word tokens, skipping single
// characters and stop words too common to distinguish goals.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r > 127)
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true,
	"from": true, "into": true, "all": true, "this": true,
}

// nextAction returns the action the signature prescribes after lastAction,
// or the first action when lastAction is empty. Reports false when
// lastAction is not part of the sequence or is its final step.
func nextAction(signature, lastAction string) (string, bool) {
	steps := strings.Split(signature, ">")
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = strings.SplitN(s, ":", 2)[0]
	}
	if lastAction == "" {
		if len(names) == 0 || names[0] == "" {
			return "", false
		}
		return names[0], true
	}
	last := strings.ToLower(lastAction)
	for i, n := range names[:len(names)-1] {
		if n == last {
			return names[i+1], true
		}
	}
	return "", false
}

func actionOverlap(queryTools map[string]bool, signature string) float64 {
	steps := strings.Split(signature, ">")
	if len(steps) == 0 {
		return 0
	}
	matched := 0
	total := 0
	seen := make(map[string]bool)
	for _, s := range steps {
		name := strings.SplitN(s, ":", 2)[0]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		total++
		if queryTools[name] {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	union := total + len(queryTools) - matched
	return float64(matched) / float64(union)
}

func goalDescription(ep *model.Episode) string {
	for _, g := range ep.Context.ActiveGoals {
		if g.ID == ep.GoalID {
			return g.Description
		}
	}
	return ""
}

func strategyName(bucket string, trace []model.ActionStep) string {
	first := trace[0].Name
	if len(trace) == 1 {
		return fmt.Sprintf("%s via %s", bucket, first)
	}
	return fmt.Sprintf("%s via %s (+%d steps)", bucket, first, len(trace)-1)
}

func reasoningSteps(trace []model.ActionStep) []model.ReasoningStep {
	steps := make([]model.ReasoningStep, len(trace))
	for i, a := range trace {
		desc := a.Name
		if a.Tool != "" {
			desc = fmt.Sprintf("%s using %s", a.Name, a.Tool)
		}
		steps[i] = model.ReasoningStep{Description: desc, SequenceOrder: i + 1}
	}
	return steps
}
