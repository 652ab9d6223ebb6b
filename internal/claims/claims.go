// Package claims owns the claim registry and the semantic merge-or-insert
// pipeline. Extraction and embedding are external capabilities; this package
// orchestrates and thresholds their output, keeping claim state authoritative
// in memory with write-through persistence.
package claims

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/extraction"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/search"
	"github.com/ashita-ai/kioku/internal/service/embedding"
	"github.com/ashita-ai/kioku/internal/storage"
)

// Config tunes the extraction thresholds.
type Config struct {
	// MinConfidence discards extraction candidates below it.
	MinConfidence float64

	// MergeThreshold is the cosine similarity above which a candidate
	// reinforces an existing claim instead of inserting a new one.
	MergeThreshold float64

	// SearchFetchFactor over-fetches from the index to compensate for
	// non-Active claims filtered out after the vector lookup.
	SearchFetchFactor int
}

// DefaultConfig returns the default extraction profile.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.7,
		MergeThreshold:    0.92,
		SearchFetchFactor: 3,
	}
}

// Store persists claims. Implementations may be nil-safe no-ops for
// embedded deployments without a database.
type Store interface {
	SaveClaim(ctx context.Context, c *model.Claim) error
}

// Service is the claim registry. All merge-or-insert decisions happen under
// a single mutex so concurrent near-duplicate candidates cannot race into
// duplicate rows.
type Service struct {
	cfg       Config
	extractor extraction.Provider
	embedder  embedding.Provider
	index     search.Index
	store     Store
	metrics   *metrics.Aggregator
	logger    *slog.Logger

	mu      sync.Mutex
	claims  map[uuid.UUID]*model.Claim
	pending []uuid.UUID // claims stored before an embedding was available

	now func() time.Time
}

// New creates the claim service. store may be nil for in-memory deployments.
func New(cfg Config, extractor extraction.Provider, embedder embedding.Provider, index search.Index, store Store, agg *metrics.Aggregator, logger *slog.Logger) *Service {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.92
	}
	if cfg.SearchFetchFactor <= 0 {
		cfg.SearchFetchFactor = 3
	}
	return &Service{
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		store:     store,
		metrics:   agg,
		logger:    logger,
		claims:    make(map[uuid.UUID]*model.Claim),
		now:       time.Now,
	}
}

// ProcessEvent extracts claims from an event's text and merges them into the
// registry. Returns the number of candidates that produced a claim effect
// (created or reinforced). Extraction and embedding failures degrade to zero
// effects, never an error that would fail the owning event.
func (s *Service) ProcessEvent(ctx context.Context, e *model.Event) int {
	text := TextOf(e)
	if strings.TrimSpace(text) == "" {
		return 0
	}

	candidates, err := s.extractor.ExtractClaims(ctx, text)
	if err != nil {
		s.logger.Warn("claims: extraction failed, skipping enrichment",
			"event_id", e.ID, "error", err)
		return 0
	}

	effects := 0
	for _, cand := range candidates {
		if cand.Confidence < s.cfg.MinConfidence {
			s.metrics.ClaimsDiscarded.Add(1)
			continue
		}
		if err := s.Apply(ctx, e.ID, cand); err != nil {
			s.logger.Warn("claims: apply candidate failed",
				"event_id", e.ID, "error", err)
			continue
		}
		effects++
	}
	return effects
}

// Apply runs merge-or-insert for a single candidate. Exported so the async
// enrichment path can re-enter with completed extraction results under the
// same atomicity rules as a fresh candidate.
func (s *Service) Apply(ctx context.Context, sourceEventID uuid.UUID, cand model.ClaimCandidate) error {
	vec, embedErr := s.embedder.Embed(ctx, cand.Text)
	if embedErr != nil {
		s.logger.Warn("claims: embedding failed, storing claim for backfill",
			"error", embedErr)
		vec = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if vec != nil {
		hits, err := s.index.Search(ctx, vec, 1, s.cfg.MergeThreshold)
		if err != nil {
			return fmt.Errorf("claims: index search: %w", err)
		}
		if len(hits) > 0 {
			if existing, ok := s.claims[hits[0].ID]; ok && existing.Status == model.ClaimActive {
				if negates(cand.Text) != negates(existing.ClaimText) {
					return s.contradictLocked(ctx, existing, sourceEventID, cand, vec)
				}
				return s.reinforceLocked(ctx, existing, cand)
			}
		}
	}

	return s.insertLocked(ctx, sourceEventID, cand, vec)
}

// reinforceLocked merges a near-duplicate candidate into an existing claim.
// Confidence only moves up.
func (s *Service) reinforceLocked(ctx context.Context, c *model.Claim, cand model.ClaimCandidate) error {
	c.SupportCount++
	if cand.Confidence > c.Confidence {
		c.Confidence = cand.Confidence
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.EvidenceSpans = append(c.EvidenceSpans, cand.Spans...)
	c.LastAccessed = s.now()

	s.metrics.ClaimsReinforced.Add(1)
	return s.persist(ctx, c)
}

// contradictLocked marks the existing claim Contradicted when a
// higher-confidence candidate of opposite polarity arrives, then inserts the
// new claim. A lower-confidence contradicting candidate inserts alongside
// without touching the established claim.
func (s *Service) contradictLocked(ctx context.Context, existing *model.Claim, sourceEventID uuid.UUID, cand model.ClaimCandidate, vec []float32) error {
	if cand.Confidence > existing.Confidence {
		existing.Status = model.ClaimContradicted
		if err := s.persist(ctx, existing); err != nil {
			return err
		}
		s.logger.Info("claims: claim contradicted",
			"claim_id", existing.ID, "confidence", existing.Confidence,
			"by_confidence", cand.Confidence)
	}
	return s.insertLocked(ctx, sourceEventID, cand, vec)
}

func (s *Service) insertLocked(ctx context.Context, sourceEventID uuid.UUID, cand model.ClaimCandidate, vec []float32) error {
	now := s.now()
	c := &model.Claim{
		ID:            uuid.New(),
		ClaimText:     cand.Text,
		Confidence:    cand.Confidence,
		SourceEventID: sourceEventID,
		EvidenceSpans: cand.Spans,
		SupportCount:  1,
		Status:        model.ClaimActive,
		Embedding:     vec,
		CreatedAt:     now,
		LastAccessed:  now,
	}
	s.claims[c.ID] = c

	if vec != nil {
		if err := s.index.Upsert(ctx, c.ID, vec); err != nil {
			return fmt.Errorf("claims: index upsert: %w", err)
		}
	} else {
		s.pending = append(s.pending, c.ID)
	}

	s.metrics.ClaimsCreated.Add(1)
	return s.persist(ctx, c)
}

func (s *Service) persist(ctx context.Context, c *model.Claim) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveClaim(ctx, c); err != nil {
		return fmt.Errorf("claims: persist claim %s: %w", c.ID, err)
	}
	return nil
}

// Search embeds the query and returns the top-k Active claims by cosine
// similarity ≥ minSimilarity, best first, each annotated with its score.
func (s *Service) Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]model.ClaimMatch, error) {
	if topK <= 0 {
		topK = 10
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("claims: embed query: %w", err)
	}

	s.metrics.IndexQueries.Add(1)

	// Over-fetch: the index doesn't know claim status, so non-Active hits
	// are filtered here.
	hits, err := s.index.Search(ctx, vec, topK*s.cfg.SearchFetchFactor, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("claims: index search: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]model.ClaimMatch, 0, topK)
	for _, h := range hits {
		c, ok := s.claims[h.ID]
		if !ok || c.Status != model.ClaimActive {
			continue
		}
		c.LastAccessed = s.now()
		matches = append(matches, model.ClaimMatch{Claim: *c, Similarity: h.Score})
		if len(matches) == topK {
			break
		}
	}

	if len(matches) > 0 {
		s.metrics.IndexHits.Add(1)
	} else {
		s.metrics.IndexMisses.Add(1)
	}
	return matches, nil
}

// Get returns a claim by id, any status.
func (s *Service) Get(id uuid.UUID) (model.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return model.Claim{}, fmt.Errorf("claims: claim %s: %w", id, storage.ErrNotFound)
	}
	return *c, nil
}

// List returns claims ordered newest first, all statuses.
func (s *Service) List(limit, offset int) []model.Claim {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	all := make([]model.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		all = append(all, *c)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ProcessPending batch-generates embeddings for claims stored before an
// embedding was available. Returns counts processed and succeeded; failed
// claims stay queued for the next run.
func (s *Service) ProcessPending(ctx context.Context, limit int) (processed, succeeded int) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	batch := s.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	ids := make([]uuid.UUID, len(batch))
	copy(ids, batch)
	s.mu.Unlock()

	var stillPending []uuid.UUID
	for _, id := range ids {
		s.mu.Lock()
		c, ok := s.claims[id]
		if !ok {
			s.mu.Unlock()
			processed++
			continue
		}
		text := c.ClaimText
		s.mu.Unlock()

		processed++
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("claims: pending embed failed", "claim_id", id, "error", err)
			stillPending = append(stillPending, id)
			continue
		}

		s.mu.Lock()
		c.Embedding = vec
		err = s.index.Upsert(ctx, id, vec)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("claims: pending index upsert failed", "claim_id", id, "error", err)
			stillPending = append(stillPending, id)
			continue
		}
		if err := s.persist(ctx, c); err != nil {
			s.logger.Warn("claims: pending persist failed", "claim_id", id, "error", err)
		}
		succeeded++
	}

	s.mu.Lock()
	rest := s.pending[min(len(ids), len(s.pending)):]
	s.pending = append(stillPending, rest...)
	s.mu.Unlock()
	return processed, succeeded
}

// Count returns the number of claims in the registry, any status.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// negationMarkers flip a statement's polarity for contradiction detection.
var negationMarkers = []string{" not ", " never ", " no longer ", "n't ", " cannot "}

func negates(text string) bool {
	padded := " " + strings.ToLower(text) + " "
	for _, m := range negationMarkers {
		if strings.Contains(padded, m) {
			return true
		}
	}
	return false
}

// TextOf returns the free text a claim can be extracted from: Context and
// Communication carry it directly, Observation data is flattened
// JSON-to-text. Other event types yield nothing.
func TextOf(e *model.Event) string {
	switch e.EventType {
	case model.EventContextType:
		p, err := e.ContextDetail()
		if err != nil {
			return ""
		}
		parts := []string{p.Description}
		if len(p.Variables) > 0 {
			parts = append(parts, flatten(p.Variables))
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	case model.EventCommunication:
		p, err := e.Communication()
		if err != nil {
			return ""
		}
		return p.Message
	case model.EventObservation:
		p, err := e.Observation()
		if err != nil {
			return ""
		}
		return flatten(p.Data)
	default:
		return ""
	}
}

// flatten renders a JSON-shaped map as "key: value" lines with sorted keys,
// nested maps joined by dots. Deterministic so repeated observations of the
// same data extract identical statements.
func flatten(m map[string]any) string {
	var lines []string
	flattenInto("", m, &lines)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flattenInto(prefix string, m map[string]any, lines *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(key, val, lines)
		case []any:
			strs := make([]string, len(val))
			for i, item := range val {
				strs[i] = fmt.Sprint(item)
			}
			*lines = append(*lines, fmt.Sprintf("%s: %s", key, strings.Join(strs, ", ")))
		default:
			*lines = append(*lines, fmt.Sprintf("%s: %v", key, val))
		}
	}
}
