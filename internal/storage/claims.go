package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
)

// SaveClaim persists a claim, write-through on creation, reinforcement and
// status transitions. The embedding column is nullable for claims stored
// before an embedding was available.
func (db *DB) SaveClaim(ctx context.Context, c *model.Claim) error {
	spansJSON, err := json.Marshal(c.EvidenceSpans)
	if err != nil {
		return fmt.Errorf("storage: marshal evidence spans: %w", err)
	}

	var embedding *pgvector.Vector
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO claims (id, claim_text, confidence, source_event_id, evidence_spans,
		                     support_count, status, embedding, created_at, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   confidence = EXCLUDED.confidence,
		   evidence_spans = EXCLUDED.evidence_spans,
		   support_count = EXCLUDED.support_count,
		   status = EXCLUDED.status,
		   embedding = EXCLUDED.embedding,
		   last_accessed = EXCLUDED.last_accessed`,
		c.ID, c.ClaimText, c.Confidence, c.SourceEventID, spansJSON,
		c.SupportCount, string(c.Status), embedding, c.CreatedAt, c.LastAccessed,
	)
	if err != nil {
		return fmt.Errorf("storage: save claim: %w", err)
	}
	return nil
}

// LoadClaims reads all persisted claims, oldest first. Used at startup to
// rebuild the in-memory registry and vector index.
func (db *DB) LoadClaims(ctx context.Context) ([]*model.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, claim_text, confidence, source_event_id, evidence_spans,
		        support_count, status, embedding, created_at, last_accessed
		 FROM claims ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: load claims: %w", err)
	}
	defer rows.Close()

	var claims []*model.Claim
	for rows.Next() {
		var (
			c         model.Claim
			spansJSON []byte
			embedding *pgvector.Vector
		)
		if err := rows.Scan(
			&c.ID, &c.ClaimText, &c.Confidence, &c.SourceEventID, &spansJSON,
			&c.SupportCount, &c.Status, &embedding, &c.CreatedAt, &c.LastAccessed,
		); err != nil {
			return nil, fmt.Errorf("storage: scan claim: %w", err)
		}
		if len(spansJSON) > 0 {
			if err := json.Unmarshal(spansJSON, &c.EvidenceSpans); err != nil {
				return nil, fmt.Errorf("storage: decode evidence spans: %w", err)
			}
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		claims = append(claims, &c)
	}
	return claims, rows.Err()
}
