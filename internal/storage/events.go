package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// eventColumns is the column order shared by COPY and single-row inserts.
var eventColumns = []string{
	"id", "occurred_at", "agent_id", "agent_type", "session_id", "event_type",
	"payload", "causality_chain", "context", "context_hash", "metadata",
	"context_size_bytes", "segment_pointer", "created_at",
}

func eventRow(e *model.Event) ([]any, error) {
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal event context: %w", err)
	}
	chain := make([]uuid.UUID, len(e.CausalityChain))
	copy(chain, e.CausalityChain)
	return []any{
		e.ID, e.OccurredAt, e.AgentID, e.AgentType, e.SessionID, string(e.EventType),
		e.Payload, chain, ctxJSON, int64(e.Context.Fingerprint), e.Metadata,
		e.ContextSizeBytes, e.SegmentPointer, e.CreatedAt,
	}, nil
}

// InsertEvent inserts a single event. An explicitly supplied id that already
// exists is rejected with model.ErrDuplicateEvent, never upserted.
func (db *DB) InsertEvent(ctx context.Context, e *model.Event) error {
	row, err := eventRow(e)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO events (id, occurred_at, agent_id, agent_type, session_id, event_type,
		                     payload, causality_chain, context, context_hash, metadata,
		                     context_size_bytes, segment_pointer, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: event %s: %w", e.ID, model.ErrDuplicateEvent)
		}
		return fmt.Errorf("storage: insert event: %w", err)
	}
	return nil
}

// InsertEvents bulk-inserts events using the COPY protocol. The batch fails
// as a whole on a duplicate id; callers that need duplicate tolerance should
// fall back to per-row InsertEvent.
func (db *DB) InsertEvents(ctx context.Context, events []*model.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(events))
	for i, e := range events {
		row, err := eventRow(e)
		if err != nil {
			return 0, err
		}
		rows[i] = row
	}

	// Dedicated 30s COPY timeout prevents a hung Postgres from blocking the
	// ingestion path indefinitely.
	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer copyCancel()

	copyCount, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"events"},
		eventColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("storage: copy events: %w", model.ErrDuplicateEvent)
		}
		return 0, fmt.Errorf("storage: copy events: %w", err)
	}
	return copyCount, nil
}

// GetEvent retrieves an event by id.
func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, occurred_at, agent_id, agent_type, session_id, event_type,
		        payload, causality_chain, context, metadata,
		        context_size_bytes, segment_pointer, created_at
		 FROM events WHERE id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get event: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("storage: event %s: %w", id, ErrNotFound)
	}
	return events[0], nil
}

// ListEvents retrieves events matching the filter, oldest first. Zero-value
// filter fields are ignored.
func (db *DB) ListEvents(ctx context.Context, f model.EventFilter) ([]*model.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT id, occurred_at, agent_id, agent_type, session_id, event_type,
	                 payload, causality_chain, context, metadata,
	                 context_size_bytes, segment_pointer, created_at
	          FROM events WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AgentID != "" {
		query += " AND agent_id = " + arg(f.AgentID)
	}
	if f.SessionID != "" {
		query += " AND session_id = " + arg(f.SessionID)
	}
	if f.EventType != "" {
		query += " AND event_type = " + arg(string(f.EventType))
	}
	if !f.Since.IsZero() {
		query += " AND occurred_at >= " + arg(f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND occurred_at <= " + arg(f.Until)
	}
	query += " ORDER BY occurred_at ASC LIMIT " + arg(limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		var (
			e       model.Event
			ctxJSON []byte
			chain   []uuid.UUID
		)
		if err := rows.Scan(
			&e.ID, &e.OccurredAt, &e.AgentID, &e.AgentType, &e.SessionID, &e.EventType,
			&e.Payload, &chain, &ctxJSON, &e.Metadata,
			&e.ContextSizeBytes, &e.SegmentPointer, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		e.CausalityChain = chain
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("storage: decode event context: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
