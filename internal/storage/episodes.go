package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// SaveEpisode persists an episode. Open episodes are written through on
// every member event; the final write carries the closed state and outcome.
func (db *DB) SaveEpisode(ctx context.Context, ep *model.Episode) error {
	ctxJSON, err := json.Marshal(ep.Context)
	if err != nil {
		return fmt.Errorf("storage: marshal episode context: %w", err)
	}
	traceJSON, err := json.Marshal(ep.ActionTrace)
	if err != nil {
		return fmt.Errorf("storage: marshal action trace: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO episodes (id, agent_id, session_id, goal_id, event_ids, event_count,
		                       significance, outcome, state, context, context_hash,
		                       started_at, last_event, closed_at, action_trace, cognitive_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		   event_ids = EXCLUDED.event_ids,
		   event_count = EXCLUDED.event_count,
		   significance = EXCLUDED.significance,
		   outcome = EXCLUDED.outcome,
		   state = EXCLUDED.state,
		   context = EXCLUDED.context,
		   context_hash = EXCLUDED.context_hash,
		   last_event = EXCLUDED.last_event,
		   closed_at = EXCLUDED.closed_at,
		   action_trace = EXCLUDED.action_trace,
		   cognitive_count = EXCLUDED.cognitive_count`,
		ep.ID, ep.AgentID, ep.SessionID, ep.GoalID, ep.EventIDs, ep.EventCount,
		ep.Significance, ep.Outcome, string(ep.State), ctxJSON, int64(ep.ContextHash),
		ep.StartedAt, ep.LastEvent, ep.ClosedAt, traceJSON, ep.CognitiveCount,
	)
	if err != nil {
		return fmt.Errorf("storage: save episode: %w", err)
	}
	return nil
}

// GetEpisode retrieves an episode by id.
func (db *DB) GetEpisode(ctx context.Context, id uuid.UUID) (*model.Episode, error) {
	rows, err := db.pool.Query(ctx, episodeSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: get episode: %w", err)
	}
	defer rows.Close()

	eps, err := scanEpisodes(rows)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("storage: episode %s: %w", id, ErrNotFound)
	}
	return eps[0], nil
}

// ListEpisodes retrieves episodes matching the filter, newest first.
func (db *DB) ListEpisodes(ctx context.Context, f model.EpisodeFilter) ([]*model.Episode, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := episodeSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AgentID != "" {
		query += " AND agent_id = " + arg(f.AgentID)
	}
	if f.GoalID != "" {
		query += " AND goal_id = " + arg(f.GoalID)
	}
	if f.State != "" {
		query += " AND state = " + arg(string(f.State))
	}
	query += " ORDER BY started_at DESC LIMIT " + arg(limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list episodes: %w", err)
	}
	defer rows.Close()

	return scanEpisodes(rows)
}

const episodeSelect = `SELECT id, agent_id, session_id, goal_id, event_ids, event_count,
	significance, outcome, state, context, context_hash,
	started_at, last_event, closed_at, action_trace, cognitive_count
	FROM episodes`

func scanEpisodes(rows pgx.Rows) ([]*model.Episode, error) {
	var eps []*model.Episode
	for rows.Next() {
		var (
			ep          model.Episode
			eventIDs    []uuid.UUID
			ctxJSON     []byte
			traceJSON   []byte
			contextHash int64
		)
		if err := rows.Scan(
			&ep.ID, &ep.AgentID, &ep.SessionID, &ep.GoalID, &eventIDs, &ep.EventCount,
			&ep.Significance, &ep.Outcome, &ep.State, &ctxJSON, &contextHash,
			&ep.StartedAt, &ep.LastEvent, &ep.ClosedAt, &traceJSON, &ep.CognitiveCount,
		); err != nil {
			return nil, fmt.Errorf("storage: scan episode: %w", err)
		}
		ep.EventIDs = eventIDs
		ep.ContextHash = uint64(contextHash)
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &ep.Context); err != nil {
				return nil, fmt.Errorf("storage: decode episode context: %w", err)
			}
		}
		if len(traceJSON) > 0 {
			if err := json.Unmarshal(traceJSON, &ep.ActionTrace); err != nil {
				return nil, fmt.Errorf("storage: decode action trace: %w", err)
			}
		}
		eps = append(eps, &ep)
	}
	return eps, rows.Err()
}
