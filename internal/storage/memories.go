package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// SaveMemory persists a memory. Retrieval bookkeeping (access count, decayed
// strength) is written through on each touch.
func (db *DB) SaveMemory(ctx context.Context, m *model.Memory) error {
	ctxJSON, err := json.Marshal(m.Context)
	if err != nil {
		return fmt.Errorf("storage: marshal memory context: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO memories (id, episode_id, agent_id, session_id, memory_type,
		                       strength, relevance_score, access_count, context_hash,
		                       context, outcome, summary, formed_at, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   strength = EXCLUDED.strength,
		   relevance_score = EXCLUDED.relevance_score,
		   access_count = EXCLUDED.access_count,
		   last_accessed = EXCLUDED.last_accessed`,
		m.ID, m.EpisodeID, m.AgentID, m.SessionID, string(m.MemoryType),
		m.Strength, m.RelevanceScore, m.AccessCount, int64(m.ContextHash),
		ctxJSON, m.Outcome, m.Summary, m.FormedAt, m.LastAccessed,
	)
	if err != nil {
		return fmt.Errorf("storage: save memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by id.
func (db *DB) GetMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	rows, err := db.pool.Query(ctx, memorySelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: get memory: %w", err)
	}
	defer rows.Close()

	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
	}
	return mems[0], nil
}

// ListMemoriesByAgent retrieves an agent's memories, most relevant first
// with recency as the tie-break.
func (db *DB) ListMemoriesByAgent(ctx context.Context, agentID string, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		memorySelect+` WHERE agent_id = $1
		 ORDER BY relevance_score DESC, last_accessed DESC
		 LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListMemoriesByContextHash retrieves memories formed under an exact context
// fingerprint.
func (db *DB) ListMemoriesByContextHash(ctx context.Context, hash uint64, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		memorySelect+` WHERE context_hash = $1
		 ORDER BY relevance_score DESC
		 LIMIT $2`, int64(hash), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list memories by context: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

const memorySelect = `SELECT id, episode_id, agent_id, session_id, memory_type,
	strength, relevance_score, access_count, context_hash,
	context, outcome, summary, formed_at, last_accessed
	FROM memories`

func scanMemories(rows pgx.Rows) ([]*model.Memory, error) {
	var mems []*model.Memory
	for rows.Next() {
		var (
			m           model.Memory
			ctxJSON     []byte
			contextHash int64
		)
		if err := rows.Scan(
			&m.ID, &m.EpisodeID, &m.AgentID, &m.SessionID, &m.MemoryType,
			&m.Strength, &m.RelevanceScore, &m.AccessCount, &contextHash,
			&ctxJSON, &m.Outcome, &m.Summary, &m.FormedAt, &m.LastAccessed,
		); err != nil {
			return nil, fmt.Errorf("storage: scan memory: %w", err)
		}
		m.ContextHash = uint64(contextHash)
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &m.Context); err != nil {
				return nil, fmt.Errorf("storage: decode memory context: %w", err)
			}
		}
		mems = append(mems, &m)
	}
	return mems, rows.Err()
}
