package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// SaveStrategy persists a strategy, write-through on creation and every
// reinforcement.
func (db *DB) SaveStrategy(ctx context.Context, s *model.Strategy) error {
	stepsJSON, err := json.Marshal(s.ReasoningSteps)
	if err != nil {
		return fmt.Errorf("storage: marshal reasoning steps: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO strategies (id, name, agent_id, quality_score, success_count, failure_count,
		                         support_count, reasoning_steps, strategy_type, expected_success,
		                         expected_cost, expected_value, confidence, goal_bucket_id,
		                         behavior_signature, precondition, action_hint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
		   quality_score = EXCLUDED.quality_score,
		   success_count = EXCLUDED.success_count,
		   failure_count = EXCLUDED.failure_count,
		   support_count = EXCLUDED.support_count,
		   reasoning_steps = EXCLUDED.reasoning_steps,
		   expected_success = EXCLUDED.expected_success,
		   expected_cost = EXCLUDED.expected_cost,
		   expected_value = EXCLUDED.expected_value,
		   confidence = EXCLUDED.confidence,
		   action_hint = EXCLUDED.action_hint,
		   updated_at = EXCLUDED.updated_at`,
		s.ID, s.Name, s.AgentID, s.QualityScore, s.SuccessCount, s.FailureCount,
		s.SupportCount, stepsJSON, s.StrategyType, s.ExpectedSuccess,
		s.ExpectedCost, s.ExpectedValue, s.Confidence, s.GoalBucketID,
		s.BehaviorSignature, int64(s.Precondition), s.ActionHint, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save strategy: %w", err)
	}
	return nil
}

// ListStrategiesByAgent retrieves an agent's strategies, best quality first.
func (db *DB) ListStrategiesByAgent(ctx context.Context, agentID string, limit int) ([]*model.Strategy, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		strategySelect+` WHERE agent_id = $1
		 ORDER BY quality_score DESC, updated_at DESC
		 LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list strategies: %w", err)
	}
	defer rows.Close()

	return scanStrategies(rows)
}

// LoadStrategies reads all persisted strategies, oldest first. Used at
// startup to rebuild the learner's in-memory state.
func (db *DB) LoadStrategies(ctx context.Context) ([]*model.Strategy, error) {
	rows, err := db.pool.Query(ctx, strategySelect+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: load strategies: %w", err)
	}
	defer rows.Close()

	return scanStrategies(rows)
}

const strategySelect = `SELECT id, name, agent_id, quality_score, success_count, failure_count,
	support_count, reasoning_steps, strategy_type, expected_success,
	expected_cost, expected_value, confidence, goal_bucket_id,
	behavior_signature, precondition, action_hint, created_at, updated_at
	FROM strategies`

func scanStrategies(rows pgx.Rows) ([]*model.Strategy, error) {
	var strategies []*model.Strategy
	for rows.Next() {
		var (
			s            model.Strategy
			stepsJSON    []byte
			precondition int64
		)
		if err := rows.Scan(
			&s.ID, &s.Name, &s.AgentID, &s.QualityScore, &s.SuccessCount, &s.FailureCount,
			&s.SupportCount, &stepsJSON, &s.StrategyType, &s.ExpectedSuccess,
			&s.ExpectedCost, &s.ExpectedValue, &s.Confidence, &s.GoalBucketID,
			&s.BehaviorSignature, &precondition, &s.ActionHint, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan strategy: %w", err)
		}
		s.Precondition = uint64(precondition)
		if len(stepsJSON) > 0 {
			if err := json.Unmarshal(stepsJSON, &s.ReasoningSteps); err != nil {
				return nil, fmt.Errorf("storage: decode reasoning steps: %w", err)
			}
		}
		strategies = append(strategies, &s)
	}
	return strategies, rows.Err()
}
