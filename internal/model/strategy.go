package model

import (
	"time"

	"github.com/google/uuid"
)

// Strategy is a learned, reinforced action pattern for a goal bucket.
// QualityScore, ExpectedSuccess and ExpectedValue are recomputed from the
// success/failure counters — never set directly.
type Strategy struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	AgentID string    `json:"agent_id"`

	QualityScore float64 `json:"quality_score"` // [0,1]
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	SupportCount int     `json:"support_count"`

	ReasoningSteps []ReasoningStep `json:"reasoning_steps,omitempty"`
	StrategyType   string          `json:"strategy_type,omitempty"`

	ExpectedSuccess float64 `json:"expected_success"` // [0,1]
	ExpectedCost    float64 `json:"expected_cost"`
	ExpectedValue   float64 `json:"expected_value"`
	Confidence      float64 `json:"confidence"` // [0,1], grows with evidence

	GoalBucketID      string `json:"goal_bucket_id"`
	BehaviorSignature string `json:"behavior_signature"`
	Precondition      uint64 `json:"precondition,omitempty"` // context fingerprint observed at episode start
	ActionHint        string `json:"action_hint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReasoningStep is one ordered step in a strategy's playbook.
type ReasoningStep struct {
	Description   string `json:"description"`
	SequenceOrder int    `json:"sequence_order"`
}

// StrategyMatch is a strategy annotated with the similarity score that
// selected it.
type StrategyMatch struct {
	Strategy Strategy `json:"strategy"`
	Score    float64  `json:"score"`
}

// ActionSuggestion is a policy-guide recommendation.
type ActionSuggestion struct {
	ActionName         string  `json:"action_name"`
	SuccessProbability float64 `json:"success_probability"`
	EvidenceCount      int     `json:"evidence_count"`
	Reasoning          string  `json:"reasoning"`
}
