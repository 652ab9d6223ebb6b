package model

import (
	"time"

	"github.com/google/uuid"
)

// EpisodeState is the lifecycle state of an episode. Transitions are
// strictly Open → Closing → Closed and never reverse; a goal id reused
// after closure starts a fresh episode.
type EpisodeState string

const (
	EpisodeOpen    EpisodeState = "Open"
	EpisodeClosing EpisodeState = "Closing"
	EpisodeClosed  EpisodeState = "Closed"
)

// Episode outcomes assigned at closure.
const (
	OutcomeSuccess   = "Success"
	OutcomeFailure   = "Failure"
	OutcomeAbandoned = "Abandoned"
)

// Episode is a goal-scoped sequence of events representing one task attempt,
// keyed by (agent_id, session_id, goal_id). The episode detector exclusively
// owns state transitions; downstream components only read closed episodes.
type Episode struct {
	ID        uuid.UUID `json:"id"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	GoalID    string    `json:"goal_id"`

	EventIDs     []uuid.UUID  `json:"event_ids"`
	EventCount   int          `json:"event_count"` // always len(EventIDs)
	Significance float64      `json:"significance"` // [0,1]
	Outcome      string       `json:"outcome,omitempty"`
	State        EpisodeState `json:"state"`

	// Snapshot of the context the episode closed under, used for memory
	// formation. Taken from the last member event.
	Context     EventContext `json:"context"`
	ContextHash uint64       `json:"context_hash"`

	StartedAt  time.Time  `json:"started_at"`
	LastEvent  time.Time  `json:"last_event"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	// ActionTrace records (action name, outcome) pairs in order, feeding the
	// strategy learner's behavior signature.
	ActionTrace []ActionStep `json:"action_trace,omitempty"`

	CognitiveCount int `json:"cognitive_count"`
}

// ActionStep is one action taken during an episode.
type ActionStep struct {
	Name    string `json:"name"`
	Tool    string `json:"tool,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}
