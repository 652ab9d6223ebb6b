package model

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports a malformed event rejected before persistence.
// Nothing is partially applied when this is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// CausalOrderingViolation reports a timestamp that regresses below the
// maximum this agent+session has already produced. The event is not persisted.
type CausalOrderingViolation struct {
	AgentID   string
	SessionID string
	Got       time.Time
	MaxSeen   time.Time
}

func (e *CausalOrderingViolation) Error() string {
	return fmt.Sprintf("causal ordering violation: agent %s session %s: timestamp %s precedes %s",
		e.AgentID, e.SessionID, e.Got.Format(time.RFC3339Nano), e.MaxSeen.Format(time.RFC3339Nano))
}

// CapacityExceeded reports a hard limit hit on a write path. Retryable:
// the caller may back off and resubmit. Cache overflow never raises this —
// caches evict silently.
type CapacityExceeded struct {
	Resource string
	Limit    int
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded: %s (limit %d)", e.Resource, e.Limit)
}

// ErrDuplicateEvent is returned when an event with an explicitly supplied id
// already exists in the store. Duplicate-id policy is reject, not upsert.
var ErrDuplicateEvent = errors.New("model: duplicate event id")

// IsRetryable reports whether an ingestion error is worth retrying.
func IsRetryable(err error) bool {
	var cap *CapacityExceeded
	return errors.As(err, &cap)
}

// inRange checks a [lo,hi] bound. NaN fails both comparisons, so it is
// out of range.
func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// ValidateEvent checks event shape and numeric ranges. Called at the
// boundary before identity defaulting; the same invariants hold inside
// the core.
func ValidateEvent(e *Event) error {
	if e.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "required"}
	}
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "required"}
	}
	if !e.EventType.Valid() {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown variant %q", e.EventType)}
	}
	for i, g := range e.Context.ActiveGoals {
		if g.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("active_goals[%d].id", i), Reason: "required"}
		}
		if !inRange(g.Priority, 0, 1) {
			return &ValidationError{Field: fmt.Sprintf("active_goals[%d].priority", i), Reason: "must be in [0,1]"}
		}
		if !inRange(g.Progress, 0, 1) {
			return &ValidationError{Field: fmt.Sprintf("active_goals[%d].progress", i), Reason: "must be in [0,1]"}
		}
	}
	if cpu := e.Context.Resources.CPUPercent; !inRange(cpu, 0, 100) {
		return &ValidationError{Field: "resources.cpu_percent", Reason: "must be in [0,100]"}
	}
	if t := e.Context.Environment.Temporal; t != nil {
		if t.Hour < 0 || t.Hour > 23 {
			return &ValidationError{Field: "environment.temporal.hour", Reason: "must be in [0,23]"}
		}
		if t.Minute < 0 || t.Minute > 59 {
			return &ValidationError{Field: "environment.temporal.minute", Reason: "must be in [0,59]"}
		}
	}
	return nil
}
