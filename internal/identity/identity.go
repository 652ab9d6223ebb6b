package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/model"
)

// Assigner fills in missing event identity and enforces per-session
// timestamp monotonicity. Safe for concurrent use.
type Assigner struct {
	mu      sync.Mutex
	maxSeen map[string]time.Time // agent_id + "\x00" + session_id → max timestamp produced
	now     func() time.Time
}

// NewAssigner creates an Assigner using the real clock.
func NewAssigner() *Assigner {
	return &Assigner{
		maxSeen: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewAssignerWithClock creates an Assigner with an injected clock for tests.
func NewAssignerWithClock(now func() time.Time) *Assigner {
	return &Assigner{maxSeen: make(map[string]time.Time), now: now}
}

// AssignDefaults fills the event's id (fresh uuid when absent), timestamp
// (current nanosecond clock when absent) and context fingerprint (when the
// caller left it zero). A caller-supplied timestamp that regresses below the
// session's high-water mark is rejected as a CausalOrderingViolation; the
// event must not be persisted in that case.
func (a *Assigner) AssignDefaults(e *model.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	now := a.now().UTC()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	key := e.AgentID + "\x00" + e.SessionID
	a.mu.Lock()
	defer a.mu.Unlock()
	if max, ok := a.maxSeen[key]; ok && e.OccurredAt.Before(max) {
		return &model.CausalOrderingViolation{
			AgentID:   e.AgentID,
			SessionID: e.SessionID,
			Got:       e.OccurredAt,
			MaxSeen:   max,
		}
	}
	a.maxSeen[key] = e.OccurredAt

	if e.Context.Fingerprint == 0 {
		e.Context.Fingerprint = Fingerprint(e.Context)
	}
	return nil
}
