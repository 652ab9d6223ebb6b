// Package episode groups events into goal-scoped episodes and owns their
// lifecycle. State transitions are Open → Closing → Closed, atomic per
// (agent_id, session_id, goal_id); downstream components only ever see
// closed episodes.
package episode

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/identity"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

// Config holds the episode policy parameters. The significance weights and
// idle timeout are deployment policy, not engine constants.
type Config struct {
	// IdleTimeout force-closes an episode with outcome Abandoned when no new
	// member event arrives for this long.
	IdleTimeout time.Duration

	// Significance blend weights. Normalized internally, so they only need
	// to be relatively sized.
	EventCountWeight float64
	CognitiveWeight  float64
	OutcomeWeight    float64

	// Saturation points: event/cognitive counts at which those signals max out.
	EventCountSaturation     int
	CognitiveCountSaturation int
}

// DefaultConfig returns the default policy profile.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:              30 * time.Minute,
		EventCountWeight:         0.35,
		CognitiveWeight:          0.25,
		OutcomeWeight:            0.40,
		EventCountSaturation:     10,
		CognitiveCountSaturation: 3,
	}
}

type key struct {
	agentID   string
	sessionID string
	goalID    string
}

// Detector is the episode state machine. Safe for concurrent use; no two
// concurrent events can both observe "not yet closed" and both close the
// same episode.
type Detector struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Aggregator
	now     func() time.Time

	mu   sync.Mutex
	open map[key]*model.Episode
}

// NewDetector creates a Detector.
func NewDetector(cfg Config, logger *slog.Logger, agg *metrics.Aggregator) *Detector {
	if cfg.IdleTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		cfg:     cfg,
		logger:  logger,
		metrics: agg,
		now:     time.Now,
		open:    make(map[key]*model.Episode),
	}
}

// SetClock injects a clock for tests.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Observe folds one event into the episodes of its active goals, opening
// new episodes as needed, and returns any episodes the event closed.
// An event with no active goals belongs to no episode.
func (d *Detector) Observe(e *model.Event) []model.Episode {
	if len(e.Context.ActiveGoals) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var closed []model.Episode
	for _, g := range e.Context.ActiveGoals {
		k := key{agentID: e.AgentID, sessionID: e.SessionID, goalID: g.ID}
		ep, ok := d.open[k]
		if !ok {
			ep = &model.Episode{
				ID:        uuid.New(),
				AgentID:   e.AgentID,
				SessionID: e.SessionID,
				GoalID:    g.ID,
				State:     model.EpisodeOpen,
				StartedAt: e.OccurredAt,
			}
			d.open[k] = ep
			if d.metrics != nil {
				d.metrics.EpisodesOpened.Add(1)
			}
		}

		ep.EventIDs = append(ep.EventIDs, e.ID)
		ep.EventCount = len(ep.EventIDs)
		ep.LastEvent = e.OccurredAt
		ep.Context = e.Context
		ep.ContextHash = e.Context.Fingerprint
		if ep.ContextHash == 0 {
			ep.ContextHash = identity.Fingerprint(e.Context)
		}

		switch e.EventType {
		case model.EventCognitive:
			ep.CognitiveCount++
		case model.EventAction:
			if p, err := e.Action(); err != nil {
				d.logger.Warn("episode: malformed action payload", "event_id", e.ID, "error", err)
			} else if p.Name != "" {
				ep.ActionTrace = append(ep.ActionTrace, model.ActionStep{
					Name: p.Name, Tool: p.Tool, Outcome: p.Outcome,
				})
			}
		}

		if g.Progress >= 1.0 {
			d.close(k, ep, outcomeFromTrace(ep))
			closed = append(closed, *ep)
		}
	}
	return closed
}

// SweepIdle force-closes episodes that have been idle past the configured
// timeout, with outcome Abandoned. Returns the episodes closed.
func (d *Detector) SweepIdle() []model.Episode {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var closed []model.Episode
	for k, ep := range d.open {
		if now.Sub(ep.LastEvent) >= d.cfg.IdleTimeout {
			d.close(k, ep, model.OutcomeAbandoned)
			closed = append(closed, *ep)
		}
	}
	return closed
}

// OpenEpisodes returns copies of the currently open episodes, optionally
// filtered by agent. Used for working-memory views of mid-flight work.
func (d *Detector) OpenEpisodes(agentID string) []model.Episode {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Episode
	for _, ep := range d.open {
		if agentID == "" || ep.AgentID == agentID {
			out = append(out, *ep)
		}
	}
	return out
}

// close runs the Closing phase (significance and outcome finalization) and
// moves the episode to Closed. Called with d.mu held. Closed episodes never
// reopen; the key is freed so a reused goal id starts a fresh episode.
func (d *Detector) close(k key, ep *model.Episode, outcome string) {
	ep.State = model.EpisodeClosing
	ep.Outcome = outcome
	ep.Significance = d.significance(ep)
	now := d.now().UTC()
	ep.ClosedAt = &now
	ep.State = model.EpisodeClosed

	delete(d.open, k)
	if d.metrics != nil {
		d.metrics.EpisodesClosed.Add(1)
	}
	d.logger.Info("episode: closed",
		"episode_id", ep.ID, "agent_id", ep.AgentID, "goal_id", ep.GoalID,
		"outcome", ep.Outcome, "events", ep.EventCount, "significance", ep.Significance)
}

// significance blends event volume, reasoning depth (cognitive events) and
// outcome polarity. Failure lowers the score but never zeroes it — failed
// attempts are valuable negative-memory evidence.
func (d *Detector) significance(ep *model.Episode) float64 {
	total := d.cfg.EventCountWeight + d.cfg.CognitiveWeight + d.cfg.OutcomeWeight
	if total <= 0 {
		return 0
	}

	events := saturate(ep.EventCount, d.cfg.EventCountSaturation)
	cognitive := saturate(ep.CognitiveCount, d.cfg.CognitiveCountSaturation)

	var polarity float64
	switch ep.Outcome {
	case model.OutcomeSuccess:
		polarity = 1.0
	case model.OutcomeFailure:
		polarity = 0.4
	default: // Abandoned
		polarity = 0.2
	}

	s := (d.cfg.EventCountWeight*events + d.cfg.CognitiveWeight*cognitive + d.cfg.OutcomeWeight*polarity) / total
	if s > 1 {
		s = 1
	}
	return s
}

func saturate(n, at int) float64 {
	if at <= 0 {
		at = 1
	}
	v := float64(n) / float64(at)
	if v > 1 {
		return 1
	}
	return v
}

// outcomeFromTrace classifies a completed episode from its final action
// outcome. A goal that reached full progress with no failing final action is
// a success.
func outcomeFromTrace(ep *model.Episode) string {
	for i := len(ep.ActionTrace) - 1; i >= 0; i-- {
		switch normalizeOutcome(ep.ActionTrace[i].Outcome) {
		case model.OutcomeSuccess:
			return model.OutcomeSuccess
		case model.OutcomeFailure:
			return model.OutcomeFailure
		}
	}
	return model.OutcomeSuccess
}

func normalizeOutcome(s string) string {
	switch s {
	case "success", "Success", "ok", "succeeded":
		return model.OutcomeSuccess
	case "failure", "Failure", "error", "failed":
		return model.OutcomeFailure
	default:
		return ""
	}
}

// NormalizeOutcome exposes outcome normalization for the strategy learner's
// behavior signatures.
func NormalizeOutcome(s string) string { return normalizeOutcome(s) }
