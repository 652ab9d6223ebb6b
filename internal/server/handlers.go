package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/auth"
	"github.com/ashita-ai/kioku/internal/engine"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	engine  *engine.Engine
	auth    *auth.Authenticator
	logger  *slog.Logger
	version string
}

// NewHandlers creates the handler set.
func NewHandlers(eng *engine.Engine, authn *auth.Authenticator, logger *slog.Logger, version string) *Handlers {
	return &Handlers{engine: eng, auth: authn, logger: logger, version: version}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleAuthToken exchanges the API key for a short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey  string `json:"api_key"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}

	token, exp, err := h.auth.Exchange(req.APIKey, req.AgentID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
	})
}

// HandleIngest accepts one event. Semantic enrichment is on by default;
// ?semantic=false skips it.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid event body: "+err.Error())
		return
	}

	semantic := r.URL.Query().Get("semantic") != "false"
	res, err := h.engine.Ingest(r.Context(), &ev, semantic)
	if err != nil {
		writeIngestError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

func writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *model.ValidationError
		ordering *model.CausalOrderingViolation
		capacity *model.CapacityExceeded
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, verr.Error())
	case errors.As(err, &ordering):
		writeError(w, r, http.StatusConflict, model.ErrCodeOrderingViolation, ordering.Error())
	case errors.Is(err, model.ErrDuplicateEvent):
		writeError(w, r, http.StatusConflict, model.ErrCodeDuplicateEvent, "event id already exists")
	case errors.As(err, &capacity):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeCapacityExceeded, capacity.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "ingestion failed")
	}
}

// HandleListEvents lists persisted events.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EventFilter{
		AgentID:   q.Get("agent_id"),
		SessionID: q.Get("session_id"),
		EventType: model.EventType(q.Get("event_type")),
		Limit:     queryInt(r, "limit", 100),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid since timestamp")
			return
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid until timestamp")
			return
		}
		f.Until = t
	}

	events, err := h.engine.Events(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "list events failed")
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleGetEvent returns one event by id.
func (h *Handlers) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("event_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid event id")
		return
	}
	ev, err := h.engine.Event(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "event not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "get event failed")
		return
	}
	writeJSON(w, r, http.StatusOK, ev)
}

// HandleListEpisodes lists episodes; state=Open serves from the in-memory
// detector.
func (h *Handlers) HandleListEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eps, err := h.engine.Episodes(r.Context(), model.EpisodeFilter{
		AgentID: q.Get("agent_id"),
		GoalID:  q.Get("goal_id"),
		State:   model.EpisodeState(q.Get("state")),
		Limit:   queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "list episodes failed")
		return
	}
	writeJSON(w, r, http.StatusOK, eps)
}

// HandleAgentMemories returns an agent's memories, most relevant first.
func (h *Handlers) HandleAgentMemories(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	mems := h.engine.MemoriesByAgent(r.Context(), agentID, queryInt(r, "limit", 10))
	writeJSON(w, r, http.StatusOK, mems)
}

// HandleWorkingMemories returns transient views of an agent's open episodes.
func (h *Handlers) HandleWorkingMemories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.WorkingMemories(r.PathValue("agent_id")))
}

// HandleContextMemories retrieves memories by context similarity.
func (h *Handlers) HandleContextMemories(w http.ResponseWriter, r *http.Request) {
	var q model.ContextQuery
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid context query")
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.MemoriesByContext(r.Context(), q))
}

// HandleGetMemory returns one memory by id.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("memory_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid memory id")
		return
	}
	m, err := h.engine.Memory(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "memory not found")
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// HandleAgentStrategies returns an agent's strategies, best quality first.
func (h *Handlers) HandleAgentStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK,
		h.engine.StrategiesByAgent(r.PathValue("agent_id"), queryInt(r, "limit", 50)))
}

// HandleSimilarStrategies ranks strategies against a query.
func (h *Handlers) HandleSimilarStrategies(w http.ResponseWriter, r *http.Request) {
	var q model.StrategyQuery
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid strategy query")
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.SimilarStrategies(q))
}

// HandleSuggestActions is the policy guide endpoint.
func (h *Handlers) HandleSuggestActions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContextHash uint64 `json:"context_hash"`
		LastAction  string `json:"last_action"`
		Limit       int    `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.SuggestActions(req.ContextHash, req.LastAction, req.Limit))
}

// HandleListClaims lists claims newest first.
func (h *Handlers) HandleListClaims(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK,
		h.engine.Claims(queryInt(r, "limit", 50), queryInt(r, "offset", 0)))
}

// HandleGetClaim returns one claim by id, any status.
func (h *Handlers) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("claim_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid claim id")
		return
	}
	c, err := h.engine.Claim(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "claim not found")
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleSearchClaims runs semantic claim search.
func (h *Handlers) HandleSearchClaims(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query         string  `json:"query"`
		TopK          int     `json:"top_k"`
		MinSimilarity float64 `json:"min_similarity"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "query is required")
		return
	}
	matches, err := h.engine.SearchClaims(r.Context(), req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "claim search failed")
		return
	}
	writeJSON(w, r, http.StatusOK, matches)
}

// HandleProcessPendingClaims backfills embeddings for claims stored without
// one.
func (h *Handlers) HandleProcessPendingClaims(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		req.Limit = 0 // empty body is fine, use the default batch
	}
	processed, succeeded := h.engine.ProcessPendingClaims(r.Context(), req.Limit)
	writeJSON(w, r, http.StatusOK, map[string]int{
		"processed": processed,
		"succeeded": succeeded,
	})
}

// HandleGraph returns the full graph snapshot.
func (h *Handlers) HandleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.GraphSnapshot())
}

// HandleNeighborhood returns the subgraph around an anchor node.
func (h *Handlers) HandleNeighborhood(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nodeType := model.NodeType(q.Get("node_type"))
	key := q.Get("key")
	if nodeType == "" || key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "node_type and key are required")
		return
	}
	depth := queryInt(r, "depth", 2)
	writeJSON(w, r, http.StatusOK, h.engine.Neighborhood(nodeType, key, depth))
}

// HandleCommunities runs Louvain community detection.
func (h *Handlers) HandleCommunities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Communities())
}

// HandleComponents runs connected components.
func (h *Handlers) HandleComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Components())
}

// HandleCentrality runs the centrality suite.
func (h *Handlers) HandleCentrality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Centrality(r.Context()))
}

// HandlePaths returns diameter and average path length.
func (h *Handlers) HandlePaths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.PathStats())
}

// HandleGoals returns the derived goal registry.
func (h *Handlers) HandleGoals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Goals())
}

// HandleStats returns the engine's operational summary.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Stats())
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
