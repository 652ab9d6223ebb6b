package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kioku/internal/model"
)

func (s *Server) registerTools() {
	// kioku_record — record an action event into the agent's memory.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_record",
			mcplib.WithDescription(`Record an action you just took so it becomes part of your long-term memory.

WHEN TO USE: After every meaningful action — running a tool, making a change,
completing or abandoning a goal. Recorded actions feed episode detection,
memory formation, and strategy learning; unrecorded actions are invisible to
future retrieval.

Set goal_progress=1.0 when the action completed the goal. That closes the
current episode and consolidates it into a retrievable memory.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id",
				mcplib.Description("Your agent identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Current session identifier. Omit to let the server assign one; reuse the returned session_id on follow-up records."),
			),
			mcplib.WithString("action",
				mcplib.Description("Name of the action taken, e.g. 'restart_service'"),
				mcplib.Required(),
			),
			mcplib.WithString("outcome",
				mcplib.Description("How it went: 'success', 'failure', or free text"),
			),
			mcplib.WithString("goal_id",
				mcplib.Description("Identifier of the goal this action serves"),
			),
			mcplib.WithString("goal_description",
				mcplib.Description("Human-readable description of the goal"),
			),
			mcplib.WithNumber("goal_progress",
				mcplib.Description("Progress toward the goal (0.0-1.0). 1.0 closes the episode."),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleRecord,
	)

	// kioku_suggest_actions — consult learned strategies before acting.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_suggest_actions",
			mcplib.WithDescription(`Ask what to do next based on learned strategies.

WHEN TO USE: BEFORE choosing an action in a situation you may have seen
before. Suggestions come from action transitions observed in successful
episodes, ranked by smoothed success probability.

WHAT YOU GET BACK: candidate next actions with success probability, evidence
count, and a short reasoning line. An empty list means no relevant experience
exists yet — proceed on your own judgment and record the outcome.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("last_action",
				mcplib.Description("The action you just completed, e.g. 'restart_service'"),
			),
			mcplib.WithNumber("context_hash",
				mcplib.Description("Context fingerprint from a prior retrieval, if known. 0 matches any context."),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum suggestions to return"),
				mcplib.Min(1),
				mcplib.Max(20),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleSuggestActions,
	)

	// kioku_search_claims — semantic search over extracted knowledge.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_search_claims",
			mcplib.WithDescription(`Search extracted knowledge claims by semantic similarity.

WHEN TO USE: When you need facts learned from past interactions — what was
said, observed, or concluded. Claims are deduplicated statements distilled
from event text, each carrying a confidence score.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language query"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum claims to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
			mcplib.WithNumber("min_similarity",
				mcplib.Description("Minimum cosine similarity threshold (0.0-1.0)"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleSearchClaims,
	)

	// kioku_context_memories — retrieve memories for the current situation.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_context_memories",
			mcplib.WithDescription(`Retrieve consolidated memories matching your current situation.

WHEN TO USE: At the start of a task, to recall what worked (or failed) in
similar situations. Matching is by environment variables — pass the stable
facts of your situation, not volatile ones like load or time.

WHAT YOU GET BACK: memories ranked by context similarity, each with the
episode summary, outcome, and current strength.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("environment",
				mcplib.Description(`JSON object of environment variables describing the situation, e.g. {"region":"eu-west-1","service":"api"}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent_id",
				mcplib.Description("Only retrieve this agent's memories"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum memories to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleContextMemories,
	)
}

func (s *Server) handleRecord(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	action := request.GetString("action", "")
	if agentID == "" || action == "" {
		return errorResult("agent_id and action are required"), nil
	}

	// Omitted session_id gets a fresh one. The caller must reuse the
	// returned id for follow-up records to land in the same episode.
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ev := &model.Event{
		OccurredAt: time.Now().UTC(),
		AgentID:    agentID,
		SessionID:  sessionID,
		EventType:  model.EventAction,
		Payload: map[string]any{
			"name":    action,
			"outcome": request.GetString("outcome", ""),
		},
	}
	if goalID := request.GetString("goal_id", ""); goalID != "" {
		ev.Context.ActiveGoals = []model.Goal{{
			ID:          goalID,
			Description: request.GetString("goal_description", ""),
			Priority:    1,
			Progress:    request.GetFloat("goal_progress", 0),
		}}
	}

	res, err := s.engine.Ingest(ctx, ev, true)
	if err != nil {
		return errorResult(fmt.Sprintf("record failed: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"event_id":          res.EventID,
		"session_id":        sessionID,
		"patterns_detected": res.PatternsDetected,
		"status":            "recorded",
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleSuggestActions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	suggestions := s.engine.SuggestActions(
		uint64(request.GetFloat("context_hash", 0)),
		request.GetString("last_action", ""),
		request.GetInt("limit", 5),
	)

	resultData, _ := json.MarshalIndent(map[string]any{
		"suggestions": suggestions,
		"total":       len(suggestions),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleSearchClaims(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	matches, err := s.engine.SearchClaims(ctx, query,
		request.GetInt("limit", 5),
		request.GetFloat("min_similarity", 0),
	)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"claims": matches,
		"total":  len(matches),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleContextMemories(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("environment", "")
	var variables map[string]any
	if err := json.Unmarshal([]byte(raw), &variables); err != nil {
		return errorResult("environment must be a JSON object"), nil
	}

	q := model.ContextQuery{
		AgentID: request.GetString("agent_id", ""),
		Limit:   request.GetInt("limit", 5),
	}
	q.Context.Environment.Variables = variables

	matches := s.engine.MemoriesByContext(ctx, q)

	resultData, _ := json.MarshalIndent(map[string]any{
		"memories": matches,
		"total":    len(matches),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
