package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kioku/internal/engine"
	"github.com/ashita-ai/kioku/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), engine.Dependencies{
		Store:  testutil.NewMemStore(),
		Logger: testLogger(),
	})
	return New(eng, testLogger(), "test")
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestRecord_ClosesEpisodeOnCompletion(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRecord(ctx, callRequest("kioku_record", map[string]any{
		"agent_id":         "agent-1",
		"session_id":       "s1",
		"action":           "restart_service",
		"outcome":          "success",
		"goal_id":          "g1",
		"goal_description": "restore service health",
		"goal_progress":    0.5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	res, err = s.handleRecord(ctx, callRequest("kioku_record", map[string]any{
		"agent_id":      "agent-1",
		"session_id":    "s1",
		"action":        "verify_health",
		"outcome":       "success",
		"goal_id":       "g1",
		"goal_progress": 1.0,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out struct {
		EventID          string `json:"event_id"`
		PatternsDetected int    `json:"patterns_detected"`
		Status           string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "recorded", out.Status)
	assert.NotEmpty(t, out.EventID)
	assert.Equal(t, 1, out.PatternsDetected)
}

func TestRecord_AssignsSessionIDWhenOmitted(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRecord(ctx, callRequest("kioku_record", map[string]any{
		"agent_id": "agent-1",
		"action":   "restart_service",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out struct {
		EventID   string `json:"event_id"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "recorded", out.Status)
	require.NotEmpty(t, out.SessionID)

	// Reusing the returned id keeps follow-up records in the same session.
	res, err = s.handleRecord(ctx, callRequest("kioku_record", map[string]any{
		"agent_id":   "agent-1",
		"session_id": out.SessionID,
		"action":     "verify_health",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var second struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &second))
	assert.Equal(t, out.SessionID, second.SessionID)
}

func TestRecord_RequiresAgentAndAction(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleRecord(context.Background(), callRequest("kioku_record", map[string]any{
		"action": "restart_service",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSuggestActions_AfterLearnedEpisode(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, step := range []struct {
		action   string
		progress float64
	}{
		{"restart_service", 0.5},
		{"verify_health", 1.0},
	} {
		res, err := s.handleRecord(ctx, callRequest("kioku_record", map[string]any{
			"agent_id":      "agent-1",
			"session_id":    "s1",
			"action":        step.action,
			"outcome":       "success",
			"goal_id":       "g1",
			"goal_progress": step.progress,
		}))
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))
	}

	res, err := s.handleSuggestActions(ctx, callRequest("kioku_suggest_actions", map[string]any{
		"last_action": "restart_service",
		"limit":       5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Suggestions []struct {
			ActionName string `json:"action_name"`
		} `json:"suggestions"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.NotZero(t, out.Total)
	assert.Equal(t, "verify_health", out.Suggestions[0].ActionName)
}

func TestSearchClaims_RequiresQuery(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleSearchClaims(context.Background(), callRequest("kioku_search_claims", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestContextMemories(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleContextMemories(ctx, callRequest("kioku_context_memories", map[string]any{
		"environment": "not json",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleContextMemories(ctx, callRequest("kioku_context_memories", map[string]any{
		"environment": `{"region":"eu-west-1"}`,
		"limit":       5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Zero(t, out.Total)
}
