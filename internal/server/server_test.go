package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/auth"
	"github.com/ashita-ai/kioku/internal/engine"
	"github.com/ashita-ai/kioku/internal/ratelimit"
	"github.com/ashita-ai/kioku/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, apiKey string, limiter ratelimit.Limiter) *Server {
	t.Helper()

	eng := engine.New(engine.DefaultConfig(), engine.Dependencies{
		Store:  testutil.NewMemStore(),
		Logger: testLogger(),
	})

	var authn *auth.Authenticator
	jwtMgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)
	authn, err = auth.NewAuthenticator(apiKey, jwtMgr)
	require.NoError(t, err)

	return New(ServerConfig{
		Engine:              eng,
		Logger:              testLogger(),
		Auth:                authn,
		Limiter:             limiter,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func eventBody(agentID, sessionID string, progress float64) []byte {
	body := map[string]any{
		"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
		"agent_id":    agentID,
		"session_id":  sessionID,
		"event_type":  "Action",
		"payload": map[string]any{
			"name":    "restart_service",
			"outcome": "success",
		},
		"context": map[string]any{
			"environment": map[string]any{
				"variables": map[string]any{"region": "eu-west-1"},
			},
			"active_goals": []map[string]any{{
				"id":          "g1",
				"description": "restore service health",
				"priority":    0.9,
				"progress":    progress,
			}},
			"resources": map[string]any{},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "", nil)
	rec, env := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, env.Meta.RequestID)
}

func TestIngestAndQuery(t *testing.T) {
	srv := newTestServer(t, "", nil)
	h := srv.Handler()

	rec, env := doRequest(t, h, http.MethodPost, "/v1/events", eventBody("agent-1", "s1", 0.3), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Success)
	require.NotEmpty(t, res.EventID)

	// The event is queryable by filter and by id.
	rec, env = doRequest(t, h, http.MethodGet, "/v1/events?agent_id=agent-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 1)

	rec, _ = doRequest(t, h, http.MethodGet, "/v1/events/"+res.EventID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Progress 1.0 closes the episode; memories and strategies appear.
	rec, _ = doRequest(t, h, http.MethodPost, "/v1/events", eventBody("agent-1", "s1", 1.0), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = doRequest(t, h, http.MethodGet, "/v1/agents/agent-1/memories", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var memories []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &memories))
	assert.NotEmpty(t, memories)

	rec, env = doRequest(t, h, http.MethodGet, "/v1/agents/agent-1/strategies", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var strategies []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &strategies))
	assert.NotEmpty(t, strategies)

	rec, env = doRequest(t, h, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		GraphNodes int `json:"graph_nodes"`
		Memories   int `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Greater(t, stats.GraphNodes, 0)
	assert.Greater(t, stats.Memories, 0)
}

func TestIngest_ValidationError(t *testing.T) {
	srv := newTestServer(t, "", nil)

	body := eventBody("", "s1", 0.3) // missing agent_id
	rec, env := doRequest(t, srv.Handler(), http.MethodPost, "/v1/events", body, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestIngest_MalformedJSON(t *testing.T) {
	srv := newTestServer(t, "", nil)
	rec, env := doRequest(t, srv.Handler(), http.MethodPost, "/v1/events", []byte("{not json"), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Code)
}

func TestGetEvent_NotFound(t *testing.T) {
	srv := newTestServer(t, "", nil)
	rec, env := doRequest(t, srv.Handler(), http.MethodGet,
		"/v1/events/00000000-0000-0000-0000-000000000001", nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestAuth_RequiredWhenConfigured(t *testing.T) {
	srv := newTestServer(t, "secret-key", nil)
	h := srv.Handler()

	// No credentials.
	rec, _ := doRequest(t, h, http.MethodGet, "/v1/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// API key header.
	rec, _ = doRequest(t, h, http.MethodGet, "/v1/stats", nil, map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec, _ = doRequest(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_TokenExchange(t *testing.T) {
	srv := newTestServer(t, "secret-key", nil)
	h := srv.Handler()

	body, _ := json.Marshal(map[string]string{"api_key": "secret-key", "agent_id": "agent-1"})
	rec, env := doRequest(t, h, http.MethodPost, "/auth/token", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp.Token)

	rec, _ = doRequest(t, h, http.MethodGet, "/v1/stats", nil,
		map[string]string{"Authorization": "Bearer " + resp.Token})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bad key is rejected at exchange.
	body, _ = json.Marshal(map[string]string{"api_key": "wrong", "agent_id": "agent-1"})
	rec, _ = doRequest(t, h, http.MethodPost, "/auth/token", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	defer limiter.Close()
	srv := newTestServer(t, "", limiter)
	h := srv.Handler()

	var got429 bool
	for i := 0; i < 5; i++ {
		rec, _ := doRequest(t, h, http.MethodGet, "/v1/stats", nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.True(t, got429, "expected a 429 after the burst was exhausted")
}

func TestNeighborhood_RequiresAnchor(t *testing.T) {
	srv := newTestServer(t, "", nil)
	rec, env := doRequest(t, srv.Handler(), http.MethodGet, "/v1/graph/neighborhood", nil, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Code)
}

func TestContextMemories(t *testing.T) {
	srv := newTestServer(t, "", nil)
	h := srv.Handler()

	rec, _ := doRequest(t, h, http.MethodPost, "/v1/events", eventBody("agent-1", "s1", 1.0), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body, _ := json.Marshal(map[string]any{
		"context": map[string]any{
			"environment": map[string]any{
				"variables": map[string]any{"region": "eu-west-1"},
			},
			"resources": map[string]any{},
		},
		"limit": 5,
	})
	rec, env := doRequest(t, h, http.MethodPost, "/v1/memories/context", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []struct {
		Similarity float64 `json:"similarity"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &matches))
	require.NotEmpty(t, matches)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestRequestID_Propagates(t *testing.T) {
	srv := newTestServer(t, "", nil)

	rec, env := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil,
		map[string]string{"X-Request-ID": "req-abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-abc", env.Meta.RequestID)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestBodyLimit(t *testing.T) {
	srv := newTestServer(t, "", nil)

	big := []byte(fmt.Sprintf(`{"agent_id":%q`, string(make([]byte, 2<<20))))
	rec, _ := doRequest(t, srv.Handler(), http.MethodPost, "/v1/events", big, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
