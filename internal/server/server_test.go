package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebPilotHQ/webpilot/internal/config"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

// fakeBackend serves the workflow service wire protocol.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id":    "7",
			"goal_entities": map[string]string{"name": "John"},
		})
	})
	mux.HandleFunc("POST /sessions/7/step", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"instruction":       "Click the login button",
			"action_type":       "click",
			"confidence":        0.95,
			"progress_estimate": 0.3,
		})
	})
	mux.HandleFunc("POST /sessions/7/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = fakeBackend(t).URL
	cfg.Backend.Timeout = 5 * time.Second
	srv := New(cfg, logging.NewNop())
	t.Cleanup(func() { srv.Close() })
	return srv
}

type stateResponse struct {
	State session.State `json:"state"`
	Error string        `json:"error,omitempty"`
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (int, stateResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s response (%d): %v: %s", method, path, rec.Code, err, rec.Body.String())
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateStartsIdle(t *testing.T) {
	srv := newTestServer(t)
	code, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, session.StateIdle, out.State.MachineState)
}

func TestSessionLifecycleOverREST(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, out := doJSON(t, h, http.MethodPost, "/api/session/start",
		map[string]interface{}{"goal": "log into the portal", "tab_id": 1})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, session.StateConfirmingEntities, out.State.MachineState)
	assert.Equal(t, "7", out.State.BackendSessionID)
	assert.Equal(t, "John", out.State.GoalEntities["name"])

	// Starting again conflicts with the running session.
	code, out = doJSON(t, h, http.MethodPost, "/api/session/start",
		map[string]interface{}{"goal": "something else", "tab_id": 2})
	assert.Equal(t, http.StatusConflict, code)

	code, out = doJSON(t, h, http.MethodPost, "/api/session/entities",
		map[string]interface{}{"entities": map[string]string{"name": "John Smith"}})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, session.StateCapturing, out.State.MachineState)
	assert.Equal(t, "John Smith", out.State.GoalEntities["name"])

	code, out = doJSON(t, h, http.MethodPost, "/api/session/step",
		map[string]interface{}{
			"page_content":  "<button>Log in</button>",
			"url":           "https://portal.example/login",
			"title":         "Login",
			"element_count": 4,
		})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, session.StateShowingStep, out.State.MachineState)
	require.NotNil(t, out.State.CurrentStep)
	assert.Equal(t, "Click the login button", out.State.CurrentStep.Instruction)
	assert.Equal(t, 30, out.State.ProgressEstimate)

	code, out = doJSON(t, h, http.MethodPost, "/api/session/end",
		map[string]interface{}{"reason": "user_exit"})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, session.StateIdle, out.State.MachineState)
}

func TestStartValidation(t *testing.T) {
	srv := newTestServer(t)

	code, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/session/start",
		map[string]interface{}{"tab_id": 1})
	assert.Equal(t, http.StatusBadRequest, code, "goal is required")
}

func TestStateForTab(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, out := doJSON(t, h, http.MethodPost, "/api/session/start",
		map[string]interface{}{"goal": "x", "tab_id": 1})
	require.Equal(t, http.StatusOK, code, out.Error)

	code, out = doJSON(t, h, http.MethodGet, "/api/state/1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, out.State.IsIdle())

	code, out = doJSON(t, h, http.MethodGet, "/api/state/42", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, out.State.IsIdle(), "non-participating tab sees idle")

	req := httptest.NewRequest(http.MethodGet, "/api/state/banana", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webpilot")
}

func TestRetryWhileIdleIsNoOp(t *testing.T) {
	srv := newTestServer(t)
	code, out := doJSON(t, srv.Handler(), http.MethodPost, "/api/session/retry", nil)
	assert.Equal(t, http.StatusOK, code, "an invalid-for-state event is a no-op, not an error")
	assert.True(t, out.State.IsIdle())
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req_caller", rec.Header().Get("X-Request-ID"))
}
