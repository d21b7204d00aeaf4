package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebPilotHQ/webpilot/internal/backend"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/orchestrator"
	"github.com/WebPilotHQ/webpilot/internal/persist"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

type fakeWorkflow struct{}

func (fakeWorkflow) CreateSession(context.Context, string, string) (*backend.SessionInfo, error) {
	return &backend.SessionInfo{SessionID: "7", GoalEntities: map[string]string{"name": "John"}}, nil
}

func (fakeWorkflow) NextStep(context.Context, string, backend.PageContext) (*backend.StepResult, error) {
	return &backend.StepResult{
		Step:     &session.DynamicStep{Instruction: "Click Next", ActionType: "click", Confidence: 0.8},
		Progress: 50,
	}, nil
}

func (fakeWorkflow) Feedback(context.Context, string, string, *backend.PageContext) (*backend.StepResult, error) {
	return &backend.StepResult{
		Step: &session.DynamicStep{Instruction: "Try again", ActionType: "click", Confidence: 0.7},
	}, nil
}

func (fakeWorkflow) Complete(context.Context, string, string) error { return nil }

// outbound mirrors the server->tab envelope for decoding in tests.
type outbound struct {
	Type    string            `json:"type"`
	Ack     string            `json:"ack"`
	Trigger session.EventType `json:"trigger"`
	Message string            `json:"message"`
	State   session.State     `json:"state"`
}

type wsFixture struct {
	srv  *httptest.Server
	orch *orchestrator.Orchestrator
	hub  *Hub
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(logging.NewNop(), nil)
	orch := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Store:     persist.NewMemoryStore(),
		Transport: hub,
		Backend:   fakeWorkflow{},
		Tabs:      hub,
		Logger:    logging.NewNop(),
	})
	t.Cleanup(orch.Close)

	engine := gin.New()
	engine.GET("/ws", NewHandler(hub, orch, logging.NewNop()).HandleConnection)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &wsFixture{srv: srv, orch: orch, hub: hub}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg outbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil drains messages until one matches, failing on timeout.
func readUntil(t *testing.T, conn *websocket.Conn, match func(outbound) bool) outbound {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readMessage(t, conn)
		if match(msg) {
			return msg
		}
	}
	t.Fatal("expected message never arrived")
	return outbound{}
}

func register(t *testing.T, conn *websocket.Conn, tabID int64, url string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "register",
		"tab_id": tabID,
		"url":    url,
	}))
	// Joining an active session broadcasts a tab update before the
	// snapshot reply, so drain until the snapshot.
	readUntil(t, conn, func(m outbound) bool { return m.Type == "state" })
}

func TestRegisterRepliesWithSnapshot(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "register",
		"tab_id": 1,
		"url":    "https://portal.example",
	}))

	snapshot := readMessage(t, conn)
	assert.Equal(t, "state", snapshot.Type)
	assert.True(t, snapshot.State.IsIdle())

	url, ok := f.hub.TabURL(1)
	require.True(t, ok)
	assert.Equal(t, "https://portal.example", url)
}

func TestFirstMessageMustRegister(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "start_session", "goal": "x"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestSessionOverWebSocket(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	register(t, conn, 1, "https://portal.example")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "start_session",
		"goal": "log into the portal",
	}))

	// The tab sees both the broadcast pushes and the direct ack.
	update := readUntil(t, conn, func(m outbound) bool {
		return m.Type == "state_update" && m.Trigger == session.EventSessionCreated
	})
	assert.Equal(t, session.StateConfirmingEntities, update.State.MachineState)
	assert.Equal(t, "7", update.State.BackendSessionID)

	ack := readUntil(t, conn, func(m outbound) bool { return m.Ack == "start_session" })
	assert.Equal(t, session.StateConfirmingEntities, ack.State.MachineState)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "confirm_entities"}))
	ack = readUntil(t, conn, func(m outbound) bool { return m.Ack == "confirm_entities" })
	assert.Equal(t, session.StateCapturing, ack.State.MachineState)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":          "request_step",
		"page_content":  "<button>Next</button>",
		"url":           "https://portal.example/login",
		"title":         "Login",
		"element_count": 3,
	}))
	ack = readUntil(t, conn, func(m outbound) bool { return m.Ack == "request_step" })
	assert.Equal(t, session.StateShowingStep, ack.State.MachineState)
	require.NotNil(t, ack.State.CurrentStep)
	assert.Equal(t, "Click Next", ack.State.CurrentStep.Instruction)
}

func TestSecondTabReceivesBroadcasts(t *testing.T) {
	f := newWSFixture(t)
	primary := f.dial(t)
	register(t, primary, 1, "https://a.example")

	require.NoError(t, primary.WriteJSON(map[string]interface{}{
		"type": "start_session",
		"goal": "x",
	}))
	readUntil(t, primary, func(m outbound) bool { return m.Ack == "start_session" })

	second := f.dial(t)
	register(t, second, 2, "https://a.example/popup")

	// Trigger a transition and expect the second tab to see it too.
	require.NoError(t, primary.WriteJSON(map[string]interface{}{"type": "confirm_entities"}))
	update := readUntil(t, second, func(m outbound) bool {
		return m.Type == "state_update" && m.Trigger == session.EventEntitiesConfirmed
	})
	assert.Equal(t, session.StateCapturing, update.State.MachineState)
}

func TestPrimaryDisconnectEndsSession(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	register(t, conn, 1, "https://a.example")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "start_session",
		"goal": "x",
	}))
	readUntil(t, conn, func(m outbound) bool { return m.Ack == "start_session" })

	conn.Close()

	require.Eventually(t, func() bool {
		return f.orch.GetState().IsIdle()
	}, 5*time.Second, 20*time.Millisecond, "primary tab loss must end the session")
}

func TestPing(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	register(t, conn, 1, "")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	msg := readUntil(t, conn, func(m outbound) bool { return m.Type == "pong" })
	assert.Equal(t, "pong", msg.Type)
}

func TestUpgradeRequiredOnPlainGET(t *testing.T) {
	f := newWSFixture(t)
	resp, err := http.Get(f.srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
