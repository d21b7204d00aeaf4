package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/orchestrator"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The extension connects from arbitrary page origins.
		return true
	},
}

// inbound is the message envelope tabs send over the socket.
type inbound struct {
	Type string `json:"type"`

	TabID int64  `json:"tab_id,omitempty"`
	URL   string `json:"url,omitempty"`

	Goal     string            `json:"goal,omitempty"`
	Entities map[string]string `json:"entities,omitempty"`

	PageContent  string `json:"page_content,omitempty"`
	Title        string `json:"title,omitempty"`
	ElementCount int    `json:"element_count,omitempty"`

	Summary string `json:"summary,omitempty"`
	Text    string `json:"text,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Handler bridges tab sockets to the orchestrator.
type Handler struct {
	hub  *Hub
	orch *orchestrator.Orchestrator
	log  *logging.Logger
}

func NewHandler(hub *Hub, orch *orchestrator.Orchestrator, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{hub: hub, orch: orch, log: log}
}

// HandleConnection upgrades the request and runs the per-tab message
// loop. The first message must be a register carrying the tab id.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	var first inbound
	if err := ws.ReadJSON(&first); err != nil {
		return
	}
	if first.Type != "register" || first.TabID == 0 {
		h.sendError(wsWriter{ws}, "first message must register a tab_id")
		return
	}

	cn := h.hub.register(first.TabID, first.URL, ws)
	defer func() {
		if h.hub.unregister(cn) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if _, err := h.orch.RemoveTab(ctx, cn.tabID); err != nil {
				h.log.Warn("tab removal failed", zap.Int64("tab_id", cn.tabID), zap.Error(err))
			}
		}
	}()

	// Joining an active session is best effort; with no session running
	// the tab just idles until it starts one.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	if _, err := h.orch.AddTab(ctx, cn.tabID); err != nil && !errors.Is(err, orchestrator.ErrNoSession) {
		h.log.Warn("tab join failed", zap.Int64("tab_id", cn.tabID), zap.Error(err))
	}
	cancel()

	h.sendState(cn, h.orch.GetStateForTab(cn.tabID), "")

	for {
		var msg inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Int64("tab_id", cn.tabID), zap.Error(err))
			}
			return
		}
		h.handleMessage(c.Request.Context(), cn, msg)
	}
}

func (h *Handler) handleMessage(parent context.Context, cn *conn, msg inbound) {
	// Step generation waits on the AI backend; everything else is local
	// or a single short HTTP call.
	timeout := 15 * time.Second
	if msg.Type == "request_step" || msg.Type == "feedback" {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var (
		st  session.State
		err error
	)
	switch msg.Type {
	case "start_session":
		st, err = h.orch.StartSession(ctx, msg.Goal, cn.tabID)
	case "confirm_entities":
		st, err = h.orch.ConfirmEntities(ctx, msg.Entities)
	case "request_step":
		st, err = h.orch.RequestNextStep(ctx, msg.PageContent, msg.URL, msg.Title, msg.ElementCount)
	case "element_found":
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventElementFound})
	case "element_not_found":
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventElementNotFound})
	case "action_completed":
		st, err = h.orch.ReportAction(ctx, msg.Summary)
	case "feedback":
		st, err = h.orch.ReportFeedback(ctx, msg.Text)
	case "skip_step":
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventSkipStep})
	case "retry":
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventRetry})
	case "url_changed":
		h.hub.setURL(cn.tabID, msg.URL)
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventURLChanged, URL: msg.URL})
	case "page_loaded":
		h.hub.setURL(cn.tabID, msg.URL)
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventPageLoaded, URL: msg.URL})
	case "tab_ready":
		st, err = h.orch.Dispatch(ctx, session.Event{Type: session.EventTabReady, TabID: cn.tabID})
	case "end_session":
		reason := msg.Reason
		if reason == "" {
			reason = "user_exit"
		}
		st, err = h.orch.EndSession(ctx, reason)
	case "get_state":
		h.sendState(cn, h.orch.GetStateForTab(cn.tabID), "")
		return
	case "ping":
		cn.writeJSON(map[string]interface{}{"type": "pong", "timestamp": time.Now().Unix()})
		return
	default:
		h.sendError(cn, "unknown message type: "+msg.Type)
		return
	}

	if err != nil {
		h.log.Debug("tab message failed",
			zap.Int64("tab_id", cn.tabID),
			zap.String("message_type", msg.Type),
			zap.Error(err),
		)
		h.sendError(cn, err.Error())
		return
	}
	// Accepted transitions reach the tab through the broadcast pipeline;
	// the direct ack carries the state for callers that want it inline.
	h.sendState(cn, st, msg.Type)
}

type jsonWriter interface {
	writeJSON(v interface{}) error
}

// wsWriter adapts a bare socket before it is registered as a conn.
type wsWriter struct{ ws *websocket.Conn }

func (w wsWriter) writeJSON(v interface{}) error { return w.ws.WriteJSON(v) }

func (h *Handler) sendState(w jsonWriter, st session.State, ack string) {
	w.writeJSON(map[string]interface{}{
		"type":      "state",
		"ack":       ack,
		"state":     st,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) sendError(w jsonWriter, msg string) {
	w.writeJSON(map[string]interface{}{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
