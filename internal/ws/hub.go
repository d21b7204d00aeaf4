package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/broadcast"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/monitoring"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

// conn is one tab's socket. gorilla allows a single concurrent writer,
// so every write goes through mu.
type conn struct {
	id    string
	tabID int64

	mu  sync.Mutex
	ws  *websocket.Conn
	url string
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// stateUpdate is the envelope pushed to tabs after every accepted
// transition.
type stateUpdate struct {
	Type      string            `json:"type"`
	Trigger   session.EventType `json:"trigger"`
	State     session.State     `json:"state"`
	Timestamp int64             `json:"timestamp"`
}

// Hub tracks connected tabs and delivers state updates to them. It is
// the orchestrator's broadcast transport and its tab URL source.
type Hub struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.RWMutex
	byTab map[int64]*conn
}

func NewHub(log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		byTab:   make(map[int64]*conn),
	}
}

// register binds a socket to a tab id, displacing any previous socket
// for the same tab (the extension reconnects after a service-worker
// restart without closing the old connection first).
func (h *Hub) register(tabID int64, url string, ws *websocket.Conn) *conn {
	c := &conn{id: uuid.NewString(), tabID: tabID, ws: ws, url: url}

	h.mu.Lock()
	prev := h.byTab[tabID]
	h.byTab[tabID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.ws.Close()
	} else if h.metrics != nil {
		h.metrics.TabsConnected.Inc()
	}
	h.log.Debug("tab connected",
		zap.Int64("tab_id", tabID),
		zap.String("conn_id", c.id),
	)
	return c
}

// unregister removes a connection. A connection displaced by a newer
// register for the same tab is left alone.
func (h *Hub) unregister(c *conn) bool {
	h.mu.Lock()
	cur, ok := h.byTab[c.tabID]
	if ok && cur.id == c.id {
		delete(h.byTab, c.tabID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		if h.metrics != nil {
			h.metrics.TabsConnected.Dec()
		}
		h.log.Debug("tab disconnected", zap.Int64("tab_id", c.tabID))
	}
	return ok
}

func (h *Hub) setURL(tabID int64, url string) {
	h.mu.RLock()
	c := h.byTab[tabID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

// TabURL reports the last known URL for a connected tab.
func (h *Hub) TabURL(tabID int64) (string, bool) {
	h.mu.RLock()
	c := h.byTab[tabID]
	h.mu.RUnlock()
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url, true
}

// Send delivers one state update to a tab, honoring the context
// deadline via the socket write deadline.
func (h *Hub) Send(ctx context.Context, tabID int64, msg broadcast.Message) error {
	h.mu.RLock()
	c := h.byTab[tabID]
	h.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("tab %d not connected", tabID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteJSON(stateUpdate{
		Type:      "state_update",
		Trigger:   msg.Trigger,
		State:     msg.State,
		Timestamp: time.Now().Unix(),
	})
}
