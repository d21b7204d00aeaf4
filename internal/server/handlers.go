package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/orchestrator"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

// Handlers holds the REST handlers for session control. The same
// operations are reachable over the websocket; REST exists for the
// extension popup and for curl-level debugging.
type Handlers struct {
	orch *orchestrator.Orchestrator
	log  *logging.Logger
}

func NewHandlers(orch *orchestrator.Orchestrator, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{orch: orch, log: log}
}

type startRequest struct {
	Goal  string `json:"goal" binding:"required"`
	TabID int64  `json:"tab_id" binding:"required"`
}

type entitiesRequest struct {
	Entities map[string]string `json:"entities"`
}

type stepRequest struct {
	PageContent  string `json:"page_content"`
	URL          string `json:"url" binding:"required"`
	Title        string `json:"title"`
	ElementCount int    `json:"element_count"`
}

type actionRequest struct {
	Summary string `json:"summary"`
}

type feedbackRequest struct {
	Text string `json:"text" binding:"required"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.orch.GetState()})
}

func (h *Handlers) GetStateForTab(c *gin.Context) {
	tabID, err := strconv.ParseInt(c.Param("tab_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab_id must be an integer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.orch.GetStateForTab(tabID)})
}

func (h *Handlers) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.orch.StartSession(c.Request.Context(), req.Goal, req.TabID)
	h.respond(c, st, err)
}

func (h *Handlers) ConfirmEntities(c *gin.Context) {
	var req entitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.orch.ConfirmEntities(c.Request.Context(), req.Entities)
	h.respond(c, st, err)
}

func (h *Handlers) RequestStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.orch.RequestNextStep(c.Request.Context(), req.PageContent, req.URL, req.Title, req.ElementCount)
	h.respond(c, st, err)
}

func (h *Handlers) ReportAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.orch.ReportAction(c.Request.Context(), req.Summary)
	h.respond(c, st, err)
}

func (h *Handlers) ReportFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.orch.ReportFeedback(c.Request.Context(), req.Text)
	h.respond(c, st, err)
}

func (h *Handlers) Retry(c *gin.Context) {
	st, err := h.orch.Dispatch(c.Request.Context(), session.Event{Type: session.EventRetry})
	h.respond(c, st, err)
}

func (h *Handlers) SkipStep(c *gin.Context) {
	st, err := h.orch.Dispatch(c.Request.Context(), session.Event{Type: session.EventSkipStep})
	h.respond(c, st, err)
}

func (h *Handlers) EndSession(c *gin.Context) {
	// The body is optional; an absent reason means the user closed the
	// panel.
	var req endRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "user_exit"
	}
	st, err := h.orch.EndSession(c.Request.Context(), req.Reason)
	h.respond(c, st, err)
}

// respond maps orchestrator errors to HTTP statuses. The state is
// returned either way: after a failed choreography it is the ERROR
// state the client should render.
func (h *Handlers) respond(c *gin.Context, st session.State, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"state": st})
		return
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, orchestrator.ErrSessionActive),
		errors.Is(err, orchestrator.ErrNoSession),
		errors.Is(err, orchestrator.ErrNoBackendSession),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrLoopDetected):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "state": st})
}
