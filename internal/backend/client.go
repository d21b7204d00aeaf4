// Package backend talks to the workflow service that creates sessions
// and generates steps. It owns the wire shapes and translates them into
// the internal step model at the boundary.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/WebPilotHQ/webpilot/internal/session"
)

// PageContext is the captured page snapshot sent with step requests.
type PageContext struct {
	Content      string `json:"content"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	ElementCount int    `json:"element_count"`
}

// SessionInfo is the translated result of session creation.
type SessionInfo struct {
	SessionID    string
	GoalEntities map[string]string
}

// StepResult is the translated result of a step or feedback call. Either
// GoalAchieved is set or Step is non-nil.
type StepResult struct {
	Step         *session.DynamicStep
	GoalAchieved bool
	Progress     int // rescaled to 0-100
	AIMessage    string
}

// Config controls client construction.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RetryMax  int
	RateLimit float64
	RateBurst int
}

// Client is the HTTP client for the workflow service.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

// New creates a production-ready client: retrying transport, request
// timeout, and a local rate limit so a chatty tab cannot flood the
// backend.
func New(cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "WebPilot/1.0")
	restyClient.SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
	}
}

// wire shapes (snake_case, backend-owned)

type createSessionRequest struct {
	Goal        string `json:"goal"`
	StartingURL string `json:"starting_url"`
}

type createSessionResponse struct {
	SessionID    string            `json:"session_id"`
	GoalEntities map[string]string `json:"goal_entities"`
}

type stepRequest struct {
	PageContext PageContext `json:"page_context"`
}

type feedbackRequest struct {
	CorrectionText string       `json:"correction_text"`
	StepContext    *PageContext `json:"step_context,omitempty"`
}

type completeRequest struct {
	Reason string `json:"reason"`
}

type stepResponse struct {
	Instruction      string  `json:"instruction"`
	FieldLabel       string  `json:"field_label"`
	ActionType       string  `json:"action_type"`
	ElementIndex     int     `json:"element_index"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	GoalAchieved     bool    `json:"goal_achieved"`
	ProgressEstimate float64 `json:"progress_estimate"` // 0-1 on the wire
	AutomationLevel  string  `json:"automation_level"`
	AIMessage        string  `json:"ai_message,omitempty"`
}

// CreateSession registers a new session with the backend.
func (c *Client) CreateSession(ctx context.Context, goal, startingURL string) (*SessionInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var out createSessionResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(createSessionRequest{Goal: goal, StartingURL: startingURL}).
		SetResult(&out).
		Post("/sessions")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create session: backend returned %s", resp.Status())
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("create session: backend returned no session id")
	}

	return &SessionInfo{SessionID: out.SessionID, GoalEntities: out.GoalEntities}, nil
}

// NextStep asks the backend for the next step given the current page.
func (c *Client) NextStep(ctx context.Context, sessionID string, page PageContext) (*StepResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var out stepResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(stepRequest{PageContext: page}).
		SetResult(&out).
		Post(fmt.Sprintf("/sessions/%s/step", sessionID))
	if err != nil {
		return nil, fmt.Errorf("next step: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("next step: backend returned %s", resp.Status())
	}

	return translateStep(out), nil
}

// Feedback sends a user correction and returns the regenerated step.
func (c *Client) Feedback(ctx context.Context, sessionID, correction string, page *PageContext) (*StepResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var out stepResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(feedbackRequest{CorrectionText: correction, StepContext: page}).
		SetResult(&out).
		Post(fmt.Sprintf("/sessions/%s/feedback", sessionID))
	if err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feedback: backend returned %s", resp.Status())
	}

	return translateStep(out), nil
}

// Complete notifies the backend that the session ended. Best effort; the
// caller ignores failures.
func (c *Client) Complete(ctx context.Context, sessionID, reason string) error {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(completeRequest{Reason: reason}).
		Post(fmt.Sprintf("/sessions/%s/complete", sessionID))
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("complete session: backend returned %s", resp.Status())
	}
	return nil
}

// translateStep converts the wire shape to the internal model: snake_case
// fields onto DynamicStep, progress rescaled from 0-1 to 0-100. The
// automation tier is recomputed locally by the machine, not trusted from
// the wire.
func translateStep(w stepResponse) *StepResult {
	result := &StepResult{
		GoalAchieved: w.GoalAchieved,
		Progress:     int(w.ProgressEstimate*100 + 0.5),
		AIMessage:    w.AIMessage,
	}
	if w.GoalAchieved {
		return result
	}

	result.Step = &session.DynamicStep{
		Instruction:  w.Instruction,
		FieldLabel:   w.FieldLabel,
		ActionType:   w.ActionType,
		ElementIndex: w.ElementIndex,
		Confidence:   w.Confidence,
		Reasoning:    w.Reasoning,
	}
	return result
}
