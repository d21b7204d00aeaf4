package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/backend"
	"github.com/WebPilotHQ/webpilot/internal/session"
	"github.com/WebPilotHQ/webpilot/internal/shared/id"
)

// Initialize restores a persisted, unexpired session if one exists, and
// otherwise starts idle. Idempotent and safe to call before any other
// operation.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	var err error
	o.initOnce.Do(func() {
		err = o.restore(ctx)
	})
	return err
}

// restore runs as a queued turn so the store is only touched from the
// worker, like every other effect.
func (o *Orchestrator) restore(ctx context.Context) error {
	_, _, err := o.enqueue(ctx, turn{
		trigger:    triggerRestored,
		keepExpiry: true,
		apply: func(prev session.State, now time.Time) (session.State, bool) {
			loaded, ok, lerr := o.sessions.Load(ctx)
			if lerr != nil {
				o.log.Warn("failed to load persisted session", zap.Error(lerr))
				return prev, false
			}
			if !ok {
				return prev, false
			}
			if loaded.Timing.ExpiresAt == nil || !loaded.Timing.ExpiresAt.After(now) {
				o.log.Info("persisted session expired, clearing",
					zap.String("session_id", loaded.SessionID))
				if cerr := o.sessions.Clear(ctx); cerr != nil {
					o.log.Warn("failed to clear expired session", zap.Error(cerr))
				}
				return prev, false
			}
			o.log.Info("restored persisted session",
				zap.String("session_id", loaded.SessionID),
				zap.String("machine_state", string(loaded.MachineState)),
			)
			return loaded, true
		},
	})
	return err
}

// StartSession begins a new guided session: dispatch START, create the
// backend session, then bind it with SESSION_CREATED. A backend failure
// routes the session to ERROR instead of leaving it in INITIALIZING.
func (o *Orchestrator) StartSession(ctx context.Context, goal string, tabID int64) (session.State, error) {
	sessionID := string(id.NewSessionID())

	st, applied, err := o.dispatch(ctx, session.StartEvent(sessionID, goal, tabID))
	if err != nil {
		return st, err
	}
	if !applied {
		return st, ErrSessionActive
	}

	var startingURL string
	if o.tabs != nil {
		startingURL, _ = o.tabs.TabURL(tabID)
	}

	info, berr := o.backend.CreateSession(ctx, goal, startingURL)
	if berr != nil {
		st, _, _ = o.dispatch(ctx, session.AIErrorEvent("backend", "could not start session: "+berr.Error()))
		return st, fmt.Errorf("create backend session: %w", berr)
	}

	st, applied, err = o.dispatch(ctx, session.SessionCreatedEvent(info.SessionID, info.GoalEntities))
	if err != nil {
		return st, err
	}
	if !applied {
		// The session was torn down (exit, timeout, primary tab closed)
		// while the backend call was in flight. Release the backend
		// session it would otherwise orphan.
		o.log.Info("session ended during backend handshake",
			zap.String("backend_session_id", info.SessionID))
		if cerr := o.backend.Complete(ctx, info.SessionID, "abandoned"); cerr != nil {
			o.log.Warn("backend completion call failed",
				zap.String("backend_session_id", info.SessionID),
				zap.Error(cerr),
			)
		}
		return st, ErrNoSession
	}
	return st, nil
}

// ConfirmEntities confirms (and optionally overrides) the extracted goal
// entities, unblocking the capture loop.
func (o *Orchestrator) ConfirmEntities(ctx context.Context, entities map[string]string) (session.State, error) {
	st, applied, err := o.dispatch(ctx, session.Event{Type: session.EventEntitiesConfirmed, Entities: entities})
	if err != nil {
		return st, err
	}
	if !applied {
		return st, ErrInvalidTransition
	}
	return st, nil
}

// RequestNextStep runs the capture->think choreography: dispatch
// CONTEXT_CAPTURED, short-circuit to LOOP_DETECTED when the page has not
// changed over repeated requests, otherwise ask the backend for the next
// step and dispatch the outcome.
func (o *Orchestrator) RequestNextStep(ctx context.Context, pageContent, url, title string, elementCount int) (session.State, error) {
	cur := o.GetState()
	if cur.BackendSessionID == "" {
		st, _, _ := o.dispatch(ctx, session.AIErrorEvent("precondition", "no backend session bound"))
		return st, ErrNoBackendSession
	}

	hash := session.ContextHash(url, title, elementCount, pageContent)
	st, applied, err := o.dispatch(ctx, session.Event{
		Type:        session.EventContextCaptured,
		URL:         url,
		ContextHash: hash,
	})
	if err != nil {
		return st, err
	}
	if !applied {
		return st, ErrInvalidTransition
	}

	if st.LoopDetection.ConsecutiveRepeats >= session.LoopThreshold {
		st, _, _ = o.dispatch(ctx, session.Event{
			Type:    session.EventLoopDetected,
			Message: fmt.Sprintf("page unchanged after %d step requests", st.LoopDetection.ConsecutiveRepeats),
		})
		return st, ErrLoopDetected
	}

	result, berr := o.backend.NextStep(ctx, st.BackendSessionID, backend.PageContext{
		Content:      pageContent,
		URL:          url,
		Title:        title,
		ElementCount: elementCount,
	})
	if berr != nil {
		st, _, _ = o.dispatch(ctx, session.AIErrorEvent("backend", "step generation failed: "+berr.Error()))
		return st, fmt.Errorf("request next step: %w", berr)
	}

	return o.applyStepResult(ctx, result)
}

// ReportAction records that the user completed the current step.
func (o *Orchestrator) ReportAction(ctx context.Context, summary string) (session.State, error) {
	st, applied, err := o.dispatch(ctx, session.Event{Type: session.EventActionCompleted, Summary: summary})
	if err != nil {
		return st, err
	}
	if !applied {
		return st, ErrInvalidTransition
	}
	return st, nil
}

// ReportFeedback sends a user correction to the backend and dispatches
// the regenerated step. Legal from WAITING_ACTION and from ERROR.
func (o *Orchestrator) ReportFeedback(ctx context.Context, text string) (session.State, error) {
	cur := o.GetState()
	if cur.BackendSessionID == "" {
		st, _, _ := o.dispatch(ctx, session.AIErrorEvent("precondition", "no backend session bound"))
		return st, ErrNoBackendSession
	}

	st, applied, err := o.dispatch(ctx, session.Event{Type: session.EventUserCorrection, Message: text})
	if err != nil {
		return st, err
	}
	if !applied {
		return st, ErrInvalidTransition
	}

	result, berr := o.backend.Feedback(ctx, cur.BackendSessionID, text, nil)
	if berr != nil {
		st, _, _ = o.dispatch(ctx, session.AIErrorEvent("backend", "feedback failed: "+berr.Error()))
		return st, fmt.Errorf("report feedback: %w", berr)
	}

	return o.applyStepResult(ctx, result)
}

func (o *Orchestrator) applyStepResult(ctx context.Context, result *backend.StepResult) (session.State, error) {
	if result.GoalAchieved {
		st, _, err := o.dispatch(ctx, session.Event{
			Type:     session.EventGoalAchieved,
			Message:  result.AIMessage,
			Progress: result.Progress,
		})
		return st, err
	}
	st, _, err := o.dispatch(ctx, session.StepReceivedEvent(result.Step, result.AIMessage, result.Progress))
	return st, err
}

// EndSession tears the session down and best-effort notifies the
// backend. Ending an idle session is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, reason string) (session.State, error) {
	prev := o.GetState()
	if prev.IsIdle() {
		return prev, nil
	}

	st, _, err := o.dispatch(ctx, session.ExitEvent(reason))

	if prev.BackendSessionID != "" {
		completion := "abandoned"
		if prev.IsTerminal() || reason == "completed" {
			completion = "completed"
		}
		if cerr := o.backend.Complete(ctx, prev.BackendSessionID, completion); cerr != nil {
			o.log.Warn("backend completion call failed",
				zap.String("backend_session_id", prev.BackendSessionID),
				zap.Error(cerr),
			)
		}
	}
	return st, err
}

// AddTab joins a non-primary tab to the active session. Joining twice is
// a no-op; joining with no session active fails.
func (o *Orchestrator) AddTab(ctx context.Context, tabID int64) (session.State, error) {
	st, applied, err := o.enqueue(ctx, turn{
		trigger: triggerTabAdded,
		apply: func(prev session.State, _ time.Time) (session.State, bool) {
			if prev.IsIdle() || prev.Tabs.Contains(tabID) {
				return prev, false
			}
			next := prev.Clone()
			next.Tabs.ActiveTabIDs = append(next.Tabs.ActiveTabIDs, tabID)
			return next, true
		},
	})
	if err != nil {
		return st, err
	}
	if !applied && st.IsIdle() {
		return st, ErrNoSession
	}
	return st, nil
}

// RemoveTab detaches a tab from the session. Removing the primary tab is
// redirected to a full TAB_CLOSED dispatch, ending the session.
func (o *Orchestrator) RemoveTab(ctx context.Context, tabID int64) (session.State, error) {
	cur := o.GetState()
	if !cur.IsIdle() && cur.Tabs.PrimaryTabID == tabID {
		return o.Dispatch(ctx, session.Event{Type: session.EventTabClosed, TabID: tabID})
	}

	st, _, err := o.enqueue(ctx, turn{
		trigger: triggerTabRemoved,
		apply: func(prev session.State, _ time.Time) (session.State, bool) {
			if prev.IsIdle() || !prev.Tabs.Contains(tabID) {
				return prev, false
			}
			next := prev.Clone()
			filtered := next.Tabs.ActiveTabIDs[:0]
			for _, tid := range next.Tabs.ActiveTabIDs {
				if tid != tabID {
					filtered = append(filtered, tid)
				}
			}
			next.Tabs.ActiveTabIDs = filtered
			return next, true
		},
	})
	return st, err
}
