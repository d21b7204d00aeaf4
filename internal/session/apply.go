package session

import "time"

// Reduce applies one event to the state. It returns the new state and
// whether a transition was accepted. When no table entry matches the
// (state, event) pair the input state is returned untouched; invalid
// events never error and never partially mutate.
func Reduce(s State, e Event, now time.Time) (State, bool) {
	t := FindTransition(s, e)
	if t == nil {
		return s, false
	}

	next := s.Clone()
	next.MachineState = t.To
	applyEvent(&next, s, e, now)

	if !next.IsIdle() {
		next.Timing.LastActivityAt = now
	}
	return next, true
}

// applyEvent performs the per-event field updates on the cloned state.
// prev is the pre-transition state, used where an update depends on a
// field the event itself overwrites.
func applyEvent(next *State, prev State, e Event, now time.Time) {
	switch e.Type {
	case EventStart:
		*next = NewIdle()
		next.MachineState = StateInitializing
		next.SessionID = e.SessionID
		next.Goal = e.Goal
		next.Tabs = Tabs{PrimaryTabID: e.TabID, ActiveTabIDs: []int64{e.TabID}}
		next.Timing = Timing{StartedAt: now, LastActivityAt: now}
		next.AIThinking = true

	case EventSessionCreated:
		next.BackendSessionID = e.BackendSessionID
		for k, v := range e.Entities {
			next.GoalEntities[k] = v
		}
		next.AIThinking = false

	case EventEntitiesConfirmed:
		for k, v := range e.Entities {
			next.GoalEntities[k] = v
		}
		next.EntitiesConfirmed = true

	case EventContextCaptured:
		next.AIThinking = true
		next.Navigation = Navigation{}
		next.LastCapture = Capture{URL: e.URL, CapturedAt: now}
		if e.ContextHash != "" && e.ContextHash == prev.LoopDetection.LastContextHash {
			next.LoopDetection.ConsecutiveRepeats = prev.LoopDetection.ConsecutiveRepeats + 1
		} else {
			next.LoopDetection.LastContextHash = e.ContextHash
			next.LoopDetection.ConsecutiveRepeats = 0
		}

	case EventStepReceived:
		step := *e.Step
		step.AutomationLevel = Classify(step)
		next.CurrentStep = &step
		next.AIThinking = false
		next.AIMessage = e.Message
		if e.Progress > 0 {
			next.ProgressEstimate = e.Progress
		}
		next.LoopDetection.LastAction = step.ActionType

	case EventGoalAchieved:
		next.CurrentStep = nil
		next.AIThinking = false
		next.AIMessage = e.Message
		next.ProgressEstimate = 100

	case EventElementNotFound:
		next.CurrentStep = nil

	case EventActionCompleted, EventExecutionComplete:
		outcome := "completed"
		if e.Type == EventExecutionComplete {
			outcome = "auto_executed"
		}
		next.appendStep(prev.CurrentStep, e.Summary, outcome, now)
		next.CurrentStep = nil
		next.LoopDetection = LoopDetection{}

	case EventSkipStep:
		next.appendStep(prev.CurrentStep, "", "skipped", now)
		next.CurrentStep = nil

	case EventUserCorrection:
		next.AIThinking = true
		next.AIMessage = ""
		next.ErrorInfo = nil

	case EventURLChanged:
		next.Navigation = Navigation{InProgress: true, TargetURL: e.URL}

	case EventPageLoaded, EventTabReady:
		next.Navigation = Navigation{}

	case EventRetry:
		next.ErrorInfo = nil

	case EventAIError:
		kind := e.ErrorKind
		if kind == "" {
			kind = "backend"
		}
		next.ErrorInfo = &ErrorInfo{Kind: kind, Message: e.Message}
		next.AIThinking = false

	case EventLoopDetected:
		next.ErrorInfo = &ErrorInfo{Kind: "loop_detected", Message: e.Message}
		next.AIThinking = false

	case EventExit, EventTabClosed:
		// Collapse to empty defaults; the orchestrator logs the terminal
		// session id from the pre-transition state.
		*next = NewIdle()
	}
}

func (s *State) appendStep(step *DynamicStep, summary, outcome string, now time.Time) {
	rec := StepRecord{Summary: summary, Outcome: outcome, CompletedAt: now}
	if step != nil {
		rec.Instruction = step.Instruction
		rec.ActionType = step.ActionType
	}
	s.StepHistory = append(s.StepHistory, rec)
	s.StepCount = len(s.StepHistory)
}
