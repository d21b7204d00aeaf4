package session

// Guard is a predicate that must hold, in addition to the state/event
// match, for a transition to apply.
type Guard func(State, Event) bool

// Transition is one rule in the table: from a source node (or StateAny),
// on an event type, optionally gated by a guard, move to a target node.
type Transition struct {
	From  MachineState
	Event EventType
	To    MachineState
	Guard Guard
}

// globalTransitions are checked before any per-state rule so that
// wildcard behavior (exit, error routing, primary-tab closure) cannot be
// shadowed by a state-specific entry.
var globalTransitions = []Transition{
	{From: StateAny, Event: EventExit, To: StateIdle},
	{From: StateAny, Event: EventTabClosed, To: StateIdle, Guard: guardPrimaryTab},
	// Error routing needs a session to route; an idle machine has no
	// error state to enter and must stay unpersisted.
	{From: StateAny, Event: EventAIError, To: StateError, Guard: guardActiveSession},
	{From: StateAny, Event: EventLoopDetected, To: StateError, Guard: guardActiveSession},
	{From: StateAny, Event: EventTabReady, To: StateCapturing, Guard: guardNavigating},
}

// stateTransitions hold the per-state rules, scanned in declared order
// after the globals. First full match (source, event, guard) wins.
var stateTransitions = []Transition{
	{From: StateIdle, Event: EventStart, To: StateInitializing},
	{From: StateInitializing, Event: EventSessionCreated, To: StateConfirmingEntities},
	{From: StateConfirmingEntities, Event: EventEntitiesConfirmed, To: StateCapturing},
	{From: StateCapturing, Event: EventContextCaptured, To: StateThinking},

	// Guard disabled for now: steps are classified but never auto-run.
	{From: StateThinking, Event: EventStepReceived, To: StateAutoExecuting, Guard: guardAutoExecute},
	{From: StateThinking, Event: EventStepReceived, To: StateShowingStep, Guard: guardHasStep},
	{From: StateThinking, Event: EventGoalAchieved, To: StateCompleted},

	{From: StateShowingStep, Event: EventElementFound, To: StateWaitingAction},
	// A missing element means the captured DOM is stale; recapture rather
	// than retry the old read.
	{From: StateShowingStep, Event: EventElementNotFound, To: StateCapturing},

	{From: StateWaitingAction, Event: EventActionCompleted, To: StateCapturing},
	{From: StateWaitingAction, Event: EventUserCorrection, To: StateThinking},
	{From: StateWaitingAction, Event: EventURLChanged, To: StateNavigating},
	{From: StateWaitingAction, Event: EventSkipStep, To: StateCapturing},

	{From: StateAutoExecuting, Event: EventExecutionComplete, To: StateCapturing},
	{From: StateAutoExecuting, Event: EventExecutionFailed, To: StateShowingStep},

	{From: StateNavigating, Event: EventPageLoaded, To: StateCapturing},

	{From: StateError, Event: EventRetry, To: StateCapturing},
	{From: StateError, Event: EventUserCorrection, To: StateThinking},
}

// FindTransition resolves the first table entry whose source, event type,
// and guard all match. Globals are scanned first, then per-state rules,
// both in declared order. Returns nil when the event is not legal from
// the current state.
func FindTransition(s State, e Event) *Transition {
	if t := match(globalTransitions, s, e); t != nil {
		return t
	}
	return match(stateTransitions, s, e)
}

func match(table []Transition, s State, e Event) *Transition {
	for i := range table {
		t := &table[i]
		if t.From != StateAny && t.From != s.MachineState {
			continue
		}
		if t.Event != e.Type {
			continue
		}
		if t.Guard != nil && !t.Guard(s, e) {
			continue
		}
		return t
	}
	return nil
}

// guardPrimaryTab admits TAB_CLOSED only for the primary tab. Closing a
// non-primary tab is handled as a plain membership removal outside the
// machine.
func guardPrimaryTab(s State, e Event) bool {
	return s.Tabs.PrimaryTabID != 0 && e.TabID == s.Tabs.PrimaryTabID
}

// guardActiveSession admits error routing only while a session exists.
func guardActiveSession(s State, _ Event) bool {
	return !s.IsIdle()
}

// guardHasStep rejects a STEP_RECEIVED with no step payload, which would
// otherwise be applied as an empty step.
func guardHasStep(_ State, e Event) bool {
	return e.Step != nil
}

// guardNavigating turns TAB_READY into a fresh capture only while a page
// transition is underway.
func guardNavigating(s State, _ Event) bool {
	return s.MachineState == StateNavigating
}

// guardAutoExecute gates the THINKING -> AUTO_EXECUTING transition. The
// automation classification is computed and stored on every received step
// (see Classify), but the gate itself stays closed until auto execution
// ships; every step falls through to SHOWING_STEP.
func guardAutoExecute(State, Event) bool {
	return false
}
