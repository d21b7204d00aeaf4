package session

// EventType tags one variant of the event union.
type EventType string

const (
	EventStart             EventType = "START"
	EventSessionCreated    EventType = "SESSION_CREATED"
	EventEntitiesConfirmed EventType = "ENTITIES_CONFIRMED"
	EventContextCaptured   EventType = "CONTEXT_CAPTURED"
	EventStepReceived      EventType = "STEP_RECEIVED"
	EventGoalAchieved      EventType = "GOAL_ACHIEVED"
	EventElementFound      EventType = "ELEMENT_FOUND"
	EventElementNotFound   EventType = "ELEMENT_NOT_FOUND"
	EventActionCompleted   EventType = "ACTION_COMPLETED"
	EventUserCorrection    EventType = "USER_CORRECTION"
	EventExecutionComplete EventType = "EXECUTION_COMPLETE"
	EventExecutionFailed   EventType = "EXECUTION_FAILED"
	EventURLChanged        EventType = "URL_CHANGED"
	EventPageLoaded        EventType = "PAGE_LOADED"
	EventRetry             EventType = "RETRY"
	EventSkipStep          EventType = "SKIP_STEP"
	EventTabReady          EventType = "TAB_READY"
	EventTabClosed         EventType = "TAB_CLOSED"
	EventAIError           EventType = "AI_ERROR"
	EventLoopDetected      EventType = "LOOP_DETECTED"
	EventExit              EventType = "EXIT"
)

// Event is inert data: one tagged variant plus whichever payload fields
// that variant carries. All effect happens in the reducer.
type Event struct {
	Type EventType `json:"type"`

	// START
	Goal      string `json:"goal,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// START, TAB_READY, TAB_CLOSED
	TabID int64 `json:"tab_id,omitempty"`

	// SESSION_CREATED, ENTITIES_CONFIRMED
	Entities map[string]string `json:"entities,omitempty"`

	// SESSION_CREATED
	BackendSessionID string `json:"backend_session_id,omitempty"`

	// CONTEXT_CAPTURED, URL_CHANGED, PAGE_LOADED
	URL         string `json:"url,omitempty"`
	ContextHash string `json:"context_hash,omitempty"`

	// STEP_RECEIVED, GOAL_ACHIEVED
	Step     *DynamicStep `json:"step,omitempty"`
	Progress int          `json:"progress,omitempty"`

	// STEP_RECEIVED, GOAL_ACHIEVED, USER_CORRECTION, AI_ERROR, LOOP_DETECTED
	Message string `json:"message,omitempty"`

	// AI_ERROR
	ErrorKind string `json:"error_kind,omitempty"`

	// ACTION_COMPLETED, EXECUTION_COMPLETE
	Summary string `json:"summary,omitempty"`

	// EXIT
	Reason string `json:"reason,omitempty"`
}

// StartEvent begins a session for the given goal on the given primary tab.
// The local session id is generated by the caller before dispatch.
func StartEvent(sessionID, goal string, tabID int64) Event {
	return Event{Type: EventStart, SessionID: sessionID, Goal: goal, TabID: tabID}
}

// SessionCreatedEvent records backend acknowledgement of session creation.
func SessionCreatedEvent(backendSessionID string, entities map[string]string) Event {
	return Event{Type: EventSessionCreated, BackendSessionID: backendSessionID, Entities: entities}
}

// StepReceivedEvent carries a translated backend step into the machine.
func StepReceivedEvent(step *DynamicStep, message string, progress int) Event {
	return Event{Type: EventStepReceived, Step: step, Message: message, Progress: progress}
}

// AIErrorEvent routes any backend or precondition failure into ERROR.
func AIErrorEvent(kind, message string) Event {
	return Event{Type: EventAIError, ErrorKind: kind, Message: message}
}

// ExitEvent tears the session down for the given reason.
func ExitEvent(reason string) Event {
	return Event{Type: EventExit, Reason: reason}
}
