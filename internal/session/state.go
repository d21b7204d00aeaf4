package session

import (
	"time"
)

// MachineState is one node in the session state graph.
type MachineState string

const (
	StateIdle               MachineState = "IDLE"
	StateInitializing       MachineState = "INITIALIZING"
	StateConfirmingEntities MachineState = "CONFIRMING_ENTITIES"
	StateCapturing          MachineState = "CAPTURING"
	StateThinking           MachineState = "THINKING"
	StateShowingStep        MachineState = "SHOWING_STEP"
	StateWaitingAction      MachineState = "WAITING_ACTION"
	StateAutoExecuting      MachineState = "AUTO_EXECUTING"
	StateNavigating         MachineState = "NAVIGATING"
	StateError              MachineState = "ERROR"
	StateCompleted          MachineState = "COMPLETED"
)

// StateAny is the wildcard source used by global transition rules.
const StateAny MachineState = "*"

// AutomationLevel classifies how much a generated step may proceed without
// user confirmation.
type AutomationLevel string

const (
	AutomationAuto    AutomationLevel = "auto"
	AutomationConfirm AutomationLevel = "confirm"
	AutomationManual  AutomationLevel = "manual"
)

// DynamicStep is one AI-generated instruction, already translated from the
// backend wire shape.
type DynamicStep struct {
	Instruction     string          `json:"instruction"`
	FieldLabel      string          `json:"field_label,omitempty"`
	ActionType      string          `json:"action_type"`
	ElementIndex    int             `json:"element_index"`
	Confidence      float64         `json:"confidence"`
	Reasoning       string          `json:"reasoning,omitempty"`
	AutomationLevel AutomationLevel `json:"automation_level"`
}

// StepRecord summarizes one completed step in the session history.
type StepRecord struct {
	Instruction string    `json:"instruction"`
	ActionType  string    `json:"action_type"`
	Summary     string    `json:"summary,omitempty"`
	Outcome     string    `json:"outcome"` // "completed", "auto_executed", "skipped"
	CompletedAt time.Time `json:"completed_at"`
}

// ErrorInfo records the last error surfaced to the user. Cleared on
// recovery transitions.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Navigation tracks an in-flight page transition.
type Navigation struct {
	InProgress bool   `json:"in_progress"`
	TargetURL  string `json:"target_url,omitempty"`
}

// Tabs tracks the execution contexts participating in the session. The
// primary tab started the session; closing it ends the session.
type Tabs struct {
	PrimaryTabID int64   `json:"primary_tab_id"`
	ActiveTabIDs []int64 `json:"active_tab_ids"`
}

// Contains reports whether id is a member of the active tab set.
func (t Tabs) Contains(id int64) bool {
	for _, tab := range t.ActiveTabIDs {
		if tab == id {
			return true
		}
	}
	return false
}

// Timing is the session lifecycle clock. ExpiresAt is nil only while idle.
type Timing struct {
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// LoopDetection guards against asking the AI to act on an unchanged page
// repeatedly. All fields round-trip through JSON without custom codecs.
type LoopDetection struct {
	LastContextHash    string `json:"last_context_hash,omitempty"`
	ConsecutiveRepeats int    `json:"consecutive_repeats"`
	LastAction         string `json:"last_action,omitempty"`
}

// Capture records the most recent page-context capture.
type Capture struct {
	URL        string    `json:"url,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// State is the single source of truth for one active session.
type State struct {
	MachineState MachineState `json:"machine_state"`

	SessionID        string `json:"session_id,omitempty"`
	BackendSessionID string `json:"backend_session_id,omitempty"`

	Goal              string            `json:"goal,omitempty"`
	GoalEntities      map[string]string `json:"goal_entities,omitempty"`
	EntitiesConfirmed bool              `json:"entities_confirmed"`

	CurrentStep *DynamicStep `json:"current_step,omitempty"`
	StepHistory []StepRecord `json:"step_history,omitempty"`
	StepCount   int          `json:"step_count"`

	AIThinking       bool   `json:"ai_thinking"`
	AIMessage        string `json:"ai_message,omitempty"`
	ProgressEstimate int    `json:"progress_estimate"`

	ErrorInfo     *ErrorInfo    `json:"error_info,omitempty"`
	Navigation    Navigation    `json:"navigation"`
	Tabs          Tabs          `json:"tabs"`
	Timing        Timing        `json:"timing"`
	LoopDetection LoopDetection `json:"loop_detection"`
	LastCapture   Capture       `json:"last_capture"`
}

// NewIdle returns the empty-default state: no session, no tabs, nothing
// persisted.
func NewIdle() State {
	return State{
		MachineState: StateIdle,
		GoalEntities: map[string]string{},
		Tabs:         Tabs{ActiveTabIDs: []int64{}},
	}
}

// IsIdle reports whether no session is active.
func (s State) IsIdle() bool {
	return s.MachineState == StateIdle
}

// IsTerminal reports whether the session reached its sink state.
func (s State) IsTerminal() bool {
	return s.MachineState == StateCompleted
}

// Clone returns a deep copy. Reducers operate on clones so a rejected
// event can never leave a partially mutated state behind.
func (s State) Clone() State {
	c := s

	if s.GoalEntities != nil {
		c.GoalEntities = make(map[string]string, len(s.GoalEntities))
		for k, v := range s.GoalEntities {
			c.GoalEntities[k] = v
		}
	}
	if s.CurrentStep != nil {
		step := *s.CurrentStep
		c.CurrentStep = &step
	}
	if s.StepHistory != nil {
		c.StepHistory = make([]StepRecord, len(s.StepHistory))
		copy(c.StepHistory, s.StepHistory)
	}
	if s.ErrorInfo != nil {
		info := *s.ErrorInfo
		c.ErrorInfo = &info
	}
	if s.Tabs.ActiveTabIDs != nil {
		c.Tabs.ActiveTabIDs = make([]int64, len(s.Tabs.ActiveTabIDs))
		copy(c.Tabs.ActiveTabIDs, s.Tabs.ActiveTabIDs)
	}
	if s.Timing.ExpiresAt != nil {
		exp := *s.Timing.ExpiresAt
		c.Timing.ExpiresAt = &exp
	}
	return c
}
