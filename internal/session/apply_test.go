package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSeedsFreshBaseline(t *testing.T) {
	// Stale fields from a previous run must not leak into a new session.
	stale := NewIdle()
	stale.Goal = "old goal"
	stale.StepHistory = []StepRecord{{Instruction: "old"}}
	stale.StepCount = 1
	stale.ProgressEstimate = 80

	s, ok := Reduce(stale, StartEvent("sess_02", "renew passport", 4), testNow)
	require.True(t, ok)

	assert.Equal(t, StateInitializing, s.MachineState)
	assert.Equal(t, "sess_02", s.SessionID)
	assert.Equal(t, "renew passport", s.Goal)
	assert.Empty(t, s.StepHistory)
	assert.Zero(t, s.StepCount)
	assert.Zero(t, s.ProgressEstimate)
	assert.Equal(t, int64(4), s.Tabs.PrimaryTabID)
	assert.Equal(t, []int64{4}, s.Tabs.ActiveTabIDs)
	assert.Equal(t, testNow, s.Timing.StartedAt)
	assert.Equal(t, testNow, s.Timing.LastActivityAt)
}

func TestSessionCreatedBindsBackendSession(t *testing.T) {
	// Scenario: START from IDLE, then the backend acknowledges with its
	// session id and the entities it extracted from the goal.
	s := advance(t, NewIdle(),
		StartEvent("sess_01", "x", 1),
		SessionCreatedEvent("7", map[string]string{"name": "John"}),
	)
	assert.Equal(t, StateConfirmingEntities, s.MachineState)
	assert.Equal(t, "7", s.BackendSessionID)
	assert.Equal(t, "John", s.GoalEntities["name"])
	assert.False(t, s.EntitiesConfirmed)
}

func TestEntitiesConfirmedMergesOverrides(t *testing.T) {
	s := advance(t, NewIdle(),
		StartEvent("sess_01", "x", 1),
		SessionCreatedEvent("7", map[string]string{"name": "John", "city": "Oslo"}),
		Event{Type: EventEntitiesConfirmed, Entities: map[string]string{"name": "Johan"}},
	)
	assert.True(t, s.EntitiesConfirmed)
	assert.Equal(t, "Johan", s.GoalEntities["name"])
	assert.Equal(t, "Oslo", s.GoalEntities["city"])
}

func TestStepCountTracksHistory(t *testing.T) {
	s := activeState(t)

	for i := 0; i < 4; i++ {
		s = advance(t, s,
			Event{Type: EventActionCompleted, Summary: "done"},
			Event{Type: EventContextCaptured, ContextHash: "h"},
			StepReceivedEvent(&DynamicStep{Instruction: "next", ActionType: "click", Confidence: 0.8}, "", 0),
			Event{Type: EventElementFound},
		)
		assert.Equal(t, len(s.StepHistory), s.StepCount)
	}
	assert.Equal(t, 4, s.StepCount)
}

func TestActionCompletedRecordsAndResets(t *testing.T) {
	s := activeState(t)
	require.NotNil(t, s.CurrentStep)
	s.LoopDetection = LoopDetection{LastContextHash: "h1", ConsecutiveRepeats: 2, LastAction: "click"}

	s = advance(t, s, Event{Type: EventActionCompleted, Summary: "clicked the search button"})

	require.Len(t, s.StepHistory, 1)
	rec := s.StepHistory[0]
	assert.Equal(t, "Click Search", rec.Instruction)
	assert.Equal(t, "clicked the search button", rec.Summary)
	assert.Equal(t, "completed", rec.Outcome)
	assert.Equal(t, testNow, rec.CompletedAt)

	assert.Nil(t, s.CurrentStep)
	assert.Equal(t, LoopDetection{}, s.LoopDetection, "loop detection resets on progress")
}

func TestSkipStepRecordsSkippedOutcome(t *testing.T) {
	s := advance(t, activeState(t), Event{Type: EventSkipStep})
	assert.Equal(t, StateCapturing, s.MachineState)
	require.Len(t, s.StepHistory, 1)
	assert.Equal(t, "skipped", s.StepHistory[0].Outcome)
	assert.Nil(t, s.CurrentStep)
}

func TestContextCaptureCountsRepeats(t *testing.T) {
	s := advance(t, NewIdle(),
		StartEvent("sess_01", "x", 1),
		SessionCreatedEvent("7", nil),
		Event{Type: EventEntitiesConfirmed},
	)

	s = advance(t, s, Event{Type: EventContextCaptured, URL: "https://a", ContextHash: "same"})
	assert.Zero(t, s.LoopDetection.ConsecutiveRepeats)
	assert.Equal(t, "same", s.LoopDetection.LastContextHash)
	assert.True(t, s.AIThinking)
	assert.Equal(t, "https://a", s.LastCapture.URL)

	for i := 1; i <= 2; i++ {
		s.MachineState = StateCapturing
		s = advance(t, s, Event{Type: EventContextCaptured, URL: "https://a", ContextHash: "same"})
		assert.Equal(t, i, s.LoopDetection.ConsecutiveRepeats)
	}

	s.MachineState = StateCapturing
	s = advance(t, s, Event{Type: EventContextCaptured, URL: "https://b", ContextHash: "changed"})
	assert.Zero(t, s.LoopDetection.ConsecutiveRepeats, "a changed page resets the counter")
	assert.Equal(t, "changed", s.LoopDetection.LastContextHash)
}

func TestStateRoundTripsThroughJSON(t *testing.T) {
	s := activeState(t)
	s.ErrorInfo = &ErrorInfo{Kind: "backend", Message: "boom"}
	exp := testNow.Add(30 * time.Minute)
	s.Timing.ExpiresAt = &exp

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var restored State
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, s, restored)
}
