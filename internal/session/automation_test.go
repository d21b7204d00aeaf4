package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		step DynamicStep
		want AutomationLevel
	}{
		{
			name: "high confidence low risk click",
			step: DynamicStep{Instruction: "Click Submit", ActionType: "click", Confidence: 0.95},
			want: AutomationAuto,
		},
		{
			name: "high confidence but risky action kind",
			step: DynamicStep{Instruction: "Type your name", ActionType: "type", Confidence: 0.95},
			want: AutomationConfirm,
		},
		{
			name: "destructive keyword in instruction",
			step: DynamicStep{Instruction: "Click to delete your account", ActionType: "click", Confidence: 0.99},
			want: AutomationConfirm,
		},
		{
			name: "destructive keyword in field label",
			step: DynamicStep{Instruction: "Click the button", FieldLabel: "Cancel subscription", ActionType: "click", Confidence: 0.99},
			want: AutomationConfirm,
		},
		{
			name: "medium confidence",
			step: DynamicStep{Instruction: "Select a date", ActionType: "select", Confidence: 0.75},
			want: AutomationConfirm,
		},
		{
			name: "low confidence",
			step: DynamicStep{Instruction: "Find the right tab", ActionType: "click", Confidence: 0.4},
			want: AutomationManual,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.step))
		})
	}
}

func TestAutoTierStepStillShowsStep(t *testing.T) {
	// The classification is computed and stored, but the auto-execute gate
	// is closed: even an auto-tier step lands in SHOWING_STEP.
	s := advance(t, NewIdle(),
		StartEvent("sess_01", "x", 1),
		SessionCreatedEvent("7", nil),
		Event{Type: EventEntitiesConfirmed},
		Event{Type: EventContextCaptured, ContextHash: "h1"},
		StepReceivedEvent(&DynamicStep{Instruction: "Click Submit", ActionType: "click", Confidence: 0.95}, "", 0),
	)

	assert.Equal(t, StateShowingStep, s.MachineState)
	require.NotNil(t, s.CurrentStep)
	assert.Equal(t, AutomationAuto, s.CurrentStep.AutomationLevel)
}

func TestContextHashDeterminism(t *testing.T) {
	a := ContextHash("https://x/y", "Checkout", 42, "page body")
	b := ContextHash("https://x/y", "Checkout", 42, "page body")
	c := ContextHash("https://x/y", "Checkout", 43, "page body")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
