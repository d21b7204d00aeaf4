package session

import "strings"

// Confidence thresholds for the automation tiers.
const (
	autoConfidence    = 0.9
	confirmConfidence = 0.7
)

// lowRiskActions are action kinds eligible for unattended execution.
var lowRiskActions = map[string]bool{
	"click":  true,
	"select": true,
	"scroll": true,
	"focus":  true,
	"hover":  true,
}

// destructiveKeywords deny auto execution regardless of confidence when
// they appear in the instruction or field label.
var destructiveKeywords = []string{
	"delete",
	"remove",
	"pay",
	"purchase",
	"buy now",
	"checkout",
	"place order",
	"transfer",
	"unsubscribe",
	"cancel",
	"deactivate",
}

// Classify derives the automation tier for a received step: auto for
// high-confidence low-risk actions with no destructive wording, confirm
// for medium confidence, manual otherwise. Whether an auto-tier step may
// actually enter AUTO_EXECUTING is decided separately by the transition
// guard.
func Classify(step DynamicStep) AutomationLevel {
	switch {
	case step.Confidence >= autoConfidence &&
		lowRiskActions[step.ActionType] &&
		!destructive(step.Instruction) &&
		!destructive(step.FieldLabel):
		return AutomationAuto
	case step.Confidence >= confirmConfidence:
		return AutomationConfirm
	default:
		return AutomationManual
	}
}

func destructive(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range destructiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
