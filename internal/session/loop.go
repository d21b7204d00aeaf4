package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// LoopThreshold is the number of consecutive identical captures after
// which the orchestrator raises LOOP_DETECTED instead of asking the
// backend again.
const LoopThreshold = 3

// ContextHash fingerprints a captured page so repeated captures of an
// unchanged page can be recognized. Deterministic across restarts.
func ContextHash(url, title string, elementCount int, pageContext string) string {
	combined := strings.Join([]string{
		url,
		title,
		fmt.Sprintf("%d", elementCount),
		pageContext,
	}, "|")
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
