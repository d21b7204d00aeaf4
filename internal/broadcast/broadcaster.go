// Package broadcast fans post-transition session state out to every tab
// participating in the session.
package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

// Message is the wire shape delivered to each tab.
type Message struct {
	State   session.State     `json:"state"`
	Trigger session.EventType `json:"trigger"`
}

// Transport delivers a message to a single tab. Errors are per-tab and
// non-fatal.
type Transport interface {
	Send(ctx context.Context, tabID int64, msg Message) error
}

// Broadcaster fans a message out to a tab set in parallel and waits for
// every delivery to settle. One unreachable tab never blocks the rest.
type Broadcaster struct {
	transport Transport
	log       *logging.Logger
	timeout   time.Duration
}

// New creates a Broadcaster. timeout bounds each individual delivery.
func New(transport Transport, log *logging.Logger, timeout time.Duration) *Broadcaster {
	return &Broadcaster{transport: transport, log: log, timeout: timeout}
}

// Broadcast delivers msg to every tab and returns the number of failed
// deliveries. Failures are logged, never propagated.
func (b *Broadcaster) Broadcast(ctx context.Context, tabs []int64, msg Message) int {
	if len(tabs) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, tabID := range tabs {
		wg.Add(1)
		go func(tabID int64) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			if err := b.transport.Send(sendCtx, tabID, msg); err != nil {
				b.log.Warn("broadcast delivery failed",
					zap.Int64("tab_id", tabID),
					zap.String("trigger", string(msg.Trigger)),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(tabID)
	}

	wg.Wait()
	return failed
}
