package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WebPilotHQ/webpilot/internal/session"
)

// ActiveSessionKey is the single key under which the active session
// lives. One session per process, so one key.
const ActiveSessionKey = "webpilot:session:active"

// Sessions adapts a Store to the orchestrator's save/load contract: an
// idle or completed state is represented by removing the key, so the
// invariant "idle means nothing persisted" holds by construction.
type Sessions struct {
	store Store
}

// NewSessions creates the adapter around a Store.
func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// Save persists the state, or clears the key when there is nothing worth
// restoring.
func (s *Sessions) Save(ctx context.Context, state session.State) error {
	if state.IsIdle() || state.IsTerminal() {
		return s.Clear(ctx)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.store.Set(ctx, ActiveSessionKey, data); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	return nil
}

// Load restores the persisted state, reporting absence without error.
func (s *Sessions) Load(ctx context.Context) (session.State, bool, error) {
	data, ok, err := s.store.Get(ctx, ActiveSessionKey)
	if err != nil {
		return session.State{}, false, fmt.Errorf("load session state: %w", err)
	}
	if !ok {
		return session.State{}, false, nil
	}

	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		return session.State{}, false, fmt.Errorf("decode session state: %w", err)
	}
	return state, true, nil
}

// Clear removes the persisted session.
func (s *Sessions) Clear(ctx context.Context) error {
	if err := s.store.Remove(ctx, ActiveSessionKey); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}
