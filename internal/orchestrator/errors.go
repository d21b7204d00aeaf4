package orchestrator

import "errors"

var (
	// ErrClosed is returned once the orchestrator has shut down.
	ErrClosed = errors.New("orchestrator closed")

	// ErrSessionActive rejects a start while a session is in progress.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNoSession rejects operations that need an active session.
	ErrNoSession = errors.New("no active session")

	// ErrInvalidTransition reports that the operation's initiating event
	// was not legal from the current state. The state is unchanged.
	ErrInvalidTransition = errors.New("event not legal in current state")

	// ErrNoBackendSession reports a step request before the backend
	// acknowledged session creation.
	ErrNoBackendSession = errors.New("no backend session bound")

	// ErrLoopDetected reports that the page context has not changed over
	// repeated step requests; the session was routed to ERROR.
	ErrLoopDetected = errors.New("page context unchanged, loop detected")
)
