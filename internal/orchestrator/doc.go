// Package orchestrator owns the single active guided session.
//
// Every state mutation, machine events and tab-membership changes
// alike, is funneled through one worker goroutine draining a queue, so at
// most one mutation is in flight at any time no matter how many callers
// dispatch concurrently. Each queued turn applies the transition and
// then runs its side effects to completion before the next turn starts:
// refresh or cancel the expiry timer, persist the state, broadcast it to
// the session's tabs, and notify local subscribers. Neither storage nor
// tabs ever observe a state between a transition and its effects.
//
// Higher-level operations (start, request next step, feedback, end) are
// choreographies: they interleave queued dispatches with calls to the
// backend workflow service, converting every backend failure into an
// AI_ERROR dispatch instead of surfacing a stuck intermediate state.
package orchestrator
