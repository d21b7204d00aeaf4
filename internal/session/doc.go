// Package session defines the guided-session data model and the pure
// state-application engine that drives it.
//
// A session is a single record (State) describing one in-progress guided
// workflow: which node of the state graph it occupies, the goal and its
// extracted entities, the step currently shown to the user, the history of
// completed steps, and the tabs participating in the session.
//
// All mutation happens through Reduce, a pure function from (state, event)
// to a new state. Reduce consults a declarative transition table (globals
// first, then per-state rules, first match wins) and applies per-event
// field updates. Events that match no table entry leave the state
// untouched. The package performs no I/O; persistence, broadcast, and
// timers belong to the orchestrator.
package session
