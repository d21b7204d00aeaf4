// Package ws connects browser tabs to the session orchestrator over
// WebSocket.
//
// Each tab opens one socket and registers its tab id as the first
// message. After that the connection carries two flows: inbound control
// messages (start_session, request_step, action_completed, ...) that
// invoke orchestrator operations, and outbound state_update pushes
// emitted after every accepted transition.
//
// Message Types (Tab -> Server):
//   - register: bind the socket to a tab_id (must be first)
//   - start_session, confirm_entities, request_step, action_completed,
//     feedback, skip_step, retry, end_session: session control
//   - element_found, element_not_found, url_changed, page_loaded,
//     tab_ready: page lifecycle signals
//   - get_state: request a state snapshot
//   - ping: keep-alive
//
// Message Types (Server -> Tab):
//   - state_update: broadcast after an accepted transition
//   - state: direct reply to a control message or get_state
//   - error: a rejected or failed control message
//   - pong: keep-alive reply
package ws
