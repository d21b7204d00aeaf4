// Package server assembles the HTTP surface of the service.
//
// It wires configuration into the session store (memory or Redis), the
// backend client, the tab hub, and the orchestrator, then exposes them
// through a Gin router:
//
//   - /api/session/*: REST session control
//   - /api/state, /api/state/:tab_id: state snapshots
//   - /ws: per-tab WebSocket connections
//   - /metrics, /health: operational endpoints
//
// Run serves until the context is cancelled, then drains in-flight
// requests and shuts the orchestrator down.
package server
