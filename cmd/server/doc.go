// Package main is the entry point for the WebPilot session service.
//
// The service sits between the browser extension and the AI workflow
// backend: tabs connect over WebSocket or REST, and a single serialized
// orchestrator drives the guided-session state machine.
//
// Configuration comes from environment variables (see internal/config);
// defaults suit local development.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
