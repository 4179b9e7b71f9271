// Package api implements the console's optional local observer: a small
// HTTP API and a WebSocket event stream.
//
// This package provides:
//   - GET /api/v1/health for liveness, session state and journal health
//   - GET /api/v1/session and /api/v1/session/pending for the live session
//   - GET /api/v1/deliveries and /api/v1/session/events for journal history
//   - GET /api/v1/metrics for runtime and component counters
//   - A WebSocket hub that relays every core event as JSON
//
// # Architecture
//
// The Hub is a session.Sink. The session manager emits events into it under
// its own lock, so Hub.Emit only marshals and queues; slow clients lose
// messages rather than stall the manager.
//
// # Security
//
// The observer is read-only and has no authentication. It binds to
// 127.0.0.1 by default; exposing it wider exposes message payloads.
package api
