// Package api serves the local control API for a camera session.
//
// Routes mirror the session controller's actions. Every response carries the
// current session snapshot so browser front ends can render without a second
// round trip, and /api/session/ws pushes snapshots as they change.
//
// # Status Mapping
//
// Refusals map to 401 (sign-in required) or 409 (busy, wrong state).
// Camera failures map to 503, upstream rejections to 502 and an unreachable
// analysis service to 504.
package api
