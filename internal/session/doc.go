// Package session implements the camera session state machine.
//
// Controller is the only component presentation layers talk to. It owns the
// acquired stream, the open recording and the live poller, and exposes the
// observable state as an immutable Snapshot. Transitions take the controller
// mutex only for local bookkeeping; camera acquisition, clip encoding, token
// retrieval and analysis requests all run unlocked, and their results are
// dropped if the session was closed or reopened in the meantime.
//
// Refusals (busy, invalid state, sign-in required) return an error without
// touching the snapshot. Every other failure is recorded in Snapshot.Error
// until the next successful action or DismissError.
package session
