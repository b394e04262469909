// Package services defines shared utilities consumed by the capture, analysis,
// and session packages.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, action names, and request
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the error kinds surfaced in session snapshots.
//
// Use these helpers when wiring new components so error classification and
// observability stay uniform across the hub.
package services
