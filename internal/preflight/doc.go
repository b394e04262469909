// Package preflight provides readiness checks for the camera, the capture
// binary, and the remote analysis service.
//
// The "shadowcam status" command renders RunAll results, and "shadowcam serve"
// logs failures at startup without refusing to run. A failing check is
// advisory; the session controller reports the same failures as typed errors
// when an action actually needs the resource.
package preflight
