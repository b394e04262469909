// Command shadowcam drives a camera deepfake-detection session from the
// terminal or serves it to a browser over the local control API.
//
// One-shot commands (photo, record, live) open the camera, run a single
// action and release it. "shadowcam hub" keeps a session open and reads
// actions from stdin; "shadowcam serve" exposes the same session over HTTP.
package main
