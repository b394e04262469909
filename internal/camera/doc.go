// Package camera owns the physical capture device.
//
// Guard hands out at most one Stream at a time. Ownership is enforced
// in-process by the guard itself and across processes with an advisory flock
// on a per-device lock file, so two hubs on the same machine cannot fight over
// /dev/video0. Acquisition failures of every flavour (permission denied,
// device missing, device busy, capture process failing to start) surface as
// services.ErrCamera with an operator-readable message.
//
// Frames come from a Source. The production source runs ffmpeg against the
// V4L2 device and splits its MJPEG output into individual JPEG frames; tests
// substitute an in-memory feed. A Stream keeps only the most recent frame
// (mailbox semantics) plus optional subscriber taps used by the recorder.
//
// HotplugWatcher listens for udev remove events so the session can be torn
// down as soon as the camera is unplugged.
package camera
