// Package capture turns an acquired camera stream into analysis payloads.
//
// CapturePhoto hands back the newest full-resolution JPEG frame as-is.
// SampleFrame produces the small, lower quality JPEG used by live
// monitoring. Recordings tap the stream, buffer encoded frames in memory, and
// on Stop hand the buffered chunks to an Encoder that concatenates them into a
// single WebM clip. Only one recording may be open per stream.
//
// Payloads are immutable and are never written to disk.
package capture
