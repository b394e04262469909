// Package live runs background monitoring of an acquired camera stream.
//
// A Poller samples a small JPEG on a fixed interval and submits it for
// analysis. At most one request is outstanding at any time across every run
// of the poller: a tick that fires while a request is still in flight is
// skipped, never queued. Stopping a run cancels its timer and discards the
// result of any request still in flight.
package live
