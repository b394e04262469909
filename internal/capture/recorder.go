package capture

import (
	"context"
	"sync"
	"time"

	"shadowcam/internal/camera"
	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

// RecordableStream is a stream that supports frame taps.
type RecordableStream interface {
	ID() string
	Subscribe(buffer int) (<-chan camera.Frame, func())
}

const recordingBuffer = 32

// Recording buffers frames from one stream until stopped or aborted.
type Recording struct {
	service  *Service
	streamID string
	started  time.Time
	limit    time.Duration

	cancel func()
	done   chan struct{}

	mu        sync.Mutex
	frames    []camera.Frame
	bytes     int64
	truncated bool
	finished  bool
}

// StartRecording begins buffering frames from stream. It fails if a
// recording is already open on the same stream.
func (s *Service) StartRecording(stream RecordableStream) (*Recording, error) {
	if stream == nil {
		return nil, services.Wrap(services.ErrRecording, "capture", "record", "no active camera stream", nil)
	}
	s.mu.Lock()
	if _, exists := s.recordings[stream.ID()]; exists {
		s.mu.Unlock()
		return nil, services.Wrap(services.ErrRecording, "capture", "record", "a recording is already in progress", nil)
	}
	frames, cancel := stream.Subscribe(recordingBuffer)
	rec := &Recording{
		service:  s,
		streamID: stream.ID(),
		started:  time.Now(),
		limit:    s.maxDuration,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.recordings[rec.streamID] = rec
	s.mu.Unlock()

	go rec.collect(frames)
	s.logger.Debug("recording started",
		logging.String("stream_id", rec.streamID),
		logging.Duration("max_duration", rec.limit),
	)
	return rec, nil
}

// StreamID identifies the stream being recorded.
func (r *Recording) StreamID() string { return r.streamID }

// StartedAt reports when buffering began.
func (r *Recording) StartedAt() time.Time { return r.started }

// Frames reports how many frames have been buffered so far.
func (r *Recording) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Truncated reports whether frames were dropped for exceeding the limit.
func (r *Recording) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}

func (r *Recording) collect(frames <-chan camera.Frame) {
	defer close(r.done)
	for frame := range frames {
		r.mu.Lock()
		if r.finished {
			r.mu.Unlock()
			continue
		}
		if r.limit > 0 && len(r.frames) > 0 && frame.Timestamp.Sub(r.frames[0].Timestamp) >= r.limit {
			if !r.truncated {
				r.truncated = true
				r.service.logger.Warn("recording reached maximum duration; dropping further frames",
					logging.String("stream_id", r.streamID),
					logging.Duration("max_duration", r.limit),
					logging.String(logging.FieldEventType, "recording_truncated"),
				)
			}
			r.mu.Unlock()
			continue
		}
		r.frames = append(r.frames, frame)
		r.bytes += int64(len(frame.Data))
		r.mu.Unlock()
	}
}

// finish detaches the recording from its stream and returns what was
// buffered. The second call reports ok=false.
func (r *Recording) finish() ([]camera.Frame, bool) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return nil, false
	}
	r.finished = true
	r.mu.Unlock()

	r.cancel()
	<-r.done
	r.service.forget(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	frames := r.frames
	r.frames = nil
	return frames, true
}

// Stop ends buffering and encodes the collected frames into one clip.
func (r *Recording) Stop(ctx context.Context) (Payload, error) {
	frames, ok := r.finish()
	if !ok {
		return Payload{}, services.Wrap(services.ErrRecording, "capture", "stop", "recording already stopped", nil)
	}
	if len(frames) == 0 {
		return Payload{}, services.Wrap(services.ErrRecording, "capture", "stop", "recording captured no frames", nil)
	}

	fps := r.service.clipRate(frames)
	enc := r.service.encoder
	data, err := enc.Encode(ctx, frames, fps)
	if err != nil {
		return Payload{}, services.Wrap(services.ErrRecording, "capture", "stop", "failed to encode clip", err)
	}
	r.service.logger.Debug("recording encoded",
		logging.String("stream_id", r.streamID),
		logging.Int("frames", len(frames)),
		logging.Float64("fps", fps),
		logging.Int64("payload_bytes", int64(len(data))),
	)
	return NewPayload(KindVideo, enc.MIMEType(), "record"+enc.Extension(), data), nil
}

// Abort discards buffered frames without encoding. Safe to call after Stop.
func (r *Recording) Abort() {
	if _, ok := r.finish(); ok {
		r.service.logger.Debug("recording aborted", logging.String("stream_id", r.streamID))
	}
}

// clipRate derives the playback rate from frame timestamps, falling back to
// the configured camera rate for very short clips.
func (s *Service) clipRate(frames []camera.Frame) float64 {
	if len(frames) >= 2 {
		span := frames[len(frames)-1].Timestamp.Sub(frames[0].Timestamp)
		if span > 0 {
			fps := float64(len(frames)-1) / span.Seconds()
			if fps >= 1 && fps <= 120 {
				return fps
			}
		}
	}
	return float64(s.framerate)
}
