package capture

import (
	"log/slog"
	"sync"
	"time"

	"shadowcam/internal/config"
	"shadowcam/internal/logging"
)

// Option configures the service.
type Option func(*Service)

// WithEncoder injects a custom clip encoder (primarily for tests).
func WithEncoder(enc Encoder) Option {
	return func(s *Service) {
		if enc != nil {
			s.encoder = enc
		}
	}
}

// WithMaxDuration caps how much footage a single recording keeps.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithFramerate sets the rate assumed when a clip's timing cannot be measured.
func WithFramerate(fps int) Option {
	return func(s *Service) {
		if fps > 0 {
			s.framerate = fps
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service produces photo, sample and clip payloads from camera streams.
type Service struct {
	encoder     Encoder
	maxDuration time.Duration
	framerate   int
	logger      *slog.Logger

	mu         sync.Mutex
	recordings map[string]*Recording
}

// NewService constructs a capture service with an ffmpeg clip encoder.
func NewService(opts ...Option) *Service {
	s := &Service{
		encoder:     NewFFmpegEncoder("ffmpeg", "vp8"),
		maxDuration: 60 * time.Second,
		framerate:   15,
		logger:      logging.NewNop(),
		recordings:  make(map[string]*Recording),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String(logging.FieldComponent, "capture"))
	return s
}

// NewServiceFromConfig wires the service from configuration.
func NewServiceFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	base := []Option{
		WithLogger(logger),
		WithEncoder(NewFFmpegEncoder(cfg.Camera.FFmpegBinary, cfg.Recording.Codec)),
		WithMaxDuration(cfg.MaxRecording()),
		WithFramerate(cfg.Camera.Framerate),
	}
	return NewService(append(base, opts...)...)
}

// Recording returns the open recording on the given stream, if any.
func (s *Service) Recording(streamID string) (*Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[streamID]
	return rec, ok
}

func (s *Service) forget(rec *Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.recordings[rec.streamID]; ok && current == rec {
		delete(s.recordings, rec.streamID)
	}
}
