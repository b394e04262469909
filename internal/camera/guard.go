package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

const soundDeviceDir = "/dev/snd"

// AccessFunc probes a device node, mirroring unix.Access.
type AccessFunc func(path string, mode uint32) error

// Option configures a Guard.
type Option func(*Guard)

// WithLockDir sets where per-device lock files live. An empty dir disables
// cross-process locking.
func WithLockDir(dir string) Option {
	return func(g *Guard) { g.lockDir = strings.TrimSpace(dir) }
}

// WithStartTimeout makes Acquire wait for the first frame before returning.
// Zero returns as soon as the source has started.
func WithStartTimeout(d time.Duration) Option {
	return func(g *Guard) { g.startTimeout = d }
}

// WithAccessFunc replaces the device access probe (primarily for tests).
func WithAccessFunc(fn AccessFunc) Option {
	return func(g *Guard) {
		if fn != nil {
			g.access = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logging.NewComponentLogger(logger, "camera") }
}

// Guard is the single owner of the camera hardware.
type Guard struct {
	source       Source
	lockDir      string
	startTimeout time.Duration
	access       AccessFunc
	logger       *slog.Logger

	mu      sync.Mutex
	current *Stream
	lock    *flock.Flock
}

// NewGuard constructs a guard over the given frame source.
func NewGuard(source Source, opts ...Option) *Guard {
	g := &Guard{
		source: source,
		access: unix.Access,
		logger: logging.NewComponentLogger(nil, "camera"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire opens the device described by c. It never retries; every failure is
// reported as services.ErrCamera.
func (g *Guard) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil {
		return nil, cameraError("camera is already in use by this hub", nil)
	}
	if err := g.probe(c); err != nil {
		return nil, err
	}

	var lock *flock.Flock
	var lockPath string
	if g.lockDir != "" {
		if err := os.MkdirAll(g.lockDir, 0o755); err != nil {
			return nil, cameraError("cannot create camera lock directory", err)
		}
		lockPath = filepath.Join(g.lockDir, lockFileName(c.Device))
		lock = flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, cameraError("cannot lock camera", err)
		}
		if !ok {
			return nil, cameraError(fmt.Sprintf("camera %s is in use by another process", c.Device), nil)
		}
	}
	unlock := func() {
		if lock != nil {
			_ = lock.Unlock()
		}
	}

	if g.source == nil {
		unlock()
		return nil, cameraError("no camera source configured", nil)
	}
	feed, err := g.source.Open(ctx, c)
	if err != nil {
		unlock()
		return nil, cameraError(fmt.Sprintf("could not start camera %s", c.Device), err)
	}

	stream := newStream(uuid.NewString(), c, lockPath, feed)
	if g.startTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, g.startTimeout)
		_, err := stream.WaitFrame(waitCtx)
		cancel()
		if err != nil {
			stream.released.Store(true)
			_ = feed.Close()
			<-stream.Done()
			unlock()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, cameraError(fmt.Sprintf("camera %s produced no frames", c.Device), nil)
			}
			return nil, cameraError(fmt.Sprintf("camera %s stopped before the first frame", c.Device), err)
		}
	}

	g.current = stream
	g.lock = lock
	g.logger.Info("camera acquired",
		logging.String(logging.FieldEventType, "camera_acquired"),
		logging.String("device", c.Device),
		logging.String("stream_id", stream.ID()),
		logging.String("resolution", fmt.Sprintf("%dx%d", c.Width, c.Height)),
		logging.Bool("audio", c.Audio),
	)
	return stream, nil
}

// Release stops the stream and frees the device. Releasing nil, an already
// released stream, or a stream this guard did not issue is a no-op.
func (g *Guard) Release(s *Stream) {
	if s == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != s {
		return
	}

	s.released.Store(true)
	if err := s.feed.Close(); err != nil {
		g.logger.Debug("camera feed close failed", logging.Error(err))
	}
	<-s.Done()
	if g.lock != nil {
		if err := g.lock.Unlock(); err != nil {
			logging.WarnWithContext(g.logger, "failed to release camera lock", "camera_unlock_failed",
				logging.Error(err),
				logging.String("lock_path", s.lockPath),
				logging.String(logging.FieldErrorHint, "remove the stale lock file if the camera stays busy"),
			)
		}
	}
	g.current = nil
	g.lock = nil
	g.logger.Info("camera released",
		logging.String(logging.FieldEventType, "camera_released"),
		logging.String("device", s.constraints.Device),
		logging.String("stream_id", s.ID()),
		logging.Int64("dropped_frames", int64(s.DroppedFrames())),
	)
}

// Outstanding reports how many handles are currently held (0 or 1).
func (g *Guard) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return 0
	}
	return 1
}

// Probe reports whether the device in c is present and accessible without
// opening it.
func (g *Guard) Probe(c Constraints) error {
	return g.probe(c)
}

func (g *Guard) probe(c Constraints) error {
	if strings.TrimSpace(c.Device) == "" {
		return cameraError("no camera device configured", nil)
	}
	if err := g.access(c.Device, unix.R_OK|unix.W_OK); err != nil {
		return cameraError(describeAccess("camera", c.Device, err), err)
	}
	if c.Audio {
		if err := g.access(soundDeviceDir, unix.R_OK|unix.X_OK); err != nil {
			return cameraError(describeAccess("microphone", soundDeviceDir, err), err)
		}
	}
	return nil
}

func describeAccess(what, path string, err error) string {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("no %s found at %s", what, path)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM), errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("%s access denied for %s (is the user in the video/audio group?)", what, path)
	case errors.Is(err, unix.EBUSY):
		return fmt.Sprintf("%s %s is busy", what, path)
	default:
		return fmt.Sprintf("%s %s is unavailable", what, path)
	}
}

func lockFileName(device string) string {
	base := filepath.Base(strings.TrimSpace(device))
	if base == "" || base == "." || base == "/" {
		base = "camera"
	}
	return base + ".lock"
}

func cameraError(message string, err error) error {
	return services.Wrap(services.ErrCamera, "camera", "acquire", message, err)
}
