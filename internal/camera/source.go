package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"shadowcam/internal/config"
)

// Constraints describe the capture mode requested from the device.
type Constraints struct {
	Device      string
	Width       int
	Height      int
	Framerate   int
	InputFormat string
	Audio       bool
	AudioDevice string
}

// ConstraintsFromConfig builds constraints from the [camera] section.
func ConstraintsFromConfig(cfg *config.Config) Constraints {
	if cfg == nil {
		return Constraints{}
	}
	return Constraints{
		Device:      cfg.Camera.Device,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		Framerate:   cfg.Camera.Framerate,
		InputFormat: cfg.Camera.InputFormat,
		Audio:       cfg.Camera.AudioEnabled,
		AudioDevice: cfg.Camera.AudioDevice,
	}
}

// Source opens a running frame feed for a device.
type Source interface {
	Open(ctx context.Context, c Constraints) (Feed, error)
}

// Feed delivers frames until closed or until the device stops producing.
// Close must cause Frames to be closed; Err reports why the feed ended once
// Frames has been drained.
type Feed interface {
	Frames() <-chan Frame
	Close() error
	Err() error
}

// CommandFunc builds the capture process. Tests replace it to avoid a real
// ffmpeg binary.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// FFmpegSource captures MJPEG frames from a V4L2 device through ffmpeg.
type FFmpegSource struct {
	Binary  string
	Command CommandFunc
}

// NewFFmpegSource constructs a source that runs the given ffmpeg binary.
func NewFFmpegSource(binary string) *FFmpegSource {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegSource{Binary: binary, Command: exec.CommandContext}
}

// Args returns the ffmpeg arguments used for the given constraints. The
// MJPEG bitstream is copied without re-encoding so frames keep the device's
// native resolution.
func (s *FFmpegSource) Args(c Constraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-f", "v4l2"}
	if c.InputFormat != "" {
		args = append(args, "-input_format", c.InputFormat)
	}
	if c.Framerate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.Framerate))
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	args = append(args, "-i", c.Device, "-an", "-c:v", "copy", "-f", "mjpeg", "pipe:1")
	return args
}

// Open starts ffmpeg. The process outlives ctx; it is stopped by Feed.Close.
func (s *FFmpegSource) Open(ctx context.Context, c Constraints) (Feed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	command := s.Command
	if command == nil {
		command = exec.CommandContext
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := command(procCtx, s.Binary, s.Args(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", s.Binary, err)
	}

	feed := &ffmpegFeed{
		cmd:    cmd,
		ctx:    procCtx,
		cancel: cancel,
		stderr: stderr,
		frames: make(chan Frame, 1),
		done:   make(chan struct{}),
	}
	go feed.read(stdout, c)
	return feed, nil
}

type ffmpegFeed struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	stderr *tailBuffer
	frames chan Frame
	done   chan struct{}

	mu      sync.Mutex
	err     error
	closing bool
}

func (f *ffmpegFeed) Frames() <-chan Frame { return f.frames }

func (f *ffmpegFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *ffmpegFeed) Close() error {
	f.mu.Lock()
	f.closing = true
	f.mu.Unlock()
	f.cancel()
	<-f.done
	return nil
}

func (f *ffmpegFeed) read(stdout io.Reader, c Constraints) {
	defer close(f.done)
	defer close(f.frames)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 512<<10), 16<<20)
	scanner.Split(splitJPEG)
scan:
	for scanner.Scan() {
		data := append([]byte(nil), scanner.Bytes()...)
		frame := Frame{Width: c.Width, Height: c.Height, Data: data}
		select {
		case f.frames <- frame:
		case <-f.ctx.Done():
			break scan
		}
	}
	scanErr := scanner.Err()
	waitErr := f.cmd.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	detail := strings.TrimSpace(f.stderr.String())
	switch {
	case scanErr != nil:
		f.err = fmt.Errorf("read frames: %w", scanErr)
	case waitErr != nil && detail != "":
		f.err = fmt.Errorf("capture process exited: %s", detail)
	case waitErr != nil:
		f.err = fmt.Errorf("capture process exited: %w", waitErr)
	default:
		f.err = errors.New("capture process ended")
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc that yields complete JPEG images from a
// concatenated MJPEG byte stream, discarding any bytes between images.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
