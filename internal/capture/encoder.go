package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"shadowcam/internal/camera"
)

// Encoder turns buffered MJPEG frames into a single video clip.
type Encoder interface {
	Encode(ctx context.Context, frames []camera.Frame, fps float64) ([]byte, error)
	MIMEType() string
	Extension() string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdin io.Reader, stdout io.Writer) error
}

// FFmpegEncoder pipes concatenated JPEG frames through ffmpeg into WebM.
type FFmpegEncoder struct {
	binary string
	codec  string
	exec   Executor
}

// NewFFmpegEncoder builds an encoder for the given codec (vp8 or vp9).
func NewFFmpegEncoder(binary, codec string) *FFmpegEncoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegEncoder{binary: binary, codec: strings.ToLower(strings.TrimSpace(codec)), exec: commandExecutor{}}
}

// WithExecutor returns a copy of the encoder that runs commands through exec.
func (e *FFmpegEncoder) WithExecutor(exec Executor) *FFmpegEncoder {
	clone := *e
	if exec != nil {
		clone.exec = exec
	}
	return &clone
}

func (e *FFmpegEncoder) MIMEType() string { return MIMEWebM }

func (e *FFmpegEncoder) Extension() string { return ".webm" }

// Args builds the ffmpeg argument list for a clip at fps.
func (e *FFmpegEncoder) Args(fps float64) []string {
	lib := "libvpx"
	if e.codec == "vp9" {
		lib = "libvpx-vp9"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "mjpeg",
		"-framerate", strconv.FormatFloat(fps, 'f', 2, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", lib,
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-f", "webm",
		"pipe:1",
	}
}

// Encode concatenates frames and transcodes them in one ffmpeg run.
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []camera.Frame, fps float64) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to encode")
	}
	size := 0
	for _, f := range frames {
		size += len(f.Data)
	}
	input := make([]byte, 0, size)
	for _, f := range frames {
		input = append(input, f.Data...)
	}

	var out bytes.Buffer
	if err := e.exec.Run(ctx, e.binary, e.Args(fps), bytes.NewReader(input), &out); err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, errors.New("encoder produced no output")
	}
	return out.Bytes(), nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", binary, err, msg)
		}
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}
