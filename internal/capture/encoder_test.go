package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"shadowcam/internal/camera"
)

type stubExecutor struct {
	binary string
	args   []string
	stdin  []byte
	out    []byte
	err    error
}

func (s *stubExecutor) Run(_ context.Context, binary string, args []string, stdin io.Reader, stdout io.Writer) error {
	s.binary = binary
	s.args = append([]string(nil), args...)
	data, _ := io.ReadAll(stdin)
	s.stdin = data
	if s.err != nil {
		return s.err
	}
	_, _ = stdout.Write(s.out)
	return nil
}

func TestFFmpegEncoderArgs(t *testing.T) {
	vp8 := strings.Join(NewFFmpegEncoder("", "vp8").Args(15), " ")
	if !strings.Contains(vp8, "-c:v libvpx ") {
		t.Fatalf("expected libvpx codec, got %q", vp8)
	}
	if !strings.Contains(vp8, "-framerate 15.00") || !strings.HasSuffix(vp8, "-f webm pipe:1") {
		t.Fatalf("unexpected args %q", vp8)
	}
	vp9 := strings.Join(NewFFmpegEncoder("ffmpeg", "VP9").Args(10), " ")
	if !strings.Contains(vp9, "-c:v libvpx-vp9") {
		t.Fatalf("expected vp9 codec, got %q", vp9)
	}
}

func TestFFmpegEncoderConcatenatesFrames(t *testing.T) {
	exec := &stubExecutor{out: []byte("webm")}
	enc := NewFFmpegEncoder("/usr/bin/ffmpeg", "vp8").WithExecutor(exec)

	frames := []camera.Frame{{Data: []byte("aa")}, {Data: []byte("bb")}, {Data: []byte("cc")}}
	out, err := enc.Encode(context.Background(), frames, 15)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(out) != "webm" {
		t.Fatalf("unexpected output %q", out)
	}
	if exec.binary != "/usr/bin/ffmpeg" {
		t.Fatalf("unexpected binary %q", exec.binary)
	}
	if !bytes.Equal(exec.stdin, []byte("aabbcc")) {
		t.Fatalf("expected concatenated frames on stdin, got %q", exec.stdin)
	}
}

func TestFFmpegEncoderErrors(t *testing.T) {
	enc := NewFFmpegEncoder("ffmpeg", "vp8").WithExecutor(&stubExecutor{})
	if _, err := enc.Encode(context.Background(), nil, 15); err == nil {
		t.Fatal("expected error for empty frame list")
	}
	frames := []camera.Frame{{Data: []byte("a")}}
	if _, err := enc.Encode(context.Background(), frames, 15); err == nil {
		t.Fatal("expected error for empty encoder output")
	}
	failing := NewFFmpegEncoder("ffmpeg", "vp8").WithExecutor(&stubExecutor{err: errors.New("exit status 1")})
	if _, err := failing.Encode(context.Background(), frames, 15); err == nil {
		t.Fatal("expected executor error to surface")
	}
}
