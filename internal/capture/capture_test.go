package capture_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"shadowcam/internal/camera"
	"shadowcam/internal/capture"
	"shadowcam/internal/services"
	"shadowcam/internal/testsupport"
)

type stubEncoder struct {
	mu     sync.Mutex
	frames []camera.Frame
	fps    float64
	out    []byte
	err    error
}

func (s *stubEncoder) Encode(_ context.Context, frames []camera.Frame, fps float64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append([]camera.Frame(nil), frames...)
	s.fps = fps
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func (s *stubEncoder) MIMEType() string  { return capture.MIMEWebM }
func (s *stubEncoder) Extension() string { return ".webm" }

type fixedFrame struct {
	frame camera.Frame
	ok    bool
}

func (f fixedFrame) ID() string                    { return "fixed" }
func (f fixedFrame) Latest() (camera.Frame, bool) { return f.frame, f.ok }

// chanStream hands out a single caller-controlled subscription.
type chanStream struct {
	ch       chan camera.Frame
	once     sync.Once
	canceled chan struct{}
}

func newChanStream() *chanStream {
	return &chanStream{ch: make(chan camera.Frame, 64), canceled: make(chan struct{})}
}

func (c *chanStream) ID() string { return "chan" }

func (c *chanStream) Subscribe(int) (<-chan camera.Frame, func()) {
	return c.ch, func() {
		c.once.Do(func() {
			close(c.canceled)
			close(c.ch)
		})
	}
}

func acquire(t *testing.T, width, height int) (*camera.Stream, *testsupport.CameraSource) {
	t.Helper()
	source := &testsupport.CameraSource{Initial: testsupport.JPEG(t, width, height)}
	guard := camera.NewGuard(source,
		camera.WithLockDir(t.TempDir()),
		camera.WithAccessFunc(testsupport.AllowAccess),
	)
	stream, err := guard.Acquire(context.Background(), camera.Constraints{
		Device: "/dev/video9", Width: width, Height: height, Framerate: 15, InputFormat: "mjpeg",
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { guard.Release(stream) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := stream.WaitFrame(ctx); err != nil {
		t.Fatalf("WaitFrame: %v", err)
	}
	return stream, source
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeSize(t *testing.T, p capture.Payload) (int, int) {
	t.Helper()
	data, err := io.ReadAll(p.Reader())
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestCapturePhotoReturnsNativeFrame(t *testing.T) {
	stream, _ := acquire(t, 640, 480)
	svc := capture.NewService()

	payload, err := svc.CapturePhoto(stream)
	if err != nil {
		t.Fatalf("CapturePhoto: %v", err)
	}
	if payload.Kind() != capture.KindImage || payload.MIMEType() != capture.MIMEJPEG {
		t.Fatalf("unexpected payload %s %s", payload.Kind(), payload.MIMEType())
	}
	if payload.Filename() != "capture.jpg" {
		t.Fatalf("unexpected filename %q", payload.Filename())
	}
	if w, h := decodeSize(t, payload); w != 640 || h != 480 {
		t.Fatalf("expected 640x480, got %dx%d", w, h)
	}
}

func TestCapturePhotoFailures(t *testing.T) {
	svc := capture.NewService()
	cases := []struct {
		name   string
		source capture.FrameSource
	}{
		{"nil stream", nil},
		{"no frame yet", fixedFrame{}},
		{"undecodable frame", fixedFrame{frame: camera.Frame{Data: []byte("not a jpeg")}, ok: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CapturePhoto(tc.source)
			if !errors.Is(err, services.ErrCapture) {
				t.Fatalf("expected capture error, got %v", err)
			}
			if services.KindOf(err) != services.KindCapture {
				t.Fatalf("unexpected kind %s", services.KindOf(err))
			}
		})
	}
}

func TestSampleFrameScalesDown(t *testing.T) {
	stream, _ := acquire(t, 640, 480)
	svc := capture.NewService()

	payload, err := svc.SampleFrame(stream, 400, 300, 50)
	if err != nil {
		t.Fatalf("SampleFrame: %v", err)
	}
	if payload.Filename() != "live_frame.jpg" {
		t.Fatalf("unexpected filename %q", payload.Filename())
	}
	if w, h := decodeSize(t, payload); w != 400 || h != 300 {
		t.Fatalf("expected 400x300, got %dx%d", w, h)
	}

	if _, err := svc.SampleFrame(stream, 0, 300, 50); !errors.Is(err, services.ErrCapture) {
		t.Fatalf("expected capture error for zero width, got %v", err)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	stream, source := acquire(t, 320, 240)
	enc := &stubEncoder{out: []byte("webm-bytes")}
	svc := capture.NewService(capture.WithEncoder(enc))

	rec, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := svc.StartRecording(stream); !errors.Is(err, services.ErrRecording) {
		t.Fatalf("expected recording error for second start, got %v", err)
	}
	if _, ok := svc.Recording(stream.ID()); !ok {
		t.Fatal("expected open recording to be tracked")
	}
	if rec.StreamID() != stream.ID() {
		t.Fatalf("recording stream id = %q, want %q", rec.StreamID(), stream.ID())
	}

	frame := testsupport.JPEG(t, 320, 240)
	for i := 0; i < 3; i++ {
		source.Feed().Push(frame)
	}
	waitFor(t, func() bool { return rec.Frames() == 3 })

	payload, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if payload.Kind() != capture.KindVideo || payload.MIMEType() != capture.MIMEWebM {
		t.Fatalf("unexpected payload %s %s", payload.Kind(), payload.MIMEType())
	}
	if payload.Filename() != "record.webm" || payload.Size() != int64(len("webm-bytes")) {
		t.Fatalf("unexpected clip %q size=%d", payload.Filename(), payload.Size())
	}
	if len(enc.frames) != 3 {
		t.Fatalf("expected encoder to receive 3 frames, got %d", len(enc.frames))
	}

	if _, err := rec.Stop(context.Background()); !errors.Is(err, services.ErrRecording) {
		t.Fatalf("expected recording error for double stop, got %v", err)
	}
	if _, ok := svc.Recording(stream.ID()); ok {
		t.Fatal("expected recording to be forgotten after stop")
	}

	again, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("restart recording: %v", err)
	}
	again.Abort()
	again.Abort()
}

func TestRecordingWithoutFramesFails(t *testing.T) {
	stream, _ := acquire(t, 320, 240)
	svc := capture.NewService(capture.WithEncoder(&stubEncoder{out: []byte("x")}))

	rec, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	_, err = rec.Stop(context.Background())
	if !errors.Is(err, services.ErrRecording) {
		t.Fatalf("expected recording error, got %v", err)
	}
}

func TestRecordingEncodeFailure(t *testing.T) {
	stream := newChanStream()
	enc := &stubEncoder{err: errors.New("libvpx missing")}
	svc := capture.NewService(capture.WithEncoder(enc))

	rec, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	stream.ch <- camera.Frame{Timestamp: time.Now(), Data: []byte{1}}
	waitFor(t, func() bool { return rec.Frames() == 1 })

	_, err = rec.Stop(context.Background())
	if services.KindOf(err) != services.KindRecording {
		t.Fatalf("expected recording kind, got %v", err)
	}
	if got := services.Message(err); got == "" {
		t.Fatal("expected a user-facing message")
	}
}

func TestRecordingTruncatesAtMaxDuration(t *testing.T) {
	stream := newChanStream()
	enc := &stubEncoder{out: []byte("clip")}
	svc := capture.NewService(capture.WithEncoder(enc), capture.WithMaxDuration(time.Second))

	rec, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	base := time.Now()
	for i := 0; i < 5; i++ {
		stream.ch <- camera.Frame{Seq: uint64(i + 1), Timestamp: base.Add(time.Duration(i) * 400 * time.Millisecond), Data: []byte{byte(i)}}
	}
	waitFor(t, func() bool { return rec.Truncated() })

	if _, err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// frames at 0, 0.4s and 0.8s fit inside one second
	if len(enc.frames) != 3 {
		t.Fatalf("expected 3 frames kept, got %d", len(enc.frames))
	}
	if enc.fps < 2.4 || enc.fps > 2.6 {
		t.Fatalf("expected fps near 2.5, got %.2f", enc.fps)
	}
	select {
	case <-stream.canceled:
	default:
		t.Fatal("expected subscription canceled on stop")
	}
}

func TestRecordingSurvivesStreamEnd(t *testing.T) {
	stream, source := acquire(t, 320, 240)
	enc := &stubEncoder{out: []byte("clip")}
	svc := capture.NewService(capture.WithEncoder(enc))

	rec, err := svc.StartRecording(stream)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	source.Feed().Push(testsupport.JPEG(t, 320, 240))
	waitFor(t, func() bool { return rec.Frames() == 1 })
	source.Feed().Fail(errors.New("device unplugged"))
	<-stream.Done()

	if _, err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after stream end: %v", err)
	}
}
