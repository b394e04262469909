package testsupport

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"shadowcam/internal/camera"
)

// JPEG returns a solid-colour JPEG of the given size.
func JPEG(t testing.TB, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// CameraSource is an in-memory camera.Source. Every opened feed immediately
// publishes Initial, if set.
type CameraSource struct {
	Initial []byte
	OpenErr error

	mu    sync.Mutex
	feeds []*CameraFeed
}

// Open implements camera.Source.
func (s *CameraSource) Open(_ context.Context, c camera.Constraints) (camera.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	feed := &CameraFeed{ch: make(chan camera.Frame, 16), constraints: c}
	s.feeds = append(s.feeds, feed)
	if len(s.Initial) > 0 {
		feed.Push(s.Initial)
	}
	return feed, nil
}

// Opens reports how many feeds were opened.
func (s *CameraSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

// Feed returns the most recently opened feed.
func (s *CameraSource) Feed() *CameraFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.feeds) == 0 {
		return nil
	}
	return s.feeds[len(s.feeds)-1]
}

// OpenFeeds reports how many opened feeds have not been closed.
func (s *CameraSource) OpenFeeds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.feeds {
		if !f.Closed() {
			n++
		}
	}
	return n
}

// CameraFeed is a controllable camera.Feed.
type CameraFeed struct {
	ch          chan camera.Frame
	constraints camera.Constraints

	mu     sync.Mutex
	closed bool
	err    error
}

// Push publishes one frame. Pushing to a closed feed is ignored.
func (f *CameraFeed) Push(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.ch <- camera.Frame{Width: f.constraints.Width, Height: f.constraints.Height, Data: data}
}

// Fail ends the feed as if the device disappeared.
func (f *CameraFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.err = err
	f.closed = true
	close(f.ch)
}

// Closed reports whether the feed has ended.
func (f *CameraFeed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *CameraFeed) Frames() <-chan camera.Frame { return f.ch }

func (f *CameraFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *CameraFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// AllowAccess is a camera.AccessFunc that accepts every device.
func AllowAccess(string, uint32) error { return nil }
