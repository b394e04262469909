package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStreamClosed is reported by WaitFrame once the feed has ended.
var ErrStreamClosed = errors.New("camera stream closed")

// Frame is one encoded (JPEG) video frame. Data must not be modified after
// the frame is published.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Stream is the handle for an acquired camera. Callers borrow it for capture
// but only the Guard that issued it may release it.
type Stream struct {
	id          string
	constraints Constraints
	lockPath    string
	feed        Feed

	mu       sync.Mutex
	latest   Frame
	hasFrame bool
	subs     map[int]chan Frame
	nextSub  int
	err      error

	first    chan struct{}
	done     chan struct{}
	released atomic.Bool
	dropped  atomic.Uint64
}

func newStream(id string, c Constraints, lockPath string, feed Feed) *Stream {
	s := &Stream{
		id:          id,
		constraints: c,
		lockPath:    lockPath,
		feed:        feed,
		subs:        make(map[int]chan Frame),
		first:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.pump()
	return s
}

// ID returns the unique identifier assigned at acquisition.
func (s *Stream) ID() string { return s.id }

// Constraints returns the constraints the stream was opened with.
func (s *Stream) Constraints() Constraints { return s.constraints }

// Done is closed when the underlying feed ends, either through Release or
// because the device went away.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Released reports whether the owning guard has released the stream.
func (s *Stream) Released() bool { return s.released.Load() }

// Err returns why the feed ended, or nil while it is running or after a
// normal release.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DroppedFrames counts frames a slow subscriber missed.
func (s *Stream) DroppedFrames() uint64 { return s.dropped.Load() }

// Latest returns the most recent frame, if any has arrived.
func (s *Stream) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasFrame
}

// WaitFrame blocks until the first frame is available.
func (s *Stream) WaitFrame(ctx context.Context) (Frame, error) {
	select {
	case <-s.first:
		frame, _ := s.Latest()
		return frame, nil
	case <-s.done:
		if frame, ok := s.Latest(); ok {
			return frame, nil
		}
		if err := s.Err(); err != nil {
			return Frame{}, err
		}
		return Frame{}, ErrStreamClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Subscribe registers a tap that receives every frame published after the
// call. Frames are dropped for the tap when its buffer is full. The channel
// is closed by cancel or when the feed ends.
func (s *Stream) Subscribe(buffer int) (<-chan Frame, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Frame, buffer)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (s *Stream) pump() {
	var seq uint64
	var firstOnce sync.Once
	for frame := range s.feed.Frames() {
		seq++
		frame.Seq = seq
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		s.publish(frame)
		firstOnce.Do(func() { close(s.first) })
	}

	s.mu.Lock()
	if !s.released.Load() {
		if err := s.feed.Err(); err != nil {
			s.err = err
		} else {
			s.err = ErrStreamClosed
		}
	}
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
	close(s.done)
	s.mu.Unlock()
}

func (s *Stream) publish(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = frame
	s.hasFrame = true
	for _, sub := range s.subs {
		select {
		case sub <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}
