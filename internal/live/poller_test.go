package live_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shadowcam/internal/analysis"
	"shadowcam/internal/camera"
	"shadowcam/internal/capture"
	"shadowcam/internal/live"
	"shadowcam/internal/services"
)

type stubStream struct{}

func (stubStream) ID() string { return "stream" }
func (stubStream) Latest() (camera.Frame, bool) {
	return camera.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}, true
}

type stubSampler struct {
	calls atomic.Int32
	err   error
}

func (s *stubSampler) SampleFrame(capture.FrameSource, int, int, int) (capture.Payload, error) {
	s.calls.Add(1)
	if s.err != nil {
		return capture.Payload{}, s.err
	}
	return capture.NewPayload(capture.KindImage, capture.MIMEJPEG, "live_frame.jpg", []byte("jpeg")), nil
}

type stubTokens struct{}

func (stubTokens) Token(context.Context) (string, error) { return "tok", nil }

type stubAnalyzer struct {
	mu      sync.Mutex
	delay   time.Duration
	release chan struct{}
	err     error
	verdict analysis.Verdict

	active atomic.Int32
	max    atomic.Int32
	calls  atomic.Int32
}

func (a *stubAnalyzer) Analyze(ctx context.Context, _ capture.Payload, _ string) (analysis.Verdict, error) {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		cur := a.max.Load()
		if n <= cur || a.max.CompareAndSwap(cur, n) {
			break
		}
	}
	a.calls.Add(1)
	if a.release != nil {
		<-a.release
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verdict, a.err
}

func (a *stubAnalyzer) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestAtMostOneRequestAcrossToggles(t *testing.T) {
	analyzer := &stubAnalyzer{delay: 15 * time.Millisecond, verdict: analysis.Verdict{Verdict: "REAL"}}
	poller := live.NewPoller(&stubSampler{}, analyzer, stubTokens{})

	for i := 0; i < 40; i++ {
		if err := poller.Start(context.Background(), stubStream{}, 2*time.Millisecond, func(analysis.Verdict) {}); err != nil {
			t.Fatalf("Start: %v", err)
		}
		time.Sleep(time.Duration(i%4) * 3 * time.Millisecond)
		poller.Stop()
	}
	poller.Wait()

	if analyzer.calls.Load() == 0 {
		t.Fatal("expected some requests to be issued")
	}
	if got := analyzer.max.Load(); got > 1 {
		t.Fatalf("expected at most one concurrent request, saw %d", got)
	}
	if poller.State() != live.StateStopped {
		t.Fatalf("expected stopped poller, got %s", poller.State())
	}
}

func TestSlowRequestCausesSkippedTicks(t *testing.T) {
	analyzer := &stubAnalyzer{release: make(chan struct{})}
	poller := live.NewPoller(&stubSampler{}, analyzer, stubTokens{})
	if err := poller.Start(context.Background(), stubStream{}, 2*time.Millisecond, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return poller.Skipped() >= 3 })
	if analyzer.calls.Load() != 1 {
		t.Fatalf("expected a single outstanding request, got %d", analyzer.calls.Load())
	}
	poller.Stop()
	close(analyzer.release)
	poller.Wait()
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	analyzer := &stubAnalyzer{release: make(chan struct{}), verdict: analysis.Verdict{Verdict: "FAKE", Probability: 0.9}}
	poller := live.NewPoller(&stubSampler{}, analyzer, stubTokens{})

	var results atomic.Int32
	if err := poller.Start(context.Background(), stubStream{}, 2*time.Millisecond, func(analysis.Verdict) { results.Add(1) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, poller.InFlight)
	poller.Stop()
	close(analyzer.release)
	poller.Wait()

	if results.Load() != 0 {
		t.Fatalf("expected result after stop to be discarded, got %d deliveries", results.Load())
	}
}

func TestResultsPublishedAndFailuresSwallowed(t *testing.T) {
	analyzer := &stubAnalyzer{verdict: analysis.Verdict{Verdict: "REAL", Probability: 0.1, RiskLevel: "LOW"}}
	var health []bool
	var healthMu sync.Mutex
	poller := live.NewPoller(&stubSampler{}, analyzer, stubTokens{},
		live.WithSettings(live.Settings{Width: 40, Height: 30, Quality: 50, DegradedAfter: 3}),
		live.WithHealthFunc(func(degraded bool) {
			healthMu.Lock()
			defer healthMu.Unlock()
			health = append(health, degraded)
		}),
	)

	var got atomic.Int32
	if err := poller.Start(context.Background(), stubStream{}, 2*time.Millisecond, func(v analysis.Verdict) {
		if v.Verdict == "REAL" {
			got.Add(1)
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return got.Load() >= 1 })

	analyzer.setErr(services.Wrap(services.ErrUnreachable, "analysis", "analyze-image", "analysis service unreachable", errors.New("connection refused")))
	before := got.Load()
	waitFor(t, func() bool {
		healthMu.Lock()
		defer healthMu.Unlock()
		return len(health) == 1
	})
	if got.Load() > before+1 {
		t.Fatalf("failed ticks must not publish results")
	}

	analyzer.setErr(nil)
	waitFor(t, func() bool {
		healthMu.Lock()
		defer healthMu.Unlock()
		return len(health) == 2
	})
	poller.Stop()
	poller.Wait()

	healthMu.Lock()
	defer healthMu.Unlock()
	if !health[0] || health[1] {
		t.Fatalf("expected degraded then recovered, got %v", health)
	}
}

func TestRunHealthOverridesPollerCallback(t *testing.T) {
	analyzer := &stubAnalyzer{err: services.Wrap(services.ErrUnreachable, "analysis", "analyze-image", "analysis service unreachable", nil)}
	var shared, perRun atomic.Int32
	poller := live.NewPoller(&stubSampler{}, analyzer, stubTokens{},
		live.WithSettings(live.Settings{Width: 40, Height: 30, Quality: 50, DegradedAfter: 2}),
		live.WithHealthFunc(func(bool) { shared.Add(1) }),
	)
	if err := poller.Start(context.Background(), stubStream{}, 2*time.Millisecond, nil,
		live.WithRunHealth(func(degraded bool) {
			if degraded {
				perRun.Add(1)
			}
		}),
	); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return perRun.Load() == 1 })
	poller.Stop()
	poller.Wait()
	if shared.Load() != 0 {
		t.Fatalf("poller-wide callback fired %d times for a run with its own callback", shared.Load())
	}
}

func TestStartValidation(t *testing.T) {
	poller := live.NewPoller(&stubSampler{}, &stubAnalyzer{}, stubTokens{})
	if err := poller.Start(context.Background(), nil, time.Second, nil); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state for nil stream, got %v", err)
	}
	if err := poller.Start(context.Background(), stubStream{}, 0, nil); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if err := poller.Start(context.Background(), stubStream{}, time.Hour, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := poller.Start(context.Background(), stubStream{}, time.Hour, nil); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state for double start, got %v", err)
	}
	poller.Stop()
	poller.Stop()
}
