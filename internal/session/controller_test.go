package session_test

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shadowcam/internal/analysis"
	"shadowcam/internal/camera"
	"shadowcam/internal/capture"
	"shadowcam/internal/history"
	"shadowcam/internal/live"
	"shadowcam/internal/services"
	"shadowcam/internal/session"
	"shadowcam/internal/testsupport"
)

type fakeAuth struct {
	unauthenticated atomic.Bool
	prompts         atomic.Int32
	tokenCalls      atomic.Int32
}

func (a *fakeAuth) IsAuthenticated() bool { return !a.unauthenticated.Load() }

func (a *fakeAuth) Token(context.Context) (string, error) {
	a.tokenCalls.Add(1)
	if a.unauthenticated.Load() {
		return "", services.Wrap(services.ErrAuthRequired, "auth", "refresh", "sign-in required", nil)
	}
	return "tok", nil
}

func (a *fakeAuth) PromptSignIn() { a.prompts.Add(1) }

type fakeAnalyzer struct {
	mu      sync.Mutex
	verdict analysis.Verdict
	err     error
	delay   time.Duration
	gate    chan struct{}
	kinds   []capture.Kind

	calls  atomic.Int32
	active atomic.Int32
	max    atomic.Int32
}

func (a *fakeAnalyzer) Analyze(_ context.Context, p capture.Payload, _ string) (analysis.Verdict, error) {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		cur := a.max.Load()
		if n <= cur || a.max.CompareAndSwap(cur, n) {
			break
		}
	}
	a.calls.Add(1)
	a.mu.Lock()
	a.kinds = append(a.kinds, p.Kind())
	gate, delay := a.gate, a.delay
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verdict, a.err
}

func (a *fakeAnalyzer) set(v analysis.Verdict, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verdict, a.err = v, err
}

func (a *fakeAnalyzer) setGate(gate chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = gate
}

type clipEncoder struct{}

func (clipEncoder) Encode(context.Context, []camera.Frame, float64) ([]byte, error) {
	return []byte("webm"), nil
}
func (clipEncoder) MIMEType() string  { return capture.MIMEWebM }
func (clipEncoder) Extension() string { return ".webm" }

type memoryHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryHistory) Append(_ context.Context, e history.Entry) (history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return e, nil
}

type harness struct {
	ctrl     *session.Controller
	source   *testsupport.CameraSource
	guard    *camera.Guard
	analyzer *fakeAnalyzer
	auth     *fakeAuth
	history  *memoryHistory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, nil)
}

func newHarnessWithLogger(t *testing.T, logger *slog.Logger) *harness {
	t.Helper()
	h := &harness{
		source:   &testsupport.CameraSource{Initial: testsupport.JPEG(t, 64, 48)},
		analyzer: &fakeAnalyzer{verdict: analysis.Verdict{Verdict: "REAL", Probability: 0.1, RiskLevel: "LOW"}},
		auth:     &fakeAuth{},
		history:  &memoryHistory{},
	}
	h.guard = camera.NewGuard(h.source,
		camera.WithLockDir(t.TempDir()),
		camera.WithAccessFunc(testsupport.AllowAccess),
		camera.WithStartTimeout(2*time.Second),
	)
	h.ctrl = session.NewController(session.Deps{
		Guard:    h.guard,
		Capture:  capture.NewService(capture.WithEncoder(clipEncoder{})),
		Analyzer: h.analyzer,
		Auth:     h.auth,
		History:  h.history,
		Logger:   logger,
	}, session.Settings{
		Constraints:  camera.Constraints{Device: "/dev/video9", Width: 64, Height: 48, Framerate: 15, InputFormat: "mjpeg"},
		LiveInterval: 3 * time.Millisecond,
		Live:         live.Settings{Width: 32, Height: 24, Quality: 50, DegradedAfter: 3},
	})
	t.Cleanup(h.ctrl.Shutdown)
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPhotoVerdictRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	want := analysis.Verdict{Verdict: "FAKE", Probability: 0.92, RiskLevel: "HIGH"}
	h.analyzer.set(want, nil)

	got, err := h.ctrl.TakePhoto(context.Background())
	if err != nil {
		t.Fatalf("TakePhoto: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	snap := h.ctrl.Snapshot()
	if snap.LastResult == nil || *snap.LastResult != want {
		t.Fatalf("expected LastResult %+v, got %+v", want, snap.LastResult)
	}
	if snap.Error != nil {
		t.Fatalf("expected no error, got %+v", snap.Error)
	}
	if snap.Mode != session.ModeArmed || snap.LastLiveStatus != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(h.history.entries) != 1 || h.history.entries[0].SessionID != snap.ID || h.history.entries[0].Kind != "image" {
		t.Fatalf("expected one history entry for the session, got %+v", h.history.entries)
	}
}

func TestUnauthenticatedTakePhoto(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	before := h.ctrl.Snapshot()

	h.auth.unauthenticated.Store(true)
	_, err := h.ctrl.TakePhoto(context.Background())
	if !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if h.auth.prompts.Load() != 1 {
		t.Fatalf("expected exactly one prompt, got %d", h.auth.prompts.Load())
	}
	if h.analyzer.calls.Load() != 0 || h.auth.tokenCalls.Load() != 0 {
		t.Fatalf("expected no network activity, analyzer=%d token=%d", h.analyzer.calls.Load(), h.auth.tokenCalls.Load())
	}
	if after := h.ctrl.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("expected no state change\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestUnauthenticatedOpenDoesNotAcquire(t *testing.T) {
	h := newHarness(t)
	h.auth.unauthenticated.Store(true)
	if err := h.ctrl.Open(context.Background()); !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if h.source.Opens() != 0 {
		t.Fatalf("expected no camera access, opens=%d", h.source.Opens())
	}
	if snap := h.ctrl.Snapshot(); snap.Active || snap.Error != nil {
		t.Fatalf("expected untouched idle snapshot, got %+v", snap)
	}
}

func TestTakePhotoWhileRecordingRefused(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	if err := h.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	opens := h.source.Opens()

	_, err := h.ctrl.TakePhoto(context.Background())
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if h.source.Opens() != opens || h.analyzer.calls.Load() != 0 {
		t.Fatalf("refusal must not touch camera or analyzer (opens %d->%d, analyses %d)", opens, h.source.Opens(), h.analyzer.calls.Load())
	}
	snap := h.ctrl.Snapshot()
	if snap.Mode != session.ModeRecording || snap.Error != nil {
		t.Fatalf("expected recording mode without error, got %+v", snap)
	}
}

func TestSecondStartRecordingFails(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	err := h.ctrl.StartRecording(ctx)
	if !errors.Is(err, services.ErrRecording) || services.KindOf(err) != services.KindRecording {
		t.Fatalf("expected recording error, got %v", err)
	}
	if snap := h.ctrl.Snapshot(); snap.Mode != session.ModeRecording {
		t.Fatalf("first recording must continue, mode=%s", snap.Mode)
	}

	frame := testsupport.JPEG(t, 64, 48)
	h.source.Feed().Push(frame)
	h.source.Feed().Push(frame)
	time.Sleep(20 * time.Millisecond)

	h.analyzer.set(analysis.Verdict{Verdict: "FAKE", Probability: 0.8, RiskLevel: "HIGH"}, nil)
	verdict, err := h.ctrl.StopRecording(ctx)
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if verdict.Verdict != "FAKE" {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if h.analyzer.calls.Load() != 1 || h.analyzer.kinds[0] != capture.KindVideo {
		t.Fatalf("expected the clip analysed exactly once, got %v", h.analyzer.kinds)
	}
	snap := h.ctrl.Snapshot()
	if snap.Mode != session.ModeArmed || snap.Error != nil || snap.LastResult == nil {
		t.Fatalf("unexpected snapshot after stop %+v", snap)
	}
	if _, err := h.ctrl.StopRecording(ctx); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected refusal for stop without recording, got %v", err)
	}
}

func TestCloseFromAnyStateReleasesEverything(t *testing.T) {
	states := map[string]func(t *testing.T, h *harness){
		"idle":  func(*testing.T, *harness) {},
		"armed": func(t *testing.T, h *harness) { h.open(t) },
		"recording": func(t *testing.T, h *harness) {
			h.open(t)
			if err := h.ctrl.StartRecording(context.Background()); err != nil {
				t.Fatalf("StartRecording: %v", err)
			}
		},
		"live": func(t *testing.T, h *harness) {
			h.open(t)
			if _, err := h.ctrl.ToggleLive(context.Background()); err != nil {
				t.Fatalf("ToggleLive: %v", err)
			}
			waitFor(t, "live request", func() bool { return h.analyzer.calls.Load() > 0 })
		},
		"analyzing": func(t *testing.T, h *harness) {
			h.open(t)
			h.analyzer.setGate(make(chan struct{}))
			go func() { _, _ = h.ctrl.TakePhoto(context.Background()) }()
			waitFor(t, "analysis in flight", func() bool { return h.ctrl.Snapshot().Mode == session.ModeAnalyzing })
		},
	}
	for name, setup := range states {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			setup(t, h)

			h.ctrl.Close()
			h.ctrl.Close()

			if h.guard.Outstanding() != 0 {
				t.Fatalf("expected no outstanding camera handles, got %d", h.guard.Outstanding())
			}
			if h.source.OpenFeeds() != 0 {
				t.Fatalf("expected every feed closed, got %d open", h.source.OpenFeeds())
			}
			snap := h.ctrl.Snapshot()
			if snap.Active || snap.Mode != session.ModeIdle || snap.LiveEnabled || snap.LastResult != nil {
				t.Fatalf("expected reset snapshot, got %+v", snap)
			}
			calls := h.analyzer.calls.Load()
			time.Sleep(20 * time.Millisecond)
			if h.analyzer.calls.Load() != calls {
				t.Fatal("live timer still firing after close")
			}
			h.analyzer.mu.Lock()
			gate := h.analyzer.gate
			h.analyzer.mu.Unlock()
			if gate != nil {
				close(gate)
			}
		})
	}
}

func TestCloseDropsLateOnDemandResult(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	gate := make(chan struct{})
	h.analyzer.setGate(gate)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.TakePhoto(context.Background())
		errCh <- err
	}()
	waitFor(t, "analysis in flight", func() bool { return h.ctrl.Snapshot().Mode == session.ModeAnalyzing })
	h.ctrl.Close()
	close(gate)

	if err := <-errCh; !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected late result to be dropped, got %v", err)
	}
	if snap := h.ctrl.Snapshot(); snap.LastResult != nil || snap.Active {
		t.Fatalf("late result leaked into snapshot %+v", snap)
	}
	if len(h.history.entries) != 0 {
		t.Fatal("dropped result must not be recorded")
	}
}

func TestConcurrentPhotoRefused(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	gate := make(chan struct{})
	h.analyzer.setGate(gate)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.TakePhoto(context.Background())
	}()
	waitFor(t, "analysis in flight", func() bool { return h.ctrl.Snapshot().Mode == session.ModeAnalyzing })

	if _, err := h.ctrl.TakePhoto(context.Background()); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected busy refusal, got %v", err)
	}
	close(gate)
	<-done
	if h.analyzer.calls.Load() != 1 {
		t.Fatalf("expected a single analysis, got %d", h.analyzer.calls.Load())
	}
}

func TestLiveTransportErrorLeavesStatus(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	first := analysis.Verdict{Verdict: "REAL", Probability: 0.2, RiskLevel: "LOW"}
	h.analyzer.set(first, nil)

	enabled, err := h.ctrl.ToggleLive(context.Background())
	if err != nil || !enabled {
		t.Fatalf("ToggleLive: enabled=%v err=%v", enabled, err)
	}
	waitFor(t, "first live status", func() bool { return h.ctrl.Snapshot().LastLiveStatus != nil })

	h.analyzer.set(analysis.Verdict{}, services.Wrap(services.ErrUnreachable, "analysis", "analyze-image", "analysis service unreachable", errors.New("connection refused")))
	base := h.analyzer.calls.Load()
	waitFor(t, "failing ticks", func() bool { return h.analyzer.calls.Load() >= base+2 })

	snap := h.ctrl.Snapshot()
	if snap.LastLiveStatus == nil || *snap.LastLiveStatus != first {
		t.Fatalf("expected live status unchanged, got %+v", snap.LastLiveStatus)
	}
	if snap.Error != nil {
		t.Fatalf("live failures must not surface as session errors, got %+v", snap.Error)
	}
	if snap.LastResult != nil {
		t.Fatal("live results must not touch LastResult")
	}

	waitFor(t, "degraded indicator", func() bool { return h.ctrl.Snapshot().LiveDegraded })
	h.analyzer.set(first, nil)
	waitFor(t, "recovery", func() bool { return !h.ctrl.Snapshot().LiveDegraded })

	enabled, err = h.ctrl.ToggleLive(context.Background())
	if err != nil || enabled {
		t.Fatalf("ToggleLive off: enabled=%v err=%v", enabled, err)
	}
	if snap := h.ctrl.Snapshot(); snap.LastLiveStatus != nil || snap.LiveEnabled {
		t.Fatalf("expected live state cleared, got %+v", snap)
	}
}

// gatedHandler holds the first record with the given message until release
// is closed.
type gatedHandler struct {
	message string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *gatedHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *gatedHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *gatedHandler) WithGroup(string) slog.Handler            { return h }

func (h *gatedHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message != h.message {
		return nil
	}
	h.once.Do(func() {
		close(h.reached)
		<-h.release
	})
	return nil
}

func TestStaleDegradedReportIgnoredAfterRestart(t *testing.T) {
	gate := &gatedHandler{
		message: "live monitoring degraded",
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarnessWithLogger(t, slog.New(gate))
	h.open(t)
	h.analyzer.set(analysis.Verdict{}, services.Wrap(services.ErrUnreachable, "analysis", "analyze-image", "analysis service unreachable", errors.New("connection refused")))

	if _, err := h.ctrl.ToggleLive(context.Background()); err != nil {
		t.Fatalf("ToggleLive on: %v", err)
	}
	select {
	case <-gate.reached:
	case <-time.After(3 * time.Second):
		close(gate.release)
		t.Fatal("timed out waiting for degraded report")
	}
	if !h.ctrl.LiveInFlight() {
		t.Fatal("expected the degraded request to still be in flight")
	}

	if enabled, err := h.ctrl.ToggleLive(context.Background()); err != nil || enabled {
		t.Fatalf("ToggleLive off: enabled=%v err=%v", enabled, err)
	}
	healthy := analysis.Verdict{Verdict: "REAL", Probability: 0.1, RiskLevel: "LOW"}
	h.analyzer.set(healthy, nil)
	if enabled, err := h.ctrl.ToggleLive(context.Background()); err != nil || !enabled {
		t.Fatalf("ToggleLive on again: enabled=%v err=%v", enabled, err)
	}
	close(gate.release)

	waitFor(t, "live status from new run", func() bool { return h.ctrl.Snapshot().LastLiveStatus != nil })
	snap := h.ctrl.Snapshot()
	if snap.LiveDegraded {
		t.Fatalf("degraded report from stopped run leaked into new run: %+v", snap)
	}
	if *snap.LastLiveStatus != healthy {
		t.Fatalf("unexpected live status %+v", snap.LastLiveStatus)
	}
}

func TestToggleLiveNeverOverlapsRequests(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.analyzer.mu.Lock()
	h.analyzer.delay = 10 * time.Millisecond
	h.analyzer.mu.Unlock()

	for i := 0; i < 30; i++ {
		if _, err := h.ctrl.ToggleLive(context.Background()); err != nil {
			t.Fatalf("ToggleLive: %v", err)
		}
		time.Sleep(time.Duration(i%3) * 4 * time.Millisecond)
	}
	h.ctrl.Shutdown()

	if h.analyzer.max.Load() > 1 {
		t.Fatalf("expected at most one live request at a time, saw %d", h.analyzer.max.Load())
	}
}

func TestOpenFailureRecordsCameraError(t *testing.T) {
	h := newHarness(t)
	h.source.OpenErr = errors.New("device busy")

	err := h.ctrl.Open(context.Background())
	if !errors.Is(err, services.ErrCamera) {
		t.Fatalf("expected camera error, got %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Active || snap.Mode != session.ModeIdle {
		t.Fatalf("expected idle after failure, got %+v", snap)
	}
	if snap.Error == nil || snap.Error.Kind != services.KindCamera {
		t.Fatalf("expected camera error in snapshot, got %+v", snap.Error)
	}

	h.ctrl.DismissError()
	if h.ctrl.Snapshot().Error != nil {
		t.Fatal("expected error dismissed")
	}

	h.source.OpenErr = nil
	h.open(t)
	if err := h.ctrl.Open(context.Background()); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected refusal for double open, got %v", err)
	}
}

func TestDeviceLossClosesSession(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	if _, err := h.ctrl.ToggleLive(context.Background()); err != nil {
		t.Fatalf("ToggleLive: %v", err)
	}

	h.source.Feed().Fail(errors.New("no such device"))
	waitFor(t, "session close", func() bool { return !h.ctrl.Snapshot().Active })

	snap := h.ctrl.Snapshot()
	if snap.Error == nil || snap.Error.Kind != services.KindCamera || snap.Error.Message != "camera disconnected" {
		t.Fatalf("expected camera disconnected error, got %+v", snap.Error)
	}
	if h.guard.Outstanding() != 0 || snap.LiveEnabled {
		t.Fatalf("expected resources released, outstanding=%d live=%v", h.guard.Outstanding(), snap.LiveEnabled)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	h := newHarness(t)
	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	initial := <-updates
	if initial.Active {
		t.Fatalf("expected idle initial snapshot, got %+v", initial)
	}
	h.open(t)
	select {
	case snap := <-updates:
		if !snap.Active || snap.Mode != session.ModeArmed {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after open")
	}
	cancel()
	cancel()
}
