package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowcam/internal/analysis"
	"shadowcam/internal/camera"
	"shadowcam/internal/capture"
	"shadowcam/internal/config"
	"shadowcam/internal/history"
	"shadowcam/internal/live"
	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

// Guard hands out the single camera stream.
type Guard interface {
	Acquire(ctx context.Context, c camera.Constraints) (*camera.Stream, error)
	Release(s *camera.Stream)
}

// Analyzer submits payloads for classification.
type Analyzer interface {
	Analyze(ctx context.Context, p capture.Payload, token string) (analysis.Verdict, error)
}

// AuthProvider is the sign-in collaborator.
type AuthProvider interface {
	IsAuthenticated() bool
	Token(ctx context.Context) (string, error)
	PromptSignIn()
}

// HistoryRecorder persists on-demand verdicts.
type HistoryRecorder interface {
	Append(ctx context.Context, e history.Entry) (history.Entry, error)
}

// Deps are the controller's collaborators. History and Logger are optional.
type Deps struct {
	Guard    Guard
	Capture  *capture.Service
	Analyzer Analyzer
	Auth     AuthProvider
	History  HistoryRecorder
	Logger   *slog.Logger
}

// Settings controls acquisition and live monitoring.
type Settings struct {
	Constraints  camera.Constraints
	LiveInterval time.Duration
	Live         live.Settings
}

// SettingsFromConfig extracts controller settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Constraints:  camera.ConstraintsFromConfig(cfg),
		LiveInterval: cfg.LiveInterval(),
		Live:         live.SettingsFromConfig(cfg),
	}
}

// Controller is the session state machine.
type Controller struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
	poller   *live.Poller

	mu        sync.Mutex
	state     Snapshot
	stream    *camera.Stream
	recording *capture.Recording
	opening   bool
	gen       uint64
	liveGen   uint64
	subs      map[int]chan Snapshot
	nextSub   int
}

// NewController wires a controller around deps.
func NewController(deps Deps, settings Settings) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.LiveInterval <= 0 {
		settings.LiveInterval = 3 * time.Second
	}
	if settings.Live.Width <= 0 || settings.Live.Height <= 0 {
		settings.Live = live.DefaultSettings()
	}
	c := &Controller{
		deps:     deps,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "session"),
		state:    idleSnapshot(),
		subs:     make(map[int]chan Snapshot),
	}
	c.poller = live.NewPoller(deps.Capture, deps.Analyzer, deps.Auth,
		live.WithSettings(settings.Live),
		live.WithLogger(logger),
	)
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe delivers a snapshot after every change. Slow readers only see
// the newest snapshot.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state.clone()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Open acquires the camera and arms the session.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state.Active || c.opening {
		c.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "session", "open", "camera session already open", nil)
	}
	c.opening = true
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.deps.Guard.Acquire(ctx, c.settings.Constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opening = false
	if gen != c.gen {
		if stream != nil {
			c.deps.Guard.Release(stream)
		}
		return services.Wrap(services.ErrInvalidState, "session", "open", "session closed while opening", nil)
	}
	if err != nil {
		c.state = idleSnapshot()
		c.setErrorLocked(err)
		c.notifyLocked()
		logging.WarnWithContext(c.logger, "camera acquisition failed", "camera_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check camera permissions and that no other program is using it"),
		)
		return err
	}

	c.gen++
	now := time.Now().UTC()
	c.stream = stream
	c.state = Snapshot{
		ID:       uuid.NewString(),
		Active:   true,
		Mode:     ModeArmed,
		OpenedAt: &now,
	}
	c.notifyLocked()
	go c.watchStream(stream)
	c.logger.Info("camera session opened",
		logging.String(logging.FieldSessionID, c.state.ID),
		logging.String("device", stream.Constraints().Device),
		logging.Int("width", stream.Constraints().Width),
		logging.Int("height", stream.Constraints().Height),
		logging.String("stream_id", stream.ID()),
	)
	return nil
}

// TakePhoto captures a still and analyses it.
func (c *Controller) TakePhoto(ctx context.Context) (analysis.Verdict, error) {
	if err := c.requireAuth(); err != nil {
		return analysis.Verdict{}, err
	}
	c.mu.Lock()
	if err := c.refuseLocked("photo", ModeArmed); err != nil {
		c.mu.Unlock()
		return analysis.Verdict{}, err
	}
	c.state.Mode = ModeCapturing
	gen, stream, sessionID := c.gen, c.stream, c.state.ID
	c.notifyLocked()
	c.mu.Unlock()

	ctx = services.WithAction(services.WithSessionID(ctx, sessionID), "photo")
	payload, err := c.deps.Capture.CapturePhoto(stream)
	if err != nil {
		c.finish(gen, nil, err)
		return analysis.Verdict{}, err
	}
	return c.analyze(ctx, gen, payload)
}

// StartRecording begins buffering a clip.
func (c *Controller) StartRecording(ctx context.Context) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		return services.Wrap(services.ErrInvalidState, "session", "record", "camera session is not open", nil)
	}
	if c.recording != nil {
		err := services.Wrap(services.ErrRecording, "session", "record", "a recording is already in progress", nil)
		c.setErrorLocked(err)
		c.notifyLocked()
		return err
	}
	if c.state.Mode != ModeArmed {
		return busy("record", c.state.Mode)
	}
	rec, err := c.deps.Capture.StartRecording(c.stream)
	if err != nil {
		c.setErrorLocked(err)
		c.notifyLocked()
		return err
	}
	c.recording = rec
	started := rec.StartedAt().UTC()
	c.state.Mode = ModeRecording
	c.state.RecordingStartedAt = &started
	c.state.Error = nil
	c.notifyLocked()
	c.logger.Info("recording started",
		logging.String(logging.FieldSessionID, c.state.ID),
		logging.String("stream_id", rec.StreamID()),
	)
	return nil
}

// StopRecording ends the open recording and analyses the clip exactly once.
func (c *Controller) StopRecording(ctx context.Context) (analysis.Verdict, error) {
	c.mu.Lock()
	if !c.state.Active {
		c.mu.Unlock()
		return analysis.Verdict{}, services.Wrap(services.ErrInvalidState, "session", "stop", "camera session is not open", nil)
	}
	if c.state.Mode != ModeRecording || c.recording == nil {
		c.mu.Unlock()
		return analysis.Verdict{}, services.Wrap(services.ErrInvalidState, "session", "stop", "no recording in progress", nil)
	}
	rec := c.recording
	c.recording = nil
	c.state.Mode = ModeAnalyzing
	c.state.RecordingStartedAt = nil
	gen, sessionID := c.gen, c.state.ID
	c.notifyLocked()
	c.mu.Unlock()

	ctx = services.WithAction(services.WithSessionID(ctx, sessionID), "record")
	payload, err := rec.Stop(ctx)
	if err != nil {
		c.finish(gen, nil, err)
		return analysis.Verdict{}, err
	}
	return c.analyze(ctx, gen, payload)
}

// ToggleLive flips live monitoring and reports the new setting.
func (c *Controller) ToggleLive(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		return false, services.Wrap(services.ErrInvalidState, "session", "live", "camera session is not open", nil)
	}
	if c.state.LiveEnabled {
		c.stopLiveLocked()
		c.notifyLocked()
		c.logger.Info("live monitoring disabled", logging.String(logging.FieldSessionID, c.state.ID))
		return false, nil
	}
	if !c.deps.Auth.IsAuthenticated() {
		c.deps.Auth.PromptSignIn()
		return false, services.Wrap(services.ErrAuthRequired, "session", "live", "sign-in required", nil)
	}

	c.liveGen++
	liveGen := c.liveGen
	liveCtx := services.WithSessionID(ctx, c.state.ID)
	err := c.poller.Start(liveCtx, c.stream, c.settings.LiveInterval, func(v analysis.Verdict) {
		c.onLiveResult(liveGen, v)
	}, live.WithRunHealth(func(degraded bool) {
		c.onLiveHealth(liveGen, degraded)
	}))
	if err != nil {
		c.setErrorLocked(err)
		c.notifyLocked()
		return false, err
	}
	c.state.LiveEnabled = true
	c.state.Error = nil
	c.notifyLocked()
	c.logger.Info("live monitoring enabled",
		logging.String(logging.FieldSessionID, c.state.ID),
		logging.Duration("interval", c.settings.LiveInterval),
	)
	return true, nil
}

// DismissError clears the visible error.
func (c *Controller) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Error == nil {
		return
	}
	c.state.Error = nil
	c.notifyLocked()
}

// Close tears the session down from any state. Repeated calls are no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if !c.state.Active {
		return
	}
	id := c.state.ID
	c.teardownLocked()
	c.state = idleSnapshot()
	c.notifyLocked()
	c.logger.Info("camera session closed", logging.String(logging.FieldSessionID, id))
}

// HandleDeviceLost closes the session after the camera disappeared.
func (c *Controller) HandleDeviceLost(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		return
	}
	id := c.state.ID
	c.gen++
	c.teardownLocked()
	c.state = idleSnapshot()
	c.setErrorLocked(services.Wrap(services.ErrCamera, "session", "device", "camera disconnected", nil))
	c.notifyLocked()
	logging.WarnWithContext(c.logger, "camera disconnected; session closed", "camera_lost",
		logging.String(logging.FieldSessionID, id),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "capture and live monitoring stopped"),
		logging.String(logging.FieldErrorHint, "reconnect the camera and open a new session"),
	)
}

// Shutdown closes the session and waits for outstanding live requests.
func (c *Controller) Shutdown() {
	c.Close()
	c.poller.Wait()
}

// LiveInFlight reports whether a live request is outstanding.
func (c *Controller) LiveInFlight() bool { return c.poller.InFlight() }

func (c *Controller) analyze(ctx context.Context, gen uint64, payload capture.Payload) (analysis.Verdict, error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return analysis.Verdict{}, closedDuring("analysis")
	}
	c.state.Mode = ModeAnalyzing
	c.notifyLocked()
	c.mu.Unlock()

	token, err := c.deps.Auth.Token(ctx)
	if err != nil {
		if errors.Is(err, services.ErrAuthRequired) {
			c.deps.Auth.PromptSignIn()
		}
		c.finish(gen, nil, err)
		return analysis.Verdict{}, err
	}

	verdict, err := c.deps.Analyzer.Analyze(ctx, payload, token)
	if err != nil {
		if !c.finish(gen, nil, err) {
			return analysis.Verdict{}, closedDuring("analysis")
		}
		return analysis.Verdict{}, err
	}
	if !c.finish(gen, &verdict, nil) {
		return analysis.Verdict{}, closedDuring("analysis")
	}

	logger := logging.WithContext(ctx, c.logger)
	logger.Info("analysis verdict",
		logging.String("verdict", verdict.Verdict),
		logging.Float64("probability", verdict.Probability),
		logging.String("risk_level", verdict.RiskLevel),
		logging.String("payload_kind", string(payload.Kind())),
		logging.Int64("payload_bytes", payload.Size()),
	)
	c.record(ctx, payload, verdict)
	return verdict, nil
}

// finish returns the session to Armed and applies the outcome. It
// reports false when the session generation moved on and nothing was applied.
func (c *Controller) finish(gen uint64, verdict *analysis.Verdict, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.state.Active {
		return false
	}
	c.state.Mode = ModeArmed
	if err != nil {
		c.setErrorLocked(err)
	} else if verdict != nil {
		v := *verdict
		c.state.LastResult = &v
		c.state.Error = nil
	}
	c.notifyLocked()
	return true
}

func (c *Controller) record(ctx context.Context, payload capture.Payload, v analysis.Verdict) {
	if c.deps.History == nil {
		return
	}
	sessionID, _ := services.SessionIDFromContext(ctx)
	_, err := c.deps.History.Append(context.WithoutCancel(ctx), history.Entry{
		SessionID:    sessionID,
		Kind:         string(payload.Kind()),
		Verdict:      v.Verdict,
		Probability:  v.Probability,
		RiskLevel:    v.RiskLevel,
		PayloadBytes: payload.Size(),
	})
	if err != nil {
		c.logger.Warn("failed to record verdict history", logging.Error(err))
	}
}

func (c *Controller) onLiveResult(liveGen uint64, v analysis.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active || !c.state.LiveEnabled || liveGen != c.liveGen {
		return
	}
	c.state.LastLiveStatus = &v
	c.notifyLocked()
}

func (c *Controller) onLiveHealth(liveGen uint64, degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.LiveEnabled || liveGen != c.liveGen || c.state.LiveDegraded == degraded {
		return
	}
	c.state.LiveDegraded = degraded
	c.notifyLocked()
}

func (c *Controller) watchStream(stream *camera.Stream) {
	<-stream.Done()
	if stream.Released() {
		return
	}
	c.mu.Lock()
	current := c.stream == stream
	c.mu.Unlock()
	if current {
		c.HandleDeviceLost(stream.Err())
	}
}

func (c *Controller) requireAuth() error {
	if c.deps.Auth.IsAuthenticated() {
		return nil
	}
	c.deps.Auth.PromptSignIn()
	return services.Wrap(services.ErrAuthRequired, "session", "auth", "sign-in required", nil)
}

// refuseLocked checks an on-demand action may start from want.
func (c *Controller) refuseLocked(action string, want Mode) error {
	if !c.state.Active {
		return services.Wrap(services.ErrInvalidState, "session", action, "camera session is not open", nil)
	}
	if c.state.Mode == ModeRecording {
		return services.Wrap(services.ErrInvalidState, "session", action, "cannot take a photo while recording", nil)
	}
	if c.state.Mode != want {
		return busy(action, c.state.Mode)
	}
	return nil
}

func (c *Controller) stopLiveLocked() {
	c.liveGen++
	c.poller.Stop()
	c.state.LiveEnabled = false
	c.state.LiveDegraded = false
	c.state.LastLiveStatus = nil
}

func (c *Controller) teardownLocked() {
	c.stopLiveLocked()
	if c.recording != nil {
		c.recording.Abort()
		c.recording = nil
	}
	if c.stream != nil {
		c.deps.Guard.Release(c.stream)
		c.stream = nil
	}
}

func (c *Controller) setErrorLocked(err error) {
	if err == nil || services.IsRefusal(err) {
		return
	}
	c.state.Error = &ErrorInfo{Kind: services.KindOf(err), Message: services.Message(err)}
}

func (c *Controller) notifyLocked() {
	snap := c.state.clone()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func busy(action string, mode Mode) error {
	return services.Wrap(services.ErrBusy, "session", action, "session is "+string(mode), nil)
}

func closedDuring(op string) error {
	return services.Wrap(services.ErrInvalidState, "session", op, "session closed before the result arrived", nil)
}
