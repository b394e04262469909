package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shadowcam/internal/analysis"
	"shadowcam/internal/capture"
	"shadowcam/internal/config"
	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

// Sampler produces the down-scaled frame submitted on each tick.
type Sampler interface {
	SampleFrame(stream capture.FrameSource, width, height, quality int) (capture.Payload, error)
}

// Analyzer submits a payload for classification.
type Analyzer interface {
	Analyze(ctx context.Context, p capture.Payload, token string) (analysis.Verdict, error)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ResultFunc receives each verdict produced by the current run.
type ResultFunc func(analysis.Verdict)

// HealthFunc is told when monitoring becomes degraded or recovers.
type HealthFunc func(degraded bool)

// RunOption customises a single run.
type RunOption func(*run)

// WithRunHealth sends degraded reports from this run to fn instead of the
// poller-wide callback.
func WithRunHealth(fn HealthFunc) RunOption {
	return func(r *run) {
		r.onHealth = fn
	}
}

type run struct {
	gen      uint64
	stream   capture.FrameSource
	onResult ResultFunc
	onHealth HealthFunc
}

// Settings controls sampling.
type Settings struct {
	Width         int
	Height        int
	Quality       int
	DegradedAfter int
}

// DefaultSettings matches the service's expected live frame.
func DefaultSettings() Settings {
	return Settings{Width: 400, Height: 300, Quality: 50, DegradedAfter: 5}
}

// SettingsFromConfig extracts live settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Width:         cfg.Live.FrameWidth,
		Height:        cfg.Live.FrameHeight,
		Quality:       cfg.Live.JPEGQuality,
		DegradedAfter: cfg.Live.DegradedAfter,
	}
}

// State is the poller's lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Option customises a Poller.
type Option func(*Poller)

// WithSettings overrides sampling settings.
func WithSettings(s Settings) Option {
	return func(p *Poller) {
		p.settings = s
	}
}

// WithHealthFunc registers a degraded-monitoring callback.
func WithHealthFunc(fn HealthFunc) Option {
	return func(p *Poller) {
		p.onHealth = fn
	}
}

// WithLogger sets the poller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Poller is the live monitoring loop.
type Poller struct {
	sampler  Sampler
	analyzer Analyzer
	tokens   TokenSource
	settings Settings
	onHealth HealthFunc
	logger   *slog.Logger

	inFlight atomic.Bool
	requests sync.WaitGroup
	skipped  atomic.Uint64

	mu       sync.Mutex
	running  bool
	gen      uint64
	cancel   context.CancelFunc
	loopDone chan struct{}
	failures int
	degraded bool
}

// NewPoller builds a stopped poller.
func NewPoller(sampler Sampler, analyzer Analyzer, tokens TokenSource, opts ...Option) *Poller {
	p := &Poller{
		sampler:  sampler,
		analyzer: analyzer,
		tokens:   tokens,
		settings: DefaultSettings(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "live")
	return p
}

// Start begins a run that ticks every interval. ctx supplies logging and
// request metadata only; use Stop to end the run.
func (p *Poller) Start(ctx context.Context, stream capture.FrameSource, interval time.Duration, onResult ResultFunc, opts ...RunOption) error {
	if stream == nil {
		return services.Wrap(services.ErrInvalidState, "live", "start", "no active camera stream", nil)
	}
	if interval <= 0 {
		return services.Wrap(services.ErrConfiguration, "live", "start", "interval must be positive", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return services.Wrap(services.ErrInvalidState, "live", "start", "live monitoring already running", nil)
	}
	p.gen++
	p.running = true
	p.failures = 0
	p.degraded = false
	r := &run{gen: p.gen, stream: stream, onResult: onResult, onHealth: p.onHealth}
	for _, opt := range opts {
		opt(r)
	}

	base := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(base)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	go p.loop(loopCtx, base, r, interval, p.loopDone)

	p.logger.Debug("live monitoring started",
		logging.Duration("interval", interval),
		logging.Int64("generation", int64(p.gen)),
	)
	return nil
}

// Stop ends the current run. Any in-flight request is left to finish and its
// result is discarded. Safe to call when stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.gen++
	cancel, done := p.cancel, p.loopDone
	p.cancel, p.loopDone = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Debug("live monitoring stopped", logging.Bool("request_in_flight", p.inFlight.Load()))
}

// Wait blocks until no request is in flight.
func (p *Poller) Wait() { p.requests.Wait() }

// State reports whether a run is active.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return StateRunning
	}
	return StateStopped
}

// InFlight reports whether a request is outstanding.
func (p *Poller) InFlight() bool { return p.inFlight.Load() }

// Skipped reports how many ticks were skipped because a request was
// outstanding.
func (p *Poller) Skipped() uint64 { return p.skipped.Load() }

func (p *Poller) loop(ctx, base context.Context, r *run, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.tick(base, r)
		}
	}
}

func (p *Poller) tick(base context.Context, r *run) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("live tick skipped; request outstanding")
		return
	}
	p.requests.Add(1)
	go func() {
		defer p.requests.Done()
		defer p.inFlight.Store(false)
		reqCtx := services.WithRequestID(services.WithAction(base, "live"), uuid.NewString())
		verdict, err := p.submit(reqCtx, r.stream)
		p.deliver(reqCtx, r, verdict, err)
	}()
}

func (p *Poller) submit(ctx context.Context, stream capture.FrameSource) (analysis.Verdict, error) {
	payload, err := p.sampler.SampleFrame(stream, p.settings.Width, p.settings.Height, p.settings.Quality)
	if err != nil {
		return analysis.Verdict{}, err
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return analysis.Verdict{}, err
	}
	return p.analyzer.Analyze(ctx, payload, token)
}

func (p *Poller) deliver(ctx context.Context, r *run, verdict analysis.Verdict, err error) {
	p.mu.Lock()
	if !p.running || r.gen != p.gen {
		p.mu.Unlock()
		p.logger.Debug("discarding live result from stopped run", logging.Int64("generation", int64(r.gen)))
		return
	}
	changed := false
	if err != nil {
		p.failures++
		if limit := p.settings.DegradedAfter; limit > 0 && p.failures >= limit && !p.degraded {
			p.degraded, changed = true, true
		}
	} else {
		p.failures = 0
		if p.degraded {
			p.degraded, changed = false, true
		}
	}
	failures, degraded := p.failures, p.degraded
	p.mu.Unlock()

	logger := logging.WithContext(ctx, p.logger)
	if err != nil {
		level := slog.LevelDebug
		if errors.Is(err, services.ErrUnreachable) || errors.Is(err, services.ErrAuthRequired) {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "live tick failed",
			logging.Error(err),
			logging.String("error_kind", string(services.KindOf(err))),
			logging.Int("consecutive_failures", failures),
		)
	} else if r.onResult != nil {
		r.onResult(verdict)
	}

	if changed {
		if degraded {
			logging.WarnWithContext(logger, "live monitoring degraded", "live_degraded",
				logging.Int("consecutive_failures", failures),
				logging.String(logging.FieldImpact, "live status is stale"),
				logging.String(logging.FieldErrorHint, "check the analysis service and camera"),
			)
		} else {
			logger.Info("live monitoring recovered", logging.String(logging.FieldEventType, "live_recovered"))
		}
		if r.onHealth != nil {
			r.onHealth(degraded)
		}
	}
}
