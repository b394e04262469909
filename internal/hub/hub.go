// Package hub assembles a camera session and its collaborators from config.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"shadowcam/internal/analysis"
	"shadowcam/internal/api"
	"shadowcam/internal/auth"
	"shadowcam/internal/camera"
	"shadowcam/internal/capture"
	"shadowcam/internal/config"
	"shadowcam/internal/history"
	"shadowcam/internal/logging"
	"shadowcam/internal/session"
)

// Options overrides collaborators built from config.
type Options struct {
	Logger     *slog.Logger
	Prompter   auth.Prompter
	Source     camera.Source
	Access     camera.AccessFunc
	HTTPClient *http.Client
	Encoder    capture.Encoder
}

// Hub owns one session controller and everything it needs.
type Hub struct {
	cfg    *config.Config
	logger *slog.Logger

	Guard      *camera.Guard
	Capture    *capture.Service
	Analysis   *analysis.Client
	Auth       *auth.Manager
	Prompts    *auth.CountingPrompter
	History    *history.Store
	Controller *session.Controller

	hotplug     *camera.HotplugWatcher
	authWatcher *auth.Watcher
	server      *api.Server
}

// New wires a hub. History is opened only when enabled; a failure to open it
// is logged and the hub runs without it.
func New(cfg *config.Config, opts Options) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	source := opts.Source
	if source == nil {
		source = camera.NewFFmpegSource(cfg.Camera.FFmpegBinary)
	}
	guardOpts := []camera.Option{
		camera.WithLockDir(cfg.Camera.LockDir),
		camera.WithStartTimeout(cfg.CameraStartTimeout()),
		camera.WithLogger(logger),
	}
	if opts.Access != nil {
		guardOpts = append(guardOpts, camera.WithAccessFunc(opts.Access))
	}
	guard := camera.NewGuard(source, guardOpts...)

	var captureOpts []capture.Option
	if opts.Encoder != nil {
		captureOpts = append(captureOpts, capture.WithEncoder(opts.Encoder))
	}
	captureSvc := capture.NewServiceFromConfig(cfg, logger, captureOpts...)

	var clientOpts []analysis.Option
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, analysis.WithHTTPClient(opts.HTTPClient))
	}
	client := analysis.NewClientFromConfig(cfg, logger, clientOpts...)

	prompts := auth.NewCountingPrompter(opts.Prompter)
	manager := auth.NewManager(auth.NewFileStore(cfg.Auth.TokenPath),
		auth.WithPrompter(prompts),
		auth.WithLogger(logger),
	)

	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		Guard:    guard,
		Capture:  captureSvc,
		Analysis: client,
		Auth:     manager,
		Prompts:  prompts,
	}

	deps := session.Deps{
		Guard:    guard,
		Capture:  captureSvc,
		Analyzer: client,
		Auth:     manager,
		Logger:   logger,
	}
	if cfg.History.Enabled {
		store, err := history.OpenFromConfig(cfg)
		if err != nil {
			logging.WarnWithContext(logger, "verdict history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String("path", cfg.History.Path),
				logging.String(logging.FieldImpact, "verdicts will not be recorded"),
			)
		} else {
			h.History = store
			deps.History = store
		}
	}

	h.Controller = session.NewController(deps, session.SettingsFromConfig(cfg))

	if cfg.Camera.Hotplug {
		h.hotplug = camera.NewHotplugWatcher(cfg.Camera.Device, logger, func(device string) {
			h.Controller.HandleDeviceLost(fmt.Errorf("device %s removed", device))
		})
	}
	if cfg.Auth.Watch {
		h.authWatcher = auth.NewWatcher(cfg.Auth.TokenPath, manager, logger)
	}
	return h, nil
}

// Start launches the background watchers.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.hotplug.Start(ctx); err != nil {
		return fmt.Errorf("start hotplug watcher: %w", err)
	}
	if h.authWatcher != nil {
		if err := h.authWatcher.Start(ctx); err != nil {
			logging.WarnWithContext(h.logger, "token file watch unavailable", "token_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "sign-ins from other terminals need a restart"),
			)
		}
	}
	return nil
}

// HistoryReader returns the verdict history, or nil when disabled. The typed
// nil is avoided so interface checks stay meaningful.
func (h *Hub) HistoryReader() api.HistoryReader {
	if h.History == nil {
		return nil
	}
	return h.History
}

// Server builds the control API for this hub.
func (h *Hub) Server() (*api.Server, error) {
	if h.server != nil {
		return h.server, nil
	}
	srv, err := api.NewServer(api.Options{
		Bind:             h.cfg.Server.Bind,
		AllowedOrigins:   h.cfg.Server.AllowedOrigins,
		SnapshotInterval: h.cfg.SnapshotInterval(),
		Controller:       h.Controller,
		History:          h.HistoryReader(),
		Health:           h.Analysis,
		Prompts:          h.Prompts.Count,
		Logger:           h.logger,
	})
	if err != nil {
		return nil, err
	}
	h.server = srv
	return srv, nil
}

// Close stops watchers, ends the session and closes history.
func (h *Hub) Close() {
	if h.server != nil {
		h.server.Stop()
	}
	h.hotplug.Stop()
	if h.authWatcher != nil {
		h.authWatcher.Stop()
	}
	h.Controller.Shutdown()
	if h.History != nil {
		if err := h.History.Close(); err != nil {
			h.logger.Warn("close history", logging.Error(err))
		}
	}
}
