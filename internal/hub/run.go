package hub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"shadowcam/internal/config"
	"shadowcam/internal/deps"
	"shadowcam/internal/logging"
	"shadowcam/internal/preflight"
)

// Serve runs the control API until ctx is cancelled or a termination signal
// arrives.
func Serve(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		opts.Logger = logger
	}

	pidPath := filepath.Join(cfg.Camera.LockDir, "shadowcam.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	h, err := New(cfg, opts)
	if err != nil {
		return err
	}
	defer h.Close()

	logDependencySnapshot(logger, cfg)
	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg, h.Analysis)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "related session actions will fail until fixed"),
		)
	}

	if err := h.Start(signalCtx); err != nil {
		return err
	}
	srv, err := h.Server()
	if err != nil {
		return err
	}
	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("start control api: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("shadowcam hub shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := deps.ResolveFFmpeg(cfg.Camera.FFmpegBinary)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
		logging.String("camera_device", cfg.Camera.Device),
		logging.Bool("audio_enabled", cfg.Camera.AudioEnabled),
		logging.String("api_base_url", cfg.API.BaseURL),
		logging.Bool("history_enabled", cfg.History.Enabled),
		logging.Bool("hotplug_enabled", cfg.Camera.Hotplug),
		logging.String("server_bind", cfg.Server.Bind),
	)
}
