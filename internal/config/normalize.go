package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeAPI()
	if err := c.normalizeAuth(); err != nil {
		return err
	}
	if err := c.normalizeCamera(); err != nil {
		return err
	}
	c.normalizeLive()
	c.normalizeRecording()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeServer()
	return c.normalizeLogging()
}

func (c *Config) normalizeAPI() {
	if value, ok := os.LookupEnv("SHADOWCAM_API_URL"); ok && strings.TrimSpace(value) != "" {
		c.API.BaseURL = value
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultAPIBaseURL
	}
	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = defaultAPIRequestTimeout
	}
	if c.API.MaxImageBytes <= 0 {
		c.API.MaxImageBytes = defaultMaxImageBytes
	}
	if c.API.MaxVideoBytes <= 0 {
		c.API.MaxVideoBytes = defaultMaxVideoBytes
	}
}

func (c *Config) normalizeAuth() error {
	var err error
	if strings.TrimSpace(c.Auth.TokenPath) == "" {
		c.Auth.TokenPath = defaultTokenPath
	}
	if c.Auth.TokenPath, err = expandPath(c.Auth.TokenPath); err != nil {
		return fmt.Errorf("auth.token_path: %w", err)
	}
	c.Auth.Username = strings.TrimSpace(c.Auth.Username)
	if c.Auth.Username == "" {
		if value, ok := os.LookupEnv("SHADOWCAM_USERNAME"); ok {
			c.Auth.Username = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeCamera() error {
	var err error
	c.Camera.Device = strings.TrimSpace(c.Camera.Device)
	if c.Camera.Device == "" {
		c.Camera.Device = defaultCameraDevice
	}
	c.Camera.InputFormat = strings.ToLower(strings.TrimSpace(c.Camera.InputFormat))
	if c.Camera.InputFormat == "" {
		c.Camera.InputFormat = defaultCameraInputFormat
	}
	c.Camera.AudioDevice = strings.TrimSpace(c.Camera.AudioDevice)
	if c.Camera.AudioDevice == "" {
		c.Camera.AudioDevice = defaultAudioDevice
	}
	c.Camera.FFmpegBinary = strings.TrimSpace(c.Camera.FFmpegBinary)
	if c.Camera.FFmpegBinary == "" {
		c.Camera.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Camera.LockDir) == "" {
		c.Camera.LockDir = defaultStateDir()
	}
	if c.Camera.LockDir, err = expandPath(c.Camera.LockDir); err != nil {
		return fmt.Errorf("camera.lock_dir: %w", err)
	}
	if c.Camera.Framerate <= 0 {
		c.Camera.Framerate = defaultCameraFramerate
	}
	if c.Camera.StartTimeout <= 0 {
		c.Camera.StartTimeout = defaultCameraStartTimeout
	}
	return nil
}

func (c *Config) normalizeLive() {
	if c.Live.FrameWidth <= 0 {
		c.Live.FrameWidth = defaultLiveFrameWidth
	}
	if c.Live.FrameHeight <= 0 {
		c.Live.FrameHeight = defaultLiveFrameHeight
	}
	if c.Live.JPEGQuality <= 0 {
		c.Live.JPEGQuality = defaultLiveJPEGQuality
	}
	if c.Live.DegradedAfter < 0 {
		c.Live.DegradedAfter = 0
	}
}

func (c *Config) normalizeRecording() {
	c.Recording.Codec = strings.ToLower(strings.TrimSpace(c.Recording.Codec))
	if c.Recording.Codec == "" {
		c.Recording.Codec = defaultRecordingCodec
	}
	if c.Recording.MaxSeconds <= 0 {
		c.Recording.MaxSeconds = defaultRecordingMaxSecs
	}
}

func (c *Config) normalizeHistory() error {
	var err error
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	origins := make([]string, 0, len(c.Server.AllowedOrigins))
	seen := make(map[string]struct{}, len(c.Server.AllowedOrigins))
	for _, origin := range c.Server.AllowedOrigins {
		normalized := strings.TrimRight(strings.TrimSpace(origin), "/")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}
	c.Server.AllowedOrigins = origins
	if c.Server.SnapshotIntervalMS <= 0 {
		c.Server.SnapshotIntervalMS = defaultSnapshotIntervalMS
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) != "" {
		dir, err := expandPath(c.Logging.Dir)
		if err != nil {
			return fmt.Errorf("logging.dir: %w", err)
		}
		c.Logging.Dir = dir
	}
	return nil
}
