package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"shadowcam/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// API contains configuration for the remote inference service.
type API struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	MaxImageBytes  int64  `toml:"max_image_bytes"`
	MaxVideoBytes  int64  `toml:"max_video_bytes"`
}

// Auth contains configuration for the bearer token used against the API.
type Auth struct {
	TokenPath string `toml:"token_path"`
	Username  string `toml:"username"`
	// Watch reloads the token file when another process rewrites it.
	Watch bool `toml:"watch"`
}

// Camera contains the capture constraints requested from the device.
type Camera struct {
	Device       string `toml:"device"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	Framerate    int    `toml:"framerate"`
	InputFormat  string `toml:"input_format"`
	AudioEnabled bool   `toml:"audio_enabled"`
	AudioDevice  string `toml:"audio_device"`
	LockDir      string `toml:"lock_dir"`
	Hotplug      bool   `toml:"hotplug"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
	// StartTimeout bounds how long acquisition waits for the first frame.
	StartTimeout int `toml:"start_timeout"`
}

// Live contains configuration for the background polling loop.
type Live struct {
	IntervalMS    int `toml:"interval_ms"`
	FrameWidth    int `toml:"frame_width"`
	FrameHeight   int `toml:"frame_height"`
	JPEGQuality   int `toml:"jpeg_quality"`
	DegradedAfter int `toml:"degraded_after"`
}

// Recording contains configuration for recorded clips.
type Recording struct {
	MaxSeconds int    `toml:"max_seconds"`
	Codec      string `toml:"codec"`
}

// History contains configuration for the local verdict history.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Server contains configuration for the local control API.
type Server struct {
	Bind               string   `toml:"bind"`
	AllowedOrigins     []string `toml:"allowed_origins"`
	SnapshotIntervalMS int      `toml:"snapshot_interval_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config encapsulates all configuration values for shadowcam.
//
// Configuration sections by subsystem:
//   - API: inference endpoint and payload limits
//   - Auth: bearer token storage
//   - Camera: V4L2 device constraints and the ffmpeg capture binary
//   - Live: background polling cadence and sample size
//   - Recording: clip limits
//   - History: optional sqlite verdict log
//   - Server: local control API
//   - Logging: log format, level, and directory
type Config struct {
	API       API       `toml:"api"`
	Auth      Auth      `toml:"auth"`
	Camera    Camera    `toml:"camera"`
	Live      Live      `toml:"live"`
	Recording Recording `toml:"recording"`
	History   History   `toml:"history"`
	Server    Server    `toml:"server"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shadowcam.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the hub writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Camera.LockDir, filepath.Dir(c.Auth.TokenPath)}
	if strings.TrimSpace(c.Logging.Dir) != "" {
		dirs = append(dirs, c.Logging.Dir)
	}
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequestTimeout returns the per-request deadline for the inference API.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeout) * time.Second
}

// LiveInterval returns the fixed live polling period.
func (c *Config) LiveInterval() time.Duration {
	return time.Duration(c.Live.IntervalMS) * time.Millisecond
}

// CameraStartTimeout returns how long acquisition waits for the first frame.
func (c *Config) CameraStartTimeout() time.Duration {
	return time.Duration(c.Camera.StartTimeout) * time.Second
}

// MaxRecording returns the longest clip the recorder buffers.
func (c *Config) MaxRecording() time.Duration {
	return time.Duration(c.Recording.MaxSeconds) * time.Second
}

// SnapshotInterval returns the websocket keepalive snapshot period.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Server.SnapshotIntervalMS) * time.Millisecond
}

// LogFile returns the log file path, or "" when file logging is disabled.
func (c *Config) LogFile() string {
	if strings.TrimSpace(c.Logging.Dir) == "" {
		return ""
	}
	return filepath.Join(c.Logging.Dir, "shadowcam.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultStateDir() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "shadowcam")
	}
	return "~/.local/state/shadowcam"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644, 0o755); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
