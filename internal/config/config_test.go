package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"shadowcam/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("SHADOWCAM_API_URL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantToken := filepath.Join(tempHome, ".config", "shadowcam", "token.json")
	if cfg.Auth.TokenPath != wantToken {
		t.Fatalf("unexpected token path: got %q want %q", cfg.Auth.TokenPath, wantToken)
	}
	wantLock := filepath.Join(tempHome, ".local", "state", "shadowcam")
	if cfg.Camera.LockDir != wantLock {
		t.Fatalf("unexpected lock dir: got %q want %q", cfg.Camera.LockDir, wantLock)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected api base url: %q", cfg.API.BaseURL)
	}
	if cfg.LiveInterval().Milliseconds() != 3000 {
		t.Fatalf("unexpected live interval: %v", cfg.LiveInterval())
	}
	if cfg.Live.FrameWidth != 400 || cfg.Live.FrameHeight != 300 {
		t.Fatalf("unexpected live frame size %dx%d", cfg.Live.FrameWidth, cfg.Live.FrameHeight)
	}
	if cfg.API.MaxImageBytes != 5<<20 || cfg.API.MaxVideoBytes != 25<<20 {
		t.Fatalf("unexpected payload limits: %d/%d", cfg.API.MaxImageBytes, cfg.API.MaxVideoBytes)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history disabled by default")
	}
	if cfg.LogFile() != "" {
		t.Fatalf("expected no log file by default, got %q", cfg.LogFile())
	}
}

func TestLoadCustomConfigAndEnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "shadowcam.toml")

	type payload struct {
		API struct {
			BaseURL string `toml:"base_url"`
		} `toml:"api"`
		Camera struct {
			Device string `toml:"device"`
			Width  int    `toml:"width"`
		} `toml:"camera"`
		Live struct {
			IntervalMS int `toml:"interval_ms"`
		} `toml:"live"`
		Server struct {
			AllowedOrigins []string `toml:"allowed_origins"`
		} `toml:"server"`
		Logging struct {
			Format string `toml:"format"`
			Dir    string `toml:"dir"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.API.BaseURL = "http://file.example:9000/"
	custom.Camera.Device = "/dev/video2"
	custom.Camera.Width = 1920
	custom.Live.IntervalMS = 1500
	custom.Server.AllowedOrigins = []string{" http://a.test/ ", "http://a.test", ""}
	custom.Logging.Format = "JSON"
	custom.Logging.Dir = filepath.Join(tempDir, "logs")

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("SHADOWCAM_API_URL", "")
	cfg, _, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.API.BaseURL != "http://file.example:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.API.BaseURL)
	}
	if cfg.Camera.Device != "/dev/video2" || cfg.Camera.Width != 1920 {
		t.Fatalf("unexpected camera settings: %+v", cfg.Camera)
	}
	if cfg.Camera.Height != 720 {
		t.Fatalf("expected default height retained, got %d", cfg.Camera.Height)
	}
	if cfg.Live.IntervalMS != 1500 {
		t.Fatalf("expected interval 1500, got %d", cfg.Live.IntervalMS)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://a.test" {
		t.Fatalf("expected deduplicated origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if cfg.LogFile() != filepath.Join(tempDir, "logs", "shadowcam.log") {
		t.Fatalf("unexpected log file %q", cfg.LogFile())
	}

	t.Setenv("SHADOWCAM_API_URL", "https://env.example")
	cfg, _, _, err = config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example" {
		t.Errorf("expected api url from env, got %q", cfg.API.BaseURL)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[live]") {
		t.Fatalf("sample config missing live section: %s", contents)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
	if cfg.Live.IntervalMS != 3000 {
		t.Fatalf("expected sample interval 3000, got %d", cfg.Live.IntervalMS)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"api scheme":      func(c *config.Config) { c.API.BaseURL = "ftp://host" },
		"api host":        func(c *config.Config) { c.API.BaseURL = "http://" },
		"device path":     func(c *config.Config) { c.Camera.Device = "video0" },
		"zero width":      func(c *config.Config) { c.Camera.Width = 0 },
		"input format":    func(c *config.Config) { c.Camera.InputFormat = "yuyv422" },
		"fast interval":   func(c *config.Config) { c.Live.IntervalMS = 10 },
		"quality":         func(c *config.Config) { c.Live.JPEGQuality = 101 },
		"oversized frame": func(c *config.Config) { c.Live.FrameWidth = 4000 },
		"codec":           func(c *config.Config) { c.Recording.Codec = "h264" },
		"bind":            func(c *config.Config) { c.Server.Bind = "nonsense" },
		"log level":       func(c *config.Config) { c.Logging.Level = "verbose" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
