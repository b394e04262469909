package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateLive(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q (set SHADOWCAM_API_URL or edit the config)", c.API.BaseURL)
	}
	if parsed.Host == "" {
		return errors.New("api.base_url must include a host")
	}
	return ensurePositiveMap(map[string]int{
		"api.request_timeout": c.API.RequestTimeout,
	})
}

func (c *Config) validateCamera() error {
	if !strings.HasPrefix(c.Camera.Device, "/dev/") {
		return fmt.Errorf("camera.device must be a device node under /dev, got %q", c.Camera.Device)
	}
	if err := ensurePositiveMap(map[string]int{
		"camera.width":         c.Camera.Width,
		"camera.height":        c.Camera.Height,
		"camera.framerate":     c.Camera.Framerate,
		"camera.start_timeout": c.Camera.StartTimeout,
	}); err != nil {
		return err
	}
	if c.Camera.InputFormat != "mjpeg" {
		return fmt.Errorf("camera.input_format: unsupported value %q (only mjpeg)", c.Camera.InputFormat)
	}
	return nil
}

func (c *Config) validateLive() error {
	if c.Live.IntervalMS < 250 {
		return errors.New("live.interval_ms must be at least 250")
	}
	if c.Live.JPEGQuality < 1 || c.Live.JPEGQuality > 100 {
		return errors.New("live.jpeg_quality must be between 1 and 100")
	}
	if c.Live.FrameWidth > c.Camera.Width || c.Live.FrameHeight > c.Camera.Height {
		return errors.New("live frame size must not exceed the camera resolution")
	}
	return nil
}

func (c *Config) validateRecording() error {
	switch c.Recording.Codec {
	case "vp8", "vp9":
		return nil
	default:
		return fmt.Errorf("recording.codec: unsupported value %q (vp8 or vp9)", c.Recording.Codec)
	}
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
