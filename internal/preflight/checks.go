package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"shadowcam/internal/analysis"
	"shadowcam/internal/camera"
	"shadowcam/internal/config"
	"shadowcam/internal/deps"
	"shadowcam/internal/services"
)

// HealthChecker probes the remote analysis service.
type HealthChecker interface {
	Health(ctx context.Context) (analysis.HealthStatus, error)
	BaseURL() string
}

// DeviceProber checks camera access without opening the device.
type DeviceProber interface {
	Probe(c camera.Constraints) error
}

// CheckAnalysisService verifies the remote /health endpoint answers.
// It uses a 5-second timeout and a single attempt.
func CheckAnalysisService(ctx context.Context, health HealthChecker) Result {
	const name = "Analysis service"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := health.Health(checkCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (health check timed out)", health.BaseURL())}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", health.BaseURL(), services.Message(err))}
	}
	detail := health.BaseURL()
	if status.Service != "" {
		detail = fmt.Sprintf("%s (%s %s)", health.BaseURL(), status.Service, status.Status)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckCamera verifies the configured device (and microphone, when audio is
// enabled) is present and accessible.
func CheckCamera(prober DeviceProber, c camera.Constraints) Result {
	const name = "Camera"
	if err := prober.Probe(c); err != nil {
		return Result{Name: name, Detail: services.Message(err)}
	}
	detail := c.Device
	if c.Audio {
		detail += " (with microphone)"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFFmpeg verifies the capture binary resolves.
func CheckFFmpeg(cfg *config.Config) Result {
	status := deps.ResolveFFmpeg(cfg.Camera.FFmpegBinary)
	if !status.Available {
		return Result{Name: status.Name, Detail: status.Detail}
	}
	return Result{Name: status.Name, Passed: true, Detail: status.Command}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckParentDirectory verifies a file can be created at path.
func CheckParentDirectory(name, path string) Result {
	result := CheckDirectoryAccess(name, filepath.Dir(path))
	if result.Passed {
		result.Detail = fmt.Sprintf("%s (writable)", path)
	}
	return result
}
