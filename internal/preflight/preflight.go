package preflight

import (
	"context"

	"shadowcam/internal/camera"
	"shadowcam/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config, health HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckFFmpeg(cfg))
	results = append(results, CheckCamera(camera.NewGuard(nil), camera.ConstraintsFromConfig(cfg)))
	results = append(results, CheckDirectoryAccess("Lock directory", cfg.Camera.LockDir))

	if cfg.History.Enabled {
		results = append(results, CheckParentDirectory("History database", cfg.History.Path))
	}

	if health != nil {
		results = append(results, CheckAnalysisService(ctx, health))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
