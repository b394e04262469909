package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shadowcam/internal/analysis"
	"shadowcam/internal/history"
	"shadowcam/internal/preflight"
	"shadowcam/internal/services"
)

type healthReport struct {
	BaseURL   string `json:"base_url"`
	Reachable bool   `json:"reachable"`
	Status    string `json:"status,omitempty"`
	Service   string `json:"service,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the analysis service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client := analysis.NewClientFromConfig(cfg, nil)
			checkCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			report := healthReport{BaseURL: client.BaseURL()}
			status, err := client.Health(checkCtx)
			if err != nil {
				report.Error = services.Message(err)
			} else {
				report.Reachable = true
				report.Status = status.Status
				report.Service = status.Service
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if report.Reachable {
					fmt.Fprintln(out, renderStatusLine("Analysis service", statusOK,
						fmt.Sprintf("%s (%s %s)", report.BaseURL, report.Service, report.Status), colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Analysis service", statusError,
						fmt.Sprintf("%s (%s)", report.BaseURL, report.Error), colorize))
				}
			}
			if !report.Reachable {
				return fmt.Errorf("analysis service unreachable")
			}
			return nil
		},
	}
}

type statusReport struct {
	ConfigPath string             `json:"config_path"`
	Auth       string             `json:"auth"`
	Username   string             `json:"username,omitempty"`
	History    string             `json:"history"`
	Checks     []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show camera, dependency, and sign-in status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client := analysis.NewClientFromConfig(cfg, nil)
			tok, authLine := tokenSummary(cfg)

			report := statusReport{
				ConfigPath: ctx.configPath,
				Auth:       authLine,
				Username:   tok.Username,
				History:    historySummary(cmd.Context(), cfg.History.Enabled, cfg.History.Path),
				Checks:     preflight.RunAll(cmd.Context(), cfg, client),
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := renderSectionHeader("shadowcam", colorize)
			lines = append(lines, renderStatusLine("Config", statusInfo, report.ConfigPath, colorize))
			authKind := statusOK
			if !strings.HasPrefix(report.Auth, "signed in") {
				authKind = statusWarn
			}
			authText := report.Auth
			if report.Username != "" {
				authText = fmt.Sprintf("%s (%s)", report.Auth, report.Username)
			}
			lines = append(lines, renderStatusLine("Sign-in", authKind, authText, colorize))
			lines = append(lines, renderStatusLine("History", statusInfo, report.History, colorize))
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Checks", colorize)...)
			for _, check := range report.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func historySummary(ctx context.Context, enabled bool, path string) string {
	if !enabled {
		return "disabled"
	}
	store, err := history.Open(path)
	if err != nil {
		return fmt.Sprintf("unavailable (%v)", err)
	}
	defer store.Close()
	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Sprintf("unavailable (%v)", err)
	}
	return fmt.Sprintf("%d verdicts in %s", count, path)
}
