package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shadowcam/internal/analysis"
	"shadowcam/internal/hub"
	"shadowcam/internal/services"
)

func newPhotoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "photo",
		Short: "Capture one photo and classify it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(runCtx context.Context, h *hub.Hub) error {
				verdict, err := h.Controller.TakePhoto(runCtx)
				if err != nil {
					return actionError("photo", err)
				}
				return printVerdict(cmd, ctx, verdict)
			})
		},
	}
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a clip and classify it",
		Long: "Record a clip for --duration (or until interrupted) and submit it for analysis.\n" +
			"Clips longer than recording.max_seconds are truncated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 {
				return fmt.Errorf("--duration must be positive")
			}
			return withSession(cmd, ctx, func(runCtx context.Context, h *hub.Hub) error {
				if err := h.Controller.StartRecording(runCtx); err != nil {
					return actionError("record", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Recording for %s (Ctrl-C to stop early)...\n", duration)

				timer := time.NewTimer(duration)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-runCtx.Done():
				}

				verdict, err := h.Controller.StopRecording(context.WithoutCancel(runCtx))
				if err != nil {
					return actionError("record", err)
				}
				return printVerdict(cmd, ctx, verdict)
			})
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Clip length")
	return cmd
}

func newLiveCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration
	var count int

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Stream live verdicts until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(runCtx context.Context, h *hub.Hub) error {
				updates, cancel := h.Controller.Subscribe()
				defer cancel()

				if _, err := h.Controller.ToggleLive(runCtx); err != nil {
					return actionError("live", err)
				}

				waitCtx := runCtx
				if duration > 0 {
					var stop context.CancelFunc
					waitCtx, stop = context.WithTimeout(runCtx, duration)
					defer stop()
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				var last *analysis.Verdict
				degraded := false
				seen := 0
				for {
					select {
					case <-waitCtx.Done():
						return nil
					case snap, ok := <-updates:
						if !ok {
							return nil
						}
						if snap.LiveDegraded != degraded {
							degraded = snap.LiveDegraded
							if degraded {
								fmt.Fprintln(cmd.ErrOrStderr(), "Live monitoring degraded: the analysis service keeps failing")
							} else {
								fmt.Fprintln(cmd.ErrOrStderr(), "Live monitoring recovered")
							}
						}
						if snap.LastLiveStatus == nil || sameVerdict(last, snap.LastLiveStatus) {
							continue
						}
						last = snap.LastLiveStatus
						seen++
						if ctx.jsonOutput() {
							if err := writeJSON(cmd, last); err != nil {
								return err
							}
						} else {
							fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), renderVerdict(*last, colorize))
						}
						if count > 0 && seen >= count {
							return nil
						}
					}
				}
			})
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many distinct verdicts (0 for no limit)")
	return cmd
}

// withSession opens a hub and a session, runs fn and tears everything down.
func withSession(cmd *cobra.Command, ctx *commandContext, fn func(context.Context, *hub.Hub) error) error {
	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := ctx.openHub(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.Start(runCtx); err != nil {
		return err
	}

	if err := h.Controller.Open(runCtx); err != nil {
		return actionError("open camera", err)
	}
	defer h.Controller.Close()
	return fn(runCtx, h)
}

func printVerdict(cmd *cobra.Command, ctx *commandContext, v analysis.Verdict) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, v)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderVerdict(v, shouldColorize(out)))
	return nil
}

func actionError(action string, err error) error {
	kind := services.KindOf(err)
	if kind == services.KindAuthRequired {
		return fmt.Errorf("%s: sign-in required (run `shadowcam login`)", action)
	}
	return fmt.Errorf("%s: %s [%s]", action, services.Message(err), kind)
}

func sameVerdict(a, b *analysis.Verdict) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
