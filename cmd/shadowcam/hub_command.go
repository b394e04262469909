package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"shadowcam/internal/hub"
	"shadowcam/internal/services"
)

const hubHelp = `Commands:
  open      open the camera
  photo     capture and classify a photo
  record    start recording
  stop      stop recording and classify the clip
  live      toggle live monitoring
  dismiss   clear the current error
  close     release the camera
  status    print the session state
  quit      close and exit`

func newHubCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run an interactive session from the terminal",
		Long:  "Keep a session open and read actions from stdin, one per line.\n\n" + hubHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return runHubLoop(runCtx, h, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// lockedWriter serialises prompt output with background live updates.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runHubLoop(ctx context.Context, h *hub.Hub, in io.Reader, w io.Writer) error {
	out := &lockedWriter{w: w}
	colorize := shouldColorize(w)

	updates, cancel := h.Controller.Subscribe()
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		var last string
		for snap := range updates {
			if !snap.LiveEnabled || snap.LastLiveStatus == nil {
				continue
			}
			line := renderVerdict(*snap.LastLiveStatus, colorize)
			if snap.LiveDegraded {
				line += " (degraded)"
			}
			if line != last {
				last = line
				out.printf("live: %s\n", line)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	out.printf("%s\n", hubHelp)
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-watchDone
			return nil
		case line, ok := <-lines:
			if !ok {
				cancel()
				<-watchDone
				return nil
			}
			action := strings.ToLower(strings.TrimSpace(line))
			if action == "" {
				continue
			}
			if action == "quit" || action == "exit" {
				cancel()
				<-watchDone
				return nil
			}
			runHubAction(ctx, h, action, out, colorize)
		}
	}
}

func runHubAction(ctx context.Context, h *hub.Hub, action string, out *lockedWriter, colorize bool) {
	ctrl := h.Controller
	ctx = services.WithAction(ctx, action)

	var err error
	switch action {
	case "open":
		err = ctrl.Open(ctx)
	case "photo":
		v, photoErr := ctrl.TakePhoto(ctx)
		if err = photoErr; err == nil {
			out.printf("photo: %s\n", renderVerdict(v, colorize))
		}
	case "record":
		err = ctrl.StartRecording(ctx)
	case "stop":
		v, stopErr := ctrl.StopRecording(ctx)
		if err = stopErr; err == nil {
			out.printf("clip: %s\n", renderVerdict(v, colorize))
		}
	case "live":
		enabled, liveErr := ctrl.ToggleLive(ctx)
		if err = liveErr; err == nil {
			out.printf("live monitoring %s\n", onOff(enabled))
		}
	case "dismiss":
		ctrl.DismissError()
	case "close":
		ctrl.Close()
	case "status":
	case "help", "?":
		out.printf("%s\n", hubHelp)
		return
	default:
		out.printf("unknown command %q (type help)\n", action)
		return
	}
	if err != nil {
		out.printf("%v\n", actionError(action, err))
	}
	out.printf("%s\n", renderSnapshot(ctrl.Snapshot(), colorize))
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts := ctx.overrides
			opts.Logger = logger
			return hub.Serve(cmd.Context(), cfg, opts)
		},
	}
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}
