package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"shadowcam/internal/analysis"
	"shadowcam/internal/session"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderVerdict formats a verdict as "FAKE 92.0% (risk HIGH)".
func renderVerdict(v analysis.Verdict, colorize bool) string {
	line := fmt.Sprintf("%s %.1f%% (risk %s)", v.Verdict, v.Probability*100, v.RiskLevel)
	if !colorize {
		return line
	}
	if v.Fake() {
		return ansiRed + line + ansiReset
	}
	return ansiGreen + line + ansiReset
}

// renderSnapshot summarises a session snapshot on one line.
func renderSnapshot(s session.Snapshot, colorize bool) string {
	parts := []string{"mode=" + string(s.Mode)}
	if s.Active {
		parts = append(parts, "session="+shortID(s.ID))
	}
	if s.LiveEnabled {
		live := "live=on"
		if s.LiveDegraded {
			live += " (degraded)"
		}
		parts = append(parts, live)
	}
	if s.RecordingStartedAt != nil {
		parts = append(parts, "recording="+time.Since(*s.RecordingStartedAt).Round(time.Second).String())
	}
	if s.LastResult != nil {
		parts = append(parts, "last="+renderVerdict(*s.LastResult, colorize))
	}
	if s.LastLiveStatus != nil {
		parts = append(parts, "live_status="+renderVerdict(*s.LastLiveStatus, colorize))
	}
	if s.Error != nil {
		msg := fmt.Sprintf("error=%s: %s", s.Error.Kind, s.Error.Message)
		if colorize {
			msg = ansiRed + msg + ansiReset
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
