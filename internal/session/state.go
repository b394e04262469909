package session

import (
	"time"

	"shadowcam/internal/analysis"
	"shadowcam/internal/services"
)

// Mode is the controller's current phase.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeArmed     Mode = "armed"
	ModeCapturing Mode = "capturing"
	ModeRecording Mode = "recording"
	ModeAnalyzing Mode = "analyzing"
)

// ErrorInfo is the single user-visible error.
type ErrorInfo struct {
	Kind    services.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	ID                 string            `json:"id,omitempty"`
	Active             bool              `json:"active"`
	Mode               Mode              `json:"mode"`
	LiveEnabled        bool              `json:"live_enabled"`
	LiveDegraded       bool              `json:"live_degraded"`
	LastResult         *analysis.Verdict `json:"last_result"`
	LastLiveStatus     *analysis.Verdict `json:"last_live_status"`
	Error              *ErrorInfo        `json:"error"`
	OpenedAt           *time.Time        `json:"opened_at,omitempty"`
	RecordingStartedAt *time.Time        `json:"recording_started_at,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.LastResult != nil {
		v := *s.LastResult
		out.LastResult = &v
	}
	if s.LastLiveStatus != nil {
		v := *s.LastLiveStatus
		out.LastLiveStatus = &v
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.OpenedAt != nil {
		t := *s.OpenedAt
		out.OpenedAt = &t
	}
	if s.RecordingStartedAt != nil {
		t := *s.RecordingStartedAt
		out.RecordingStartedAt = &t
	}
	return out
}

func idleSnapshot() Snapshot {
	return Snapshot{Mode: ModeIdle}
}
