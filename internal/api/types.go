package api

import (
	"shadowcam/internal/analysis"
	"shadowcam/internal/history"
	"shadowcam/internal/session"
)

// SessionResponse wraps the session snapshot.
type SessionResponse struct {
	Session       session.Snapshot  `json:"session"`
	Verdict       *analysis.Verdict `json:"verdict,omitempty"`
	LiveEnabled   *bool             `json:"live_enabled,omitempty"`
	SignInPrompts int64             `json:"sign_in_prompts"`
}

// ErrorResponse is returned for failed actions.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// HistoryResponse lists recorded verdicts, newest first.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// HealthResponse reports analysis service reachability.
type HealthResponse struct {
	BaseURL   string `json:"base_url"`
	Reachable bool   `json:"reachable"`
	Status    string `json:"status,omitempty"`
	Service   string `json:"service,omitempty"`
	Error     string `json:"error,omitempty"`
}
