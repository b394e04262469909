package services

import (
	"errors"
	"strings"
)

var (
	ErrCamera         = errors.New("camera error")
	ErrCapture        = errors.New("capture error")
	ErrRecording      = errors.New("recording error")
	ErrRemoteRejected = errors.New("analysis rejected")
	ErrUnreachable    = errors.New("analysis service unreachable")
	ErrAuthRequired   = errors.New("authentication required")
	ErrBusy           = errors.New("busy")
	ErrInvalidState   = errors.New("invalid state")
	ErrConfiguration  = errors.New("configuration error")
)

// ErrorKind is the stable classification exposed to presentation layers.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindCamera         ErrorKind = "CameraError"
	KindCapture        ErrorKind = "CaptureError"
	KindRecording      ErrorKind = "RecordingError"
	KindRemoteRejected ErrorKind = "AnalysisError.RemoteRejected"
	KindUnreachable    ErrorKind = "AnalysisError.Unreachable"
	KindAuthRequired   ErrorKind = "AuthRequired"
	KindBusy           ErrorKind = "Busy"
	KindInvalidState   ErrorKind = "InvalidState"
	KindInternal       ErrorKind = "Internal"
)

// Error carries a marker for classification plus the human-readable message
// that should be shown to the operator.
type Error struct {
	Marker  error
	Detail  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Marker.Error() + ": " + e.Detail + ": " + e.Err.Error()
	}
	return e.Marker.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Marker, e.Err}
	}
	return []error{e.Marker}
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrCapture
	}
	return &Error{
		Marker:  marker,
		Detail:  buildDetail(component, operation, message),
		Message: strings.TrimSpace(message),
		Err:     err,
	}
}

// KindOf maps an error to the kind surfaced to the presentation layer.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthRequired):
		return KindAuthRequired
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrCamera):
		return KindCamera
	case errors.Is(err, ErrRecording):
		return KindRecording
	case errors.Is(err, ErrCapture):
		return KindCapture
	case errors.Is(err, ErrRemoteRejected):
		return KindRemoteRejected
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	default:
		return KindInternal
	}
}

// IsRefusal reports whether err is a precondition refusal that must not be
// recorded as a session error.
func IsRefusal(err error) bool {
	switch KindOf(err) {
	case KindAuthRequired, KindBusy, KindInvalidState:
		return true
	default:
		return false
	}
}

// Message extracts the operator-facing message from err. Wrapped errors report
// the message passed to Wrap, with the underlying cause appended when present.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		msg := svcErr.Message
		if svcErr.Err != nil {
			cause := strings.TrimSpace(svcErr.Err.Error())
			switch {
			case msg == "":
				msg = cause
			case cause != "" && !strings.Contains(msg, cause):
				msg += ": " + cause
			}
		}
		if msg != "" {
			return msg
		}
		return svcErr.Marker.Error()
	}
	return err.Error()
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
