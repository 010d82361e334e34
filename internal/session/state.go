package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/emmett/zahl/internal/audio"
	"github.com/emmett/zahl/internal/models"
	"github.com/emmett/zahl/internal/stt"
)

// State is the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateConsentPending
	StateModelLoading
	StateReady
	StateListening
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsentPending:
		return "consent-pending"
	case StateModelLoading:
		return "model-loading"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrorKind classifies session failures
type ErrorKind string

const (
	KindUnsupported         ErrorKind = "unsupported"
	KindConsentDeclined     ErrorKind = "consent-declined"
	KindModelDownloadFailed ErrorKind = "model-download-failed"
	KindModelInitTimeout    ErrorKind = "model-init-timeout"
	KindMicPermissionDenied ErrorKind = "mic-permission-denied"
	KindDeviceUnavailable   ErrorKind = "device-unavailable"
	KindRecognizerError     ErrorKind = "recognizer-error"
)

// Error is the last failure recorded by the session
type Error struct {
	Kind    ErrorKind
	Code    string // engine error code for recognizer errors
	Message string
	At      time.Time
	Err     error

	// SessionID names the listening session that failed, if one was open
	SessionID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Permission reports whether retrying would prompt the user again. Such
// errors never trigger an automatic restart.
func (e *Error) Permission() bool {
	if e.Kind == KindMicPermissionDenied {
		return true
	}
	return e.Code == stt.CodeMicNotAllowed || e.Code == stt.CodeServiceNotAllowed
}

// Status is a snapshot of the outbound flags
type Status struct {
	Supported   bool
	Listening   bool
	Ready       bool
	Loading     bool
	Progress    int
	HasProgress bool
	Volume      float64
	Error       string
	ErrorKind   ErrorKind
	State       State
	Consent     bool
	SessionID   string
}

func loadError(err error) ErrorKind {
	switch {
	case errors.Is(err, models.ErrInitTimeout):
		return KindModelInitTimeout
	default:
		return KindModelDownloadFailed
	}
}

func captureError(err error) ErrorKind {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return KindMicPermissionDenied
	}
	return KindDeviceUnavailable
}

