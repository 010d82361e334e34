package stt

import (
	"errors"
	"fmt"
)

// Result represents a speech recognition result
type Result struct {
	// Text is the recognized text
	Text string

	// Partial indicates if this is a partial result (still processing)
	// or a final result (utterance segment complete)
	Partial bool

	// Confidence is the recognition confidence (0.0 to 1.0)
	Confidence float64
}

// Config holds configuration for the STT engine
type Config struct {
	// SampleRate is the audio sample rate in Hz
	SampleRate int

	// MaxAlternatives is the maximum number of alternative results to return
	MaxAlternatives int

	// Grammar restricts the decoder vocabulary. Empty means the full model vocabulary.
	Grammar []string
}

// DefaultConfig returns a default STT configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		MaxAlternatives: 0,
	}
}

// Decoder owns engine-internal decoder state for one listening session.
// Audio data is 16-bit little-endian mono PCM.
type Decoder interface {
	// AcceptWaveform feeds one frame and returns the current hypothesis.
	// A nil result means the engine has nothing to report yet.
	AcceptWaveform(pcm []byte) (*Result, error)

	// Close releases decoder resources
	Close() error
}

// Model is an initialized recognition model. It is shared read-only by
// every decoder created from it.
type Model interface {
	// NewDecoder creates per-session decoder state
	NewDecoder(sampleRate int) (Decoder, error)

	// Close releases the model
	Close() error
}

// ModelFactory constructs a Model from an extracted model directory
type ModelFactory interface {
	NewModel(path string) (Model, error)
}

// ReadyNotifier is implemented by models that finish initializing after
// construction. The channel yields nil once ready, or the init error.
type ReadyNotifier interface {
	Ready() <-chan error
}

// Engine error codes. The first two are permission-class: retrying them
// would only prompt the user again.
const (
	CodeMicNotAllowed     = "mic-not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeDecodeFailed      = "decode-failed"
	CodeEngine            = "engine"
)

// EngineError is an error reported by the recognition engine
type EngineError struct {
	Code    string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Permission reports whether the error is permission-class
func (e *EngineError) Permission() bool {
	return e.Code == CodeMicNotAllowed || e.Code == CodeServiceNotAllowed
}

// AsEngineError converts err to an *EngineError, wrapping foreign errors
// under CodeEngine.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Code: CodeEngine, Message: "recognizer failed", Err: err}
}
