package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Capture errors. Backends wrap their failures in one of these so callers
// can tell a refused permission from a missing device.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrBusy              = errors.New("audio pipeline already streaming")
	ErrClosed            = errors.New("audio stream closed")
)

// FrameMillis is the duration of one delivered frame
const FrameMillis = 256

// CaptureConfig holds configuration for audio capture
type CaptureConfig struct {
	// SampleRate is the number of samples per second (Hz)
	SampleRate uint32

	// PeriodFrames is the device callback period in sample frames.
	// Zero lets the backend choose.
	PeriodFrames uint32

	// DeviceName selects a capture device by case-insensitive substring.
	// Empty uses the default device.
	DeviceName string
}

// DefaultConfig returns a 16 kHz mono configuration with 30ms device periods
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:   16000,
		PeriodFrames: 480,
	}
}

// FrameSamples returns the samples per delivered frame for a sample rate
func FrameSamples(sampleRate int) int {
	return sampleRate * FrameMillis / 1000
}

// Handler receives device events. Data is called on the device's real-time
// thread with 16-bit little-endian mono PCM that is only valid during the call.
type Handler struct {
	Data func(pcm []byte)

	// Lost is called when the device stops without being closed
	Lost func(err error)
}

// Device is an acquired capture device
type Device interface {
	// Close stops capture and releases the device
	Close() error
}

// Backend acquires capture devices
type Backend interface {
	// Open acquires the microphone and starts delivering data to h.
	// Failures wrap ErrPermissionDenied or ErrDeviceUnavailable.
	Open(cfg CaptureConfig, h Handler) (Device, error)

	// Probe reports whether audio capture is available at all
	Probe() error
}

// permissionHints match a backend message once spaces, hyphens and
// underscores are removed, so NotAllowedError and mic-not-allowed both hit.
var permissionHints = []string{"notallowed", "permission", "denied"}

var separators = strings.NewReplacer(" ", "", "-", "", "_", "")

// classify maps a backend error onto the capture sentinels by its message.
// Backends without typed errors report permission failures as plain strings.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := separators.Replace(strings.ToLower(err.Error()))
	for _, hint := range permissionHints {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
