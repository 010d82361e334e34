// Package audiotest provides an in-memory capture backend for tests.
package audiotest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/emmett/zahl/internal/audio"
)

// Backend is a fake audio.Backend. Emit pushes PCM through the most
// recently opened device as if the hardware delivered it.
type Backend struct {
	mu      sync.Mutex
	handler *audio.Handler
	config  audio.CaptureConfig

	// OpenErr fails every Open
	OpenErr error

	// ProbeErr fails Probe
	ProbeErr error

	opens  atomic.Int64
	closes atomic.Int64
	live   atomic.Int64
}

// Probe implements audio.Backend
func (b *Backend) Probe() error {
	return b.ProbeErr
}

// Open implements audio.Backend
func (b *Backend) Open(cfg audio.CaptureConfig, h audio.Handler) (audio.Device, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.mu.Lock()
	b.handler = &h
	b.config = cfg
	b.mu.Unlock()

	b.opens.Add(1)
	b.live.Add(1)
	return &device{backend: b}, nil
}

// Emit delivers pcm to the open device. It reports false when no device is open.
func (b *Backend) Emit(pcm []byte) bool {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil || h.Data == nil {
		return false
	}
	h.Data(pcm)
	return true
}

// Lose simulates the device disappearing
func (b *Backend) Lose() {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil && h.Lost != nil {
		h.Lost(errors.New("unplugged"))
	}
}

// Config returns the configuration of the last Open
func (b *Backend) Config() audio.CaptureConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// Opens returns the number of successful opens
func (b *Backend) Opens() int64 { return b.opens.Load() }

// Closes returns the number of device closes
func (b *Backend) Closes() int64 { return b.closes.Load() }

// Live returns devices opened and not yet closed
func (b *Backend) Live() int64 { return b.live.Load() }

type device struct {
	backend *Backend
	once    sync.Once
}

func (d *device) Close() error {
	d.once.Do(func() {
		d.backend.mu.Lock()
		d.backend.handler = nil
		d.backend.mu.Unlock()
		d.backend.closes.Add(1)
		d.backend.live.Add(-1)
	})
	return nil
}

// Tone returns n samples of 16-bit PCM at a constant amplitude
func Tone(n int, amplitude int16) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		pcm[i*2] = byte(uint16(amplitude))
		pcm[i*2+1] = byte(uint16(amplitude) >> 8)
	}
	return pcm
}
