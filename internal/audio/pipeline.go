package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// FrameSink receives fixed-size frames. It runs on the device thread and
// must not block.
type FrameSink func(frame []byte)

// VolumeFunc receives the RMS level of each frame
type VolumeFunc func(level float64)

// Pipeline hands out at most one live capture stream at a time
type Pipeline struct {
	backend Backend
	config  CaptureConfig
	log     *slog.Logger

	mu     sync.Mutex
	active *Stream
}

// NewPipeline creates a pipeline over backend
func NewPipeline(backend Backend, config CaptureConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		backend: backend,
		config:  config,
		log:     logger,
	}
}

// Supported reports whether capture is available on this machine
func (p *Pipeline) Supported() bool {
	if p.backend == nil {
		return false
	}
	if err := p.backend.Probe(); err != nil {
		p.log.Debug("audio capture unavailable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Open acquires the microphone and starts delivering frames of
// FrameSamples(sampleRate) samples to sink, and their RMS to volume.
func (p *Pipeline) Open(sampleRate int, sink FrameSink, volume VolumeFunc) (*Stream, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if p.backend == nil {
		return nil, fmt.Errorf("%w: no audio backend", ErrDeviceUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return nil, ErrBusy
	}

	s := &Stream{
		pipeline: p,
		framer:   NewFramer(FrameSamples(sampleRate) * 2),
		sink:     sink,
		volume:   volume,
		log:      p.log,
	}

	cfg := p.config
	cfg.SampleRate = uint32(sampleRate)

	device, err := p.backend.Open(cfg, Handler{Data: s.onData, Lost: s.onLost})
	if err != nil {
		err = classify(err)
		p.log.Warn("failed to open microphone", slog.String("error", err.Error()))
		return nil, err
	}
	s.device = device
	p.active = s

	p.log.Debug("microphone opened",
		slog.Int("sample_rate", sampleRate),
		slog.Int("frame_samples", FrameSamples(sampleRate)))
	return s, nil
}

// Active reports whether a stream is currently open
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

func (p *Pipeline) release(s *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == s {
		p.active = nil
	}
}

// Stream is one open capture session
type Stream struct {
	pipeline *Pipeline
	device   Device
	log      *slog.Logger

	// framer is only touched from the device thread
	framer *Framer
	sink   FrameSink
	volume VolumeFunc

	closed    atomic.Bool
	closeOnce sync.Once
	frames    atomic.Int64

	lostMu  sync.Mutex
	lostFn  func(error)
	lostErr error
}

// OnLost registers fn to be called once if the device stops unexpectedly.
// If the device was already lost, fn is called immediately.
func (s *Stream) OnLost(fn func(error)) {
	s.lostMu.Lock()
	s.lostFn = fn
	err := s.lostErr
	s.lostMu.Unlock()

	if err != nil && fn != nil && !s.closed.Load() {
		fn(err)
	}
}

// Frames returns the number of frames delivered so far
func (s *Stream) Frames() int64 {
	return s.frames.Load()
}

// Close stops delivery and releases the device. Repeated calls are no-ops.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.device != nil {
			if cerr := s.device.Close(); cerr != nil {
				err = fmt.Errorf("failed to close device: %w", cerr)
			}
		}
		s.pipeline.release(s)
		s.log.Debug("microphone released", slog.Int64("frames", s.frames.Load()))
	})
	return err
}

func (s *Stream) onData(pcm []byte) {
	if s.closed.Load() {
		return
	}
	s.framer.Write(pcm, s.deliver)
}

func (s *Stream) deliver(frame []byte) {
	if s.closed.Load() {
		return
	}
	s.frames.Add(1)
	if s.sink != nil {
		s.sink(frame)
	}
	if s.volume != nil {
		s.volume(RMS(frame))
	}
}

func (s *Stream) onLost(cause error) {
	if s.closed.Load() {
		return
	}
	err := ErrDeviceUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, cause)
	}

	s.lostMu.Lock()
	if s.lostErr != nil {
		s.lostMu.Unlock()
		return
	}
	s.lostErr = err
	fn := s.lostFn
	s.lostMu.Unlock()

	s.log.Warn("microphone lost", slog.String("error", err.Error()))
	if fn != nil {
		fn(err)
	}
}
