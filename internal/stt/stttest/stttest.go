// Package stttest provides scripted recognition models for tests.
package stttest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/emmett/zahl/internal/stt"
)

// Step is what a decoder reports for one accepted frame
type Step struct {
	Result *stt.Result
	Err    error
}

// Partial is a Step reporting a partial hypothesis
func Partial(text string) Step {
	return Step{Result: &stt.Result{Text: text, Partial: true}}
}

// Final is a Step reporting a final hypothesis
func Final(text string) Step {
	return Step{Result: &stt.Result{Text: text, Confidence: 0.9}}
}

// Fail is a Step reporting an engine error
func Fail(code, message string) Step {
	return Step{Err: &stt.EngineError{Code: code, Message: message}}
}

// Model is a scripted stt.Model. Every decoder it creates replays Script,
// one step per frame, and reports nothing once the script is exhausted.
type Model struct {
	mu     sync.Mutex
	Script []Step

	// Block, when set, is received from before each frame is decoded
	Block chan struct{}

	// NewDecoderErr fails decoder creation
	NewDecoderErr error

	decodersCreated atomic.Int64
	liveDecoders    atomic.Int64
	decoderCloses   atomic.Int64
	closed          atomic.Int64
	frames          atomic.Int64
}

// NewModel creates a scripted model
func NewModel(script ...Step) *Model {
	return &Model{Script: script}
}

// NewDecoder implements stt.Model
func (m *Model) NewDecoder(sampleRate int) (stt.Decoder, error) {
	if m.NewDecoderErr != nil {
		return nil, m.NewDecoderErr
	}
	if sampleRate <= 0 {
		return nil, errors.New("invalid sample rate")
	}
	m.mu.Lock()
	script := append([]Step(nil), m.Script...)
	m.mu.Unlock()

	m.decodersCreated.Add(1)
	m.liveDecoders.Add(1)
	return &decoder{model: m, script: script}, nil
}

// SetScript replaces the script used by decoders created afterwards
func (m *Model) SetScript(script ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Script = script
}

// Close implements stt.Model
func (m *Model) Close() error {
	m.closed.Add(1)
	return nil
}

// DecodersCreated returns how many decoders were created
func (m *Model) DecodersCreated() int64 { return m.decodersCreated.Load() }

// LiveDecoders returns decoders created but not yet closed
func (m *Model) LiveDecoders() int64 { return m.liveDecoders.Load() }

// DecoderCloses returns the number of decoder Close calls
func (m *Model) DecoderCloses() int64 { return m.decoderCloses.Load() }

// Closes returns how often the model itself was closed
func (m *Model) Closes() int64 { return m.closed.Load() }

// Frames returns the number of frames decoded across all decoders
func (m *Model) Frames() int64 { return m.frames.Load() }

type decoder struct {
	model  *Model
	script []Step
	pos    int
	closed bool
	mu     sync.Mutex
}

func (d *decoder) AcceptWaveform(pcm []byte) (*stt.Result, error) {
	if d.model.Block != nil {
		<-d.model.Block
	}
	d.model.frames.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("decoder closed")
	}
	if d.pos >= len(d.script) {
		return nil, nil
	}
	step := d.script[d.pos]
	d.pos++
	return step.Result, step.Err
}

func (d *decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.model.decoderCloses.Add(1)
	if d.closed {
		return nil
	}
	d.closed = true
	d.model.liveDecoders.Add(-1)
	return nil
}

// Factory is a scripted stt.ModelFactory
type Factory struct {
	Model stt.Model
	Err   error

	// Block, when set, is received from before the model is returned
	Block chan struct{}

	calls atomic.Int64
}

// NewModel implements stt.ModelFactory
func (f *Factory) NewModel(path string) (stt.Model, error) {
	f.calls.Add(1)
	if f.Block != nil {
		<-f.Block
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Model, nil
}

// Calls returns how many models were constructed
func (f *Factory) Calls() int64 { return f.calls.Load() }
