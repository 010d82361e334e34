package stt

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emmett/zahl/internal/clock"
	"github.com/emmett/zahl/internal/numparse"
)

// DefaultQueueFrames bounds the frames waiting for the decoder (~2s at 256ms frames)
const DefaultQueueFrames = 8

// ErrDisposed is returned when a disposed recognizer is used
var ErrDisposed = errors.New("recognizer disposed")

// Transcript is one partial or final hypothesis
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
	At         time.Time
}

// Listener receives recognizer events. Calls come from the decode goroutine.
type Listener interface {
	OnTranscript(t Transcript)
	OnError(err *EngineError)
}

// CandidateSink receives every number parsed from a transcript
type CandidateSink interface {
	Accept(value int, now time.Time) bool
}

// RecognizerOptions tunes a Recognizer
type RecognizerOptions struct {
	QueueFrames int
	Clock       clock.Clock
	Logger      *slog.Logger

	// OnDrop is called when a frame is dropped because the decoder fell behind
	OnDrop func()
}

// Recognizer adapts a Decoder to a stream of frames. Feed never blocks:
// frames are queued for a decode goroutine that emits transcripts and
// number candidates.
type Recognizer struct {
	decoder  Decoder
	listener Listener
	sink     CandidateSink
	clock    clock.Clock
	log      *slog.Logger
	onDrop   func()

	frames chan []byte
	done   chan struct{}

	// decMu serializes decoder calls with Close; callbacks run without it
	decMu     sync.Mutex
	decClosed bool

	// sinkMu covers a candidate hand-off so none lands after Dispose
	sinkMu sync.Mutex

	disposeOnce sync.Once
	disposed    atomic.Bool
	failed      atomic.Bool
	dropped     atomic.Int64

	lastPartial string
}

// NewRecognizer creates a decoder from the loaned model and starts decoding
func NewRecognizer(model Model, sampleRate int, listener Listener, sink CandidateSink, opts RecognizerOptions) (*Recognizer, error) {
	if model == nil {
		return nil, errors.New("recognizer requires a model")
	}
	decoder, err := model.NewDecoder(sampleRate)
	if err != nil {
		return nil, &EngineError{Code: CodeEngine, Message: "failed to create decoder", Err: err}
	}

	if opts.QueueFrames <= 0 {
		opts.QueueFrames = DefaultQueueFrames
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Recognizer{
		decoder:  decoder,
		listener: listener,
		sink:     sink,
		clock:    opts.Clock,
		log:      opts.Logger,
		onDrop:   opts.OnDrop,
		frames:   make(chan []byte, opts.QueueFrames),
		done:     make(chan struct{}),
	}

	go r.decodeLoop()

	return r, nil
}

// Feed queues a frame for decoding. It returns false if the frame was
// dropped because the queue is full or the recognizer is disposed.
// Safe to call from the audio callback.
func (r *Recognizer) Feed(frame []byte) bool {
	if r.disposed.Load() || r.failed.Load() {
		return false
	}
	select {
	case r.frames <- frame:
		return true
	default:
		if n := r.dropped.Add(1); n == 1 || n%50 == 0 {
			r.log.Warn("decoder queue full, dropping frames", slog.Int64("dropped", n))
		}
		if r.onDrop != nil {
			r.onDrop()
		}
		return false
	}
}

// Dropped returns the number of frames dropped so far
func (r *Recognizer) Dropped() int64 {
	return r.dropped.Load()
}

// Dispose stops decoding and releases the decoder. It waits for a frame
// being decoded and for a candidate being handed to the sink, but not for
// listener callbacks, so it may be called from inside one. No candidate
// reaches the sink once it returns. Later calls are no-ops.
func (r *Recognizer) Dispose() {
	r.disposeOnce.Do(func() {
		r.sinkMu.Lock()
		r.disposed.Store(true)
		r.sinkMu.Unlock()
		close(r.done)

		r.decMu.Lock()
		defer r.decMu.Unlock()
		r.decClosed = true
		if err := r.decoder.Close(); err != nil {
			r.log.Warn("failed to close decoder", slog.String("error", err.Error()))
		}
	})
}

func (r *Recognizer) decodeLoop() {
	for {
		select {
		case <-r.done:
			return
		case frame := <-r.frames:
			r.decode(frame)
		}
	}
}

func (r *Recognizer) decode(frame []byte) {
	if r.failed.Load() {
		return
	}

	r.decMu.Lock()
	if r.decClosed {
		r.decMu.Unlock()
		return
	}
	result, err := r.decoder.AcceptWaveform(frame)
	r.decMu.Unlock()

	if r.disposed.Load() {
		return
	}
	if err != nil {
		// no local recovery: the owner decides what happens next
		r.failed.Store(true)
		if r.listener != nil {
			r.listener.OnError(AsEngineError(err))
		}
		return
	}
	if result == nil || result.Text == "" {
		return
	}

	now := r.clock.Now()
	if value, ok := numparse.Parse(result.Text); ok && r.sink != nil {
		r.handoff(value, now)
	}

	if result.Partial {
		if result.Text == r.lastPartial {
			return
		}
		r.lastPartial = result.Text
	} else {
		r.lastPartial = ""
	}

	if r.listener != nil && !r.disposed.Load() {
		r.listener.OnTranscript(Transcript{
			Text:       result.Text,
			Final:      !result.Partial,
			Confidence: result.Confidence,
			At:         now,
		})
	}
}

func (r *Recognizer) handoff(value int, at time.Time) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	if r.disposed.Load() {
		return
	}
	r.sink.Accept(value, at)
}
