package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

const (
	recorderBuffer = 64
	pruneEvery     = 100
	writeTimeout   = 2 * time.Second
)

// Sink persists journal entries
type Sink interface {
	Append(ctx context.Context, e journal.Entry) error
	Prune(ctx context.Context) error
}

// RecordSource is the event surface the recorder follows
type RecordSource interface {
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
	Status() session.Status
}

// Recorder writes committed numbers, final transcripts and errors to the
// journal on its own goroutine. Entries are dropped when the writer falls
// behind so event callbacks never block on disk.
type Recorder struct {
	sink    Sink
	src     RecordSource
	log     *slog.Logger
	entries chan journal.Entry
	done    chan struct{}
	unsubs  []func()

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder starts recording events from src into sink
func NewRecorder(sink Sink, src RecordSource, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Recorder{
		sink:    sink,
		src:     src,
		log:     logger.With(slog.String("component", "recorder")),
		entries: make(chan journal.Entry, recorderBuffer),
		done:    make(chan struct{}),
	}
	go r.run()

	r.unsubs = []func(){
		src.OnNumber(func(v int) {
			r.enqueue(journal.Entry{Kind: journal.KindNumber, Value: v, Final: true})
		}),
		src.OnTranscript(func(t stt.Transcript) {
			if !t.Final || t.Text == "" {
				return
			}
			r.enqueue(journal.Entry{Kind: journal.KindTranscript, Text: t.Text, Final: true, CreatedAt: t.At})
		}),
		src.OnError(func(e *session.Error) {
			r.enqueue(journal.Entry{SessionID: e.SessionID, Kind: journal.KindError, Text: e.Error(), CreatedAt: e.At})
		}),
	}
	return r
}

func (r *Recorder) enqueue(e journal.Entry) {
	if e.SessionID == "" {
		e.SessionID = r.src.Status().SessionID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- e:
	default:
		r.dropped++
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	written := 0
	for e := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Append(ctx, e); err != nil {
			r.log.Warn("failed to journal entry", slog.String("kind", e.Kind), slog.String("error", err.Error()))
		}
		written++
		if written%pruneEvery == 0 {
			if err := r.sink.Prune(ctx); err != nil {
				r.log.Warn("failed to prune journal", slog.String("error", err.Error()))
			}
		}
		cancel()
	}
}

// Dropped returns how many entries were discarded because the writer was busy
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops recording and waits for queued entries to be written
func (r *Recorder) Close() {
	for _, u := range r.unsubs {
		u()
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()
	<-r.done
	if n := r.Dropped(); n > 0 {
		r.log.Warn("journal entries dropped", slog.Int("count", n))
	}
}
