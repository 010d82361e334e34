package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/pubsub"
	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

type memorySink struct {
	mu      sync.Mutex
	entries []journal.Entry
	prunes  int
}

func (s *memorySink) Append(_ context.Context, e journal.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Prune(context.Context) error {
	s.mu.Lock()
	s.prunes++
	s.mu.Unlock()
	return nil
}

func (s *memorySink) all() []journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Entry(nil), s.entries...)
}

type eventSource struct {
	numbers     *pubsub.Registry[int]
	transcripts *pubsub.Registry[stt.Transcript]
	errors      *pubsub.Registry[*session.Error]
	sessionID   string
}

func newEventSource(id string) *eventSource {
	return &eventSource{
		numbers:     pubsub.NewRegistry[int](),
		transcripts: pubsub.NewRegistry[stt.Transcript](),
		errors:      pubsub.NewRegistry[*session.Error](),
		sessionID:   id,
	}
}

func (s *eventSource) OnNumber(cb func(int)) func() { return s.numbers.Subscribe(cb) }
func (s *eventSource) OnTranscript(cb func(stt.Transcript)) func() {
	return s.transcripts.Subscribe(cb)
}
func (s *eventSource) OnError(cb func(*session.Error)) func() { return s.errors.Subscribe(cb) }
func (s *eventSource) Status() session.Status { return session.Status{SessionID: s.sessionID} }

func TestRecorderJournalsCommittedEvents(t *testing.T) {
	sink := &memorySink{}
	src := newEventSource("session-1")
	r := NewRecorder(sink, src, nil)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	src.transcripts.Publish(stt.Transcript{Text: "drei", At: at})
	src.transcripts.Publish(stt.Transcript{Text: "dreißig", Final: true, At: at})
	src.numbers.Publish(30)
	src.errors.Publish(&session.Error{Kind: session.KindDeviceUnavailable, Message: "unplugged", At: at})
	r.Close()

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %+v", got)
	}
	if got[0].Kind != journal.KindTranscript || got[0].Text != "dreißig" || !got[0].CreatedAt.Equal(at) {
		t.Errorf("unexpected transcript entry %+v", got[0])
	}
	if got[1].Kind != journal.KindNumber || got[1].Value != 30 {
		t.Errorf("unexpected number entry %+v", got[1])
	}
	if got[2].Kind != journal.KindError || got[2].Text == "" {
		t.Errorf("unexpected error entry %+v", got[2])
	}
	for _, e := range got {
		if e.SessionID != "session-1" {
			t.Errorf("entry %+v lost its session id", e)
		}
	}
	if src.numbers.Len() != 0 || src.transcripts.Len() != 0 || src.errors.Len() != 0 {
		t.Error("recorder kept its subscriptions after Close")
	}
}

func TestRecorderPrunesPeriodically(t *testing.T) {
	sink := &memorySink{}
	src := newEventSource("s")
	r := NewRecorder(sink, src, nil)

	// stay under the queue size so nothing is dropped
	for round := 0; round < 4; round++ {
		for i := 0; i < pruneEvery/4; i++ {
			src.numbers.Publish(i)
		}
		deadline := time.Now().Add(2 * time.Second)
		for len(sink.all()) < (round+1)*pruneEvery/4 {
			if time.Now().After(deadline) {
				t.Fatal("entries were not written")
			}
			time.Sleep(time.Millisecond)
		}
	}
	r.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.prunes != 1 {
		t.Fatalf("expected one prune after %d entries, got %d", pruneEvery, sink.prunes)
	}
	if r.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", r.Dropped())
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	src := newEventSource("s")
	r := NewRecorder(&memorySink{}, src, nil)
	r.Close()
	r.Close()
	r.enqueue(journal.Entry{Kind: journal.KindNumber})
}

func TestRecorderWithSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, journal.Config{Path: t.TempDir() + "/journal.db"}, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	src := newEventSource("s-42")
	r := NewRecorder(j, src, nil)
	src.numbers.Publish(7)
	src.numbers.Publish(8)
	r.Close()

	entries, err := j.Recent(ctx, journal.KindNumber, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 || entries[0].Value != 8 || entries[0].SessionID != "s-42" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
