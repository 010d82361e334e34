package stt_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emmett/zahl/internal/stt"
	"github.com/emmett/zahl/internal/stt/stttest"
)

type events struct {
	transcripts chan stt.Transcript
	errors      chan *stt.EngineError
}

func newEvents() *events {
	return &events{
		transcripts: make(chan stt.Transcript, 32),
		errors:      make(chan *stt.EngineError, 32),
	}
}

func (e *events) OnTranscript(t stt.Transcript)  { e.transcripts <- t }
func (e *events) OnError(err *stt.EngineError) { e.errors <- err }

type sink struct {
	mu     sync.Mutex
	values []int
	got    chan int
}

func newSink() *sink {
	return &sink{got: make(chan int, 32)}
}

func (s *sink) Accept(v int, _ time.Time) bool {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
	s.got <- v
	return true
}

func waitTranscript(t *testing.T, ch <-chan stt.Transcript) stt.Transcript {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
		return stt.Transcript{}
	}
}

func waitValue(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candidate")
		return 0
	}
}

func TestRecognizerForwardsPartialAndFinal(t *testing.T) {
	model := stttest.NewModel(stttest.Partial("drei"), stttest.Final("dreißig"))
	ev, sk := newEvents(), newSink()

	rec, err := stt.NewRecognizer(model, 16000, ev, sk, stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer rec.Dispose()

	rec.Feed(make([]byte, 8192))
	rec.Feed(make([]byte, 8192))

	first := waitTranscript(t, ev.transcripts)
	if first.Text != "drei" || first.Final {
		t.Fatalf("unexpected first transcript %+v", first)
	}
	second := waitTranscript(t, ev.transcripts)
	if second.Text != "dreißig" || !second.Final {
		t.Fatalf("unexpected second transcript %+v", second)
	}

	if v := waitValue(t, sk.got); v != 3 {
		t.Fatalf("expected candidate 3, got %d", v)
	}
	if v := waitValue(t, sk.got); v != 30 {
		t.Fatalf("expected candidate 30, got %d", v)
	}
}

func TestRecognizerRepeatsCandidatesButNotPartialTranscripts(t *testing.T) {
	model := stttest.NewModel(stttest.Partial("vier"), stttest.Partial("vier"), stttest.Final("vier"))
	ev, sk := newEvents(), newSink()

	rec, err := stt.NewRecognizer(model, 16000, ev, sk, stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer rec.Dispose()

	for i := 0; i < 3; i++ {
		rec.Feed(make([]byte, 16))
	}
	for i := 0; i < 3; i++ {
		if v := waitValue(t, sk.got); v != 4 {
			t.Fatalf("expected candidate 4, got %d", v)
		}
	}

	if tr := waitTranscript(t, ev.transcripts); tr.Final {
		t.Fatalf("expected partial first, got %+v", tr)
	}
	if tr := waitTranscript(t, ev.transcripts); !tr.Final {
		t.Fatalf("expected repeated partial to be collapsed, got %+v", tr)
	}
}

func TestRecognizerIgnoresNonNumbers(t *testing.T) {
	model := stttest.NewModel(stttest.Final("hallo welt"))
	ev, sk := newEvents(), newSink()

	rec, err := stt.NewRecognizer(model, 16000, ev, sk, stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	rec.Feed(make([]byte, 16))
	waitTranscript(t, ev.transcripts)
	rec.Dispose()

	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.values) != 0 {
		t.Fatalf("expected no candidates, got %v", sk.values)
	}
}

func TestRecognizerForwardsErrorWithoutRecovery(t *testing.T) {
	model := stttest.NewModel(stttest.Fail(stt.CodeDecodeFailed, "boom"), stttest.Final("zwei"))
	ev, sk := newEvents(), newSink()

	rec, err := stt.NewRecognizer(model, 16000, ev, sk, stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer rec.Dispose()

	rec.Feed(make([]byte, 16))
	select {
	case e := <-ev.errors:
		if e.Code != stt.CodeDecodeFailed || e.Permission() {
			t.Fatalf("unexpected error %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}

	if rec.Feed(make([]byte, 16)) {
		t.Fatal("feed after engine failure should be refused")
	}
	select {
	case tr := <-ev.transcripts:
		t.Fatalf("no transcripts expected after failure, got %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecognizerDisposeIsIdempotent(t *testing.T) {
	model := stttest.NewModel()
	rec, err := stt.NewRecognizer(model, 16000, newEvents(), newSink(), stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	if model.LiveDecoders() != 1 {
		t.Fatalf("expected one live decoder, got %d", model.LiveDecoders())
	}

	rec.Dispose()
	rec.Dispose()

	if model.LiveDecoders() != 0 {
		t.Fatalf("expected decoder released, got %d live", model.LiveDecoders())
	}
	if model.DecoderCloses() != 1 {
		t.Fatalf("expected exactly one decoder close, got %d", model.DecoderCloses())
	}
	if rec.Feed(make([]byte, 16)) {
		t.Fatal("feed after dispose should be refused")
	}
}

func TestRecognizerDropsWhenQueueFull(t *testing.T) {
	model := stttest.NewModel()
	model.Block = make(chan struct{})

	drops := 0
	var mu sync.Mutex
	rec, err := stt.NewRecognizer(model, 16000, newEvents(), newSink(), stt.RecognizerOptions{
		QueueFrames: 1,
		OnDrop: func() {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}

	// one frame is held by the blocked decoder, one fits the queue
	accepted := 0
	for i := 0; i < 10; i++ {
		if rec.Feed(make([]byte, 16)) {
			accepted++
		}
	}
	if accepted > 2 || accepted == 0 {
		t.Fatalf("expected at most two frames accepted, got %d", accepted)
	}
	if rec.Dropped() == 0 {
		t.Fatal("expected dropped frames")
	}

	close(model.Block)
	rec.Dispose()

	mu.Lock()
	defer mu.Unlock()
	if int64(drops) != rec.Dropped() {
		t.Fatalf("OnDrop calls %d != dropped %d", drops, rec.Dropped())
	}
}

func TestNewRecognizerDecoderFailure(t *testing.T) {
	model := stttest.NewModel()
	model.NewDecoderErr = errors.New("no memory")

	_, err := stt.NewRecognizer(model, 16000, newEvents(), newSink(), stt.RecognizerOptions{})
	var ee *stt.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EngineError, got %v", err)
	}
}

type gateSink struct {
	entered chan int
	release chan struct{}
}

func (g *gateSink) Accept(v int, _ time.Time) bool {
	g.entered <- v
	<-g.release
	return true
}

func TestDisposeWaitsForCandidateHandoff(t *testing.T) {
	model := stttest.NewModel(stttest.Final("zwölf"), stttest.Final("dreizehn"))
	gate := &gateSink{entered: make(chan int, 2), release: make(chan struct{})}

	rec, err := stt.NewRecognizer(model, 16000, newEvents(), gate, stt.RecognizerOptions{})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	rec.Feed(make([]byte, 8192))
	if v := waitValue(t, gate.entered); v != 12 {
		t.Fatalf("expected 12, got %d", v)
	}

	disposed := make(chan struct{})
	go func() {
		rec.Dispose()
		close(disposed)
	}()

	select {
	case <-disposed:
		t.Fatal("Dispose returned while a candidate was being handed off")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)
	select {
	case <-disposed:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose never returned")
	}

	if rec.Feed(make([]byte, 8192)) {
		t.Fatal("disposed recognizer accepted a frame")
	}
	select {
	case v := <-gate.entered:
		t.Fatalf("candidate %d reached the sink after Dispose", v)
	case <-time.After(50 * time.Millisecond):
	}
}
