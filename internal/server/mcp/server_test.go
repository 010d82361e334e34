package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/pubsub"
	"github.com/emmett/zahl/internal/session"
)

type fakeSpeech struct {
	mu      sync.Mutex
	state   session.State
	consent bool
	numbers *pubsub.Registry[int]
}

func (f *fakeSpeech) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consent {
		f.state = session.StateListening
	} else {
		f.state = session.StateConsentPending
	}
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	f.state = session.StateIdle
	f.mu.Unlock()
}

func (f *fakeSpeech) AcceptConsent() {
	f.mu.Lock()
	f.consent = true
	if f.state == session.StateConsentPending {
		f.state = session.StateListening
	}
	f.mu.Unlock()
}

func (f *fakeSpeech) DeclineConsent() {
	f.mu.Lock()
	if f.state == session.StateConsentPending {
		f.state = session.StateIdle
	}
	f.mu.Unlock()
}

func (f *fakeSpeech) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{
		Supported: true,
		State:     f.state,
		Listening: f.state == session.StateListening,
		Consent:   f.consent,
	}
}

func (f *fakeSpeech) OnNumber(cb func(int)) func() { return f.numbers.Subscribe(cb) }

func connect(t *testing.T, speech Speech, history History) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := NewServer(Config{ServerName: "zahl", ServerVersion: "test"}, speech, history, nil)

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool[T any](cs *sdk.ClientSession, name string, args map[string]any) (T, error) {
	var out T
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return out, err
	}
	if res.IsError || len(res.Content) == 0 {
		return out, fmt.Errorf("tool failed: %+v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		return out, fmt.Errorf("unexpected content %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		return out, fmt.Errorf("decode %q: %w", text.Text, err)
	}
	return out, nil
}

func call[T any](t *testing.T, cs *sdk.ClientSession, name string, args map[string]any) T {
	t.Helper()
	out, err := callTool[T](cs, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func TestListTools(t *testing.T) {
	cs := connect(t, &fakeSpeech{numbers: pubsub.NewRegistry[int]()}, nil)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	want := map[string]bool{
		"speech_status": false, "speech_start": false, "speech_stop": false, "speech_consent": false,
		"parse_number": false, "next_number": false, "recent_numbers": false,
	}
	for _, tool := range res.Tools {
		want[tool.Name] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestConsentAndStart(t *testing.T) {
	cs := connect(t, &fakeSpeech{numbers: pubsub.NewRegistry[int]()}, nil)

	st := call[StatusOutput](t, cs, "speech_start", nil)
	if st.State != "consent-pending" {
		t.Fatalf("expected consent prompt, got %+v", st)
	}
	st = call[StatusOutput](t, cs, "speech_consent", map[string]any{"accept": true})
	if !st.Listening || !st.Consent {
		t.Fatalf("expected listening after consent, got %+v", st)
	}
	st = call[StatusOutput](t, cs, "speech_stop", nil)
	if st.Listening || st.State != "idle" {
		t.Fatalf("expected idle after stop, got %+v", st)
	}
	st = call[StatusOutput](t, cs, "speech_status", nil)
	if !st.Supported || st.Progress != nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestParseNumberTool(t *testing.T) {
	cs := connect(t, &fakeSpeech{numbers: pubsub.NewRegistry[int]()}, nil)

	tests := []struct {
		text  string
		value int
		found bool
	}{
		{"dreiundzwanzig", 23, true},
		{"hundert", 100, true},
		{"null", 0, true},
		{"banane", 0, false},
	}
	for _, tt := range tests {
		out := call[NumberOutput](t, cs, "parse_number", map[string]any{"text": tt.text})
		if out.Value != tt.value || out.Found != tt.found {
			t.Errorf("parse_number(%q) = %+v, want %d/%v", tt.text, out, tt.value, tt.found)
		}
	}
}

func TestNextNumber(t *testing.T) {
	speech := &fakeSpeech{numbers: pubsub.NewRegistry[int]()}
	cs := connect(t, speech, nil)

	type reply struct {
		out NumberOutput
		err error
	}
	got := make(chan reply, 1)
	go func() {
		out, err := callTool[NumberOutput](cs, "next_number", map[string]any{"timeout_ms": 5000})
		got <- reply{out, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for speech.numbers.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tool never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	speech.numbers.Publish(42)

	r := <-got
	if r.err != nil {
		t.Fatalf("next_number: %v", r.err)
	}
	if !r.out.Found || r.out.Value != 42 {
		t.Fatalf("unexpected result %+v", r.out)
	}

	out := call[NumberOutput](t, cs, "next_number", map[string]any{"timeout_ms": 10})
	if out.Found {
		t.Fatalf("expected timeout, got %+v", out)
	}
}

func TestRecentNumbers(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, journal.Config{Path: filepath.Join(t.TempDir(), "journal.db")}, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	for _, v := range []int{7, 30, 99} {
		if err := j.Append(ctx, journal.Entry{SessionID: "s1", Kind: journal.KindNumber, Value: v}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Append(ctx, journal.Entry{SessionID: "s1", Kind: journal.KindTranscript, Text: "drei"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	cs := connect(t, &fakeSpeech{numbers: pubsub.NewRegistry[int]()}, j)
	out := call[RecentOutput](t, cs, "recent_numbers", map[string]any{"limit": 2})
	if len(out.Numbers) != 2 || out.Numbers[0].Value != 99 || out.Numbers[1].Value != 30 {
		t.Fatalf("unexpected numbers %+v", out.Numbers)
	}
}
