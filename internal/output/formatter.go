package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

// Record is one line of JSON output
type Record struct {
	Type       string    `json:"type"`
	Value      *int      `json:"value,omitempty"`
	Text       string    `json:"text,omitempty"`
	Final      bool      `json:"final,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Formatter is the interface for output formatters
type Formatter interface {
	// WriteNumber writes a committed number
	WriteNumber(value int, at time.Time) error

	// WriteTranscript writes a partial or final transcript
	WriteTranscript(t stt.Transcript) error

	// WriteEvent writes a system event (state changes, errors)
	WriteEvent(eventType, message string) error

	// Close releases resources
	Close() error
}

// New returns the formatter for format: json, console or text (default)
func New(format string, w io.Writer) Formatter {
	switch format {
	case "json":
		return NewJSONFormatter(w)
	case "console":
		return NewConsoleOutput(ConsoleConfig{Writer: w, ShowTimestamp: true})
	default:
		return NewPlainTextFormatter(w)
	}
}

// Source is the event surface a formatter follows
type Source interface {
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
	OnState(cb func(session.State)) func()
}

// Attach writes every event from src to f until the returned func is called
func Attach(src Source, f Formatter) (detach func()) {
	unsubs := []func(){
		src.OnNumber(func(v int) { _ = f.WriteNumber(v, time.Now()) }),
		src.OnTranscript(func(t stt.Transcript) { _ = f.WriteTranscript(t) }),
		src.OnError(func(e *session.Error) { _ = f.WriteEvent("error", e.Error()) }),
		src.OnState(func(s session.State) { _ = f.WriteEvent("state", s.String()) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// JSONFormatter writes one JSON object per line
type JSONFormatter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	now     func() time.Time
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	return &JSONFormatter{encoder: json.NewEncoder(writer), now: time.Now}
}

// WriteNumber writes a number record
func (j *JSONFormatter) WriteNumber(value int, at time.Time) error {
	return j.encode(Record{Type: "number", Value: &value, Timestamp: at})
}

// WriteTranscript writes a transcript record
func (j *JSONFormatter) WriteTranscript(t stt.Transcript) error {
	return j.encode(Record{Type: "transcript", Text: t.Text, Final: t.Final, Confidence: t.Confidence, Timestamp: t.At})
}

// WriteEvent writes a system event
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	return j.encode(Record{Type: eventType, Message: message, Timestamp: j.now()})
}

// Close closes the formatter
func (j *JSONFormatter) Close() error {
	return nil
}

func (j *JSONFormatter) encode(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(r)
}

// PlainTextFormatter prints numbers and final transcripts, one per line
type PlainTextFormatter struct {
	mu     sync.Mutex
	writer io.Writer
	now    func() time.Time
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{writer: writer, now: time.Now}
}

// WriteNumber writes a number as "[hh:mm:ss] 30"
func (p *PlainTextFormatter) WriteNumber(value int, at time.Time) error {
	return p.printf("[%s] %d\n", at.Format("15:04:05"), value)
}

// WriteTranscript writes final transcripts only
func (p *PlainTextFormatter) WriteTranscript(t stt.Transcript) error {
	if !t.Final {
		return nil
	}
	return p.printf("[%s] (%s)\n", t.At.Format("15:04:05"), t.Text)
}

// WriteEvent writes a system event
func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	return p.printf("[%s] [%s] %s\n", p.now().Format("15:04:05"), eventType, message)
}

// Close closes the formatter
func (p *PlainTextFormatter) Close() error {
	return nil
}

func (p *PlainTextFormatter) printf(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.writer, format, args...)
	return err
}
