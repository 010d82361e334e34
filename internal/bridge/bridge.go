// Package bridge republishes session events on NATS so that game modes in
// other processes can consume recognized numbers.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

// DefaultPrefix is the subject prefix when none is configured
const DefaultPrefix = "zahl"

// Config describes the NATS connection
type Config struct {
	Servers        []string
	Prefix         string
	Token          string
	ConnectTimeout time.Duration
}

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is the event surface that gets bridged
type Source interface {
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
}

// NumberEvent is published on <prefix>.number
type NumberEvent struct {
	Value int       `json:"value"`
	At    time.Time `json:"at"`
}

// TranscriptEvent is published on <prefix>.transcript
type TranscriptEvent struct {
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// ErrorEvent is published on <prefix>.error
type ErrorEvent struct {
	Kind    string    `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Subjects returns the number, transcript and error subjects for prefix
func Subjects(prefix string) (number, transcript, errSubject string) {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".number", prefix + ".transcript", prefix + ".error"
}

// Connect dials NATS
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	options := []nats.Option{
		nats.Name("zahl"),
		nats.Timeout(timeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url))
	return conn, nil
}

// Bridge forwards session events to a Publisher
type Bridge struct {
	pub   Publisher
	log   *slog.Logger
	now   func() time.Time
	unsub []func()

	numberSubject     string
	transcriptSubject string
	errorSubject      string

	// FinalOnly skips partial transcripts
	FinalOnly bool
}

// New creates a Bridge publishing under prefix
func New(pub Publisher, prefix string, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	number, transcript, errSubject := Subjects(prefix)
	return &Bridge{
		pub:               pub,
		log:               log.With(slog.String("component", "bridge")),
		now:               time.Now,
		numberSubject:     number,
		transcriptSubject: transcript,
		errorSubject:      errSubject,
	}
}

// Attach subscribes to src. Publishing happens on the caller's goroutine;
// the NATS client buffers internally so this does not block on the network.
func (b *Bridge) Attach(src Source) {
	b.unsub = append(b.unsub,
		src.OnNumber(func(v int) {
			b.publish(b.numberSubject, NumberEvent{Value: v, At: b.now()})
		}),
		src.OnTranscript(func(t stt.Transcript) {
			if b.FinalOnly && !t.Final {
				return
			}
			b.publish(b.transcriptSubject, TranscriptEvent{Text: t.Text, Final: t.Final, Confidence: t.Confidence, At: t.At})
		}),
		src.OnError(func(e *session.Error) {
			b.publish(b.errorSubject, ErrorEvent{Kind: string(e.Kind), Code: e.Code, Message: e.Message, At: e.At})
		}),
	)
}

// Close detaches from every source
func (b *Bridge) Close() {
	for _, u := range b.unsub {
		u()
	}
	b.unsub = nil
}

func (b *Bridge) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("failed to encode event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := b.pub.Publish(subject, data); err != nil {
		b.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
