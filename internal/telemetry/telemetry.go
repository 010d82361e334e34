// Package telemetry exports speech session metrics through OpenTelemetry
// with a Prometheus reader.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

const instrumentationName = "github.com/emmett/zahl"

// Setup installs a global meter provider backed by a Prometheus exporter.
// The returned handler serves /metrics; it is nil if the exporter failed.
func Setup(logger *slog.Logger) (shutdown func(context.Context) error, handler http.Handler, err error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		provider := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider.Shutdown, nil, nil
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	logger.Info("telemetry initialized", slog.String("exporter", "prometheus"))
	return provider.Shutdown, promhttp.Handler(), nil
}

// Source is the event surface metrics are collected from
type Source interface {
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
	OnState(cb func(session.State)) func()
}

// Metrics holds the session instruments
type Metrics struct {
	numbers     metric.Int64Counter
	transcripts metric.Int64Counter
	errors      metric.Int64Counter
	dropped     metric.Int64Counter
	loadTime    metric.Float64Histogram
	listening   metric.Int64UpDownCounter

	mu           sync.Mutex
	wasListening bool
}

// New creates instruments on meter. A nil meter uses the global provider.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var (
		m   = &Metrics{}
		err error
	)
	if m.numbers, err = meter.Int64Counter("zahl.numbers.emitted",
		metric.WithDescription("Numbers committed by the arbiter")); err != nil {
		return nil, err
	}
	if m.transcripts, err = meter.Int64Counter("zahl.transcripts",
		metric.WithDescription("Transcripts reported by the recognizer")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("zahl.errors",
		metric.WithDescription("Session failures by kind")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("zahl.frames.dropped",
		metric.WithDescription("Audio frames dropped because the decoder fell behind")); err != nil {
		return nil, err
	}
	if m.loadTime, err = meter.Float64Histogram("zahl.model.load.duration",
		metric.WithDescription("Model download and initialization time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.listening, err = meter.Int64UpDownCounter("zahl.sessions.listening",
		metric.WithDescription("Sessions currently holding the microphone")); err != nil {
		return nil, err
	}
	return m, nil
}

// Attach records events from src until the returned func is called
func (m *Metrics) Attach(src Source) (detach func()) {
	ctx := context.Background()
	unsubs := []func(){
		src.OnNumber(func(int) { m.numbers.Add(ctx, 1) }),
		src.OnTranscript(func(t stt.Transcript) {
			m.transcripts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", t.Final)))
		}),
		src.OnError(func(e *session.Error) {
			m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind))))
		}),
		src.OnState(m.observeState),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// FrameDropped counts one dropped frame. It is safe to call from the audio thread.
func (m *Metrics) FrameDropped() {
	m.dropped.Add(context.Background(), 1)
}

// ModelLoaded records one load attempt
func (m *Metrics) ModelLoaded(elapsed time.Duration, err error) {
	m.loadTime.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil)))
}

func (m *Metrics) observeState(s session.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listening := s == session.StateListening
	switch {
	case listening && !m.wasListening:
		m.listening.Add(context.Background(), 1)
	case !listening && m.wasListening:
		m.listening.Add(context.Background(), -1)
	}
	m.wasListening = listening
}
