// Package app wires the recognition stack from configuration and hosts the
// command-line front ends.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/emmett/zahl/internal/arbiter"
	"github.com/emmett/zahl/internal/audio"
	"github.com/emmett/zahl/internal/bridge"
	"github.com/emmett/zahl/internal/clock"
	"github.com/emmett/zahl/internal/config"
	"github.com/emmett/zahl/internal/consent"
	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/models"
	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
	"github.com/emmett/zahl/internal/stt/vosk"
	"github.com/emmett/zahl/internal/telemetry"
)

// App owns every long-lived component of a zahl process
type App struct {
	cfg *config.Config
	log *slog.Logger

	store    *models.Store
	loader   *models.Loader
	pipeline *audio.Pipeline
	consent  consent.Store
	journal  *journal.Journal
	metrics  *telemetry.Metrics
	session  *session.Manager
	recorder *Recorder
	bridge   *bridge.Bridge
	conn     *nats.Conn

	detachMetrics func()
}

// New builds the stack described by cfg. Nothing touches the microphone or
// the network until the session is started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{cfg: cfg, log: logger}

	store, err := NewModelStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Consent.Dir == "" {
		a.consent = &consent.Memory{}
	} else {
		cs, err := consent.Open(cfg.Consent.Dir)
		if err != nil {
			return nil, err
		}
		a.consent = cs
	}

	a.journal, err = journal.Open(ctx, journal.Config{Path: cfg.Journal.Path, MaxEntries: cfg.Journal.MaxEntries}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.metrics, err = telemetry.New(nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	factory := vosk.NewFactory(stt.Config{SampleRate: cfg.Audio.SampleRate}, cfg.Model.Grammar)
	a.loader = models.NewLoader(models.LoaderConfig{
		ModelName:       cfg.Model.Default,
		ModelURL:        cfg.Model.URL,
		ModelPath:       cfg.Model.Path,
		InitTimeout:     cfg.InitTimeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
	}, store, factory, clock.Real(), logger)
	a.loader.SetHook(a.metrics.ModelLoaded)

	capture := audio.DefaultConfig()
	capture.SampleRate = uint32(cfg.Audio.SampleRate)
	capture.DeviceName = cfg.Audio.Device
	a.pipeline = audio.NewPipeline(audio.NewMalgoBackend(), capture, logger)

	initial, maxInterval := cfg.RestartIntervals()
	a.session = session.New(a.loader, a.pipeline, a.consent, session.Options{
		SampleRate: cfg.Audio.SampleRate,
		Arbiter: arbiter.Config{
			Debounce:     cfg.Debounce(),
			RepeatWindow: cfg.RepeatWindow(),
		},
		QueueFrames: cfg.Recognizer.QueueFrames,
		Restart: session.RestartPolicy{
			MaxRestarts:     cfg.Recognizer.MaxRestarts,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
			Jitter:          cfg.Recognizer.RestartJitter,
		},
		Logger:         logger,
		OnFrameDropped: a.metrics.FrameDropped,
	})
	a.detachMetrics = a.metrics.Attach(a.session)

	if a.journal.Enabled() {
		a.recorder = NewRecorder(a.journal, a.session, logger)
	}

	if len(cfg.Bus.Servers) > 0 {
		conn, err := bridge.Connect(ctx, bridge.Config{
			Servers:        cfg.Bus.Servers,
			Prefix:         cfg.Bus.Prefix,
			Token:          cfg.Bus.Token,
			ConnectTimeout: cfg.BusTimeout(),
		}, logger)
		if err != nil {
			// The bus is optional; recognition works without it
			logger.Warn("event bus disabled", slog.String("error", err.Error()))
		} else {
			a.conn = conn
			a.bridge = bridge.New(conn, cfg.Bus.Prefix, logger)
			a.bridge.Attach(a.session)
		}
	}

	return a, nil
}

// NewModelStore opens the model directory named by cfg
func NewModelStore(cfg *config.Config) (*models.Store, error) {
	dir := cfg.Model.Dir
	if dir == "" {
		var err error
		dir, err = models.GetModelsDir()
		if err != nil {
			return nil, err
		}
	}
	return models.NewStore(dir, nil), nil
}

// Session returns the session manager
func (a *App) Session() *session.Manager { return a.session }

// Journal returns the recognition journal, or nil when it is disabled
func (a *App) Journal() *journal.Journal {
	if a.journal == nil || !a.journal.Enabled() {
		return nil
	}
	return a.journal
}

// Loader returns the model loader
func (a *App) Loader() *models.Loader { return a.loader }

// Logger returns the process logger
func (a *App) Logger() *slog.Logger { return a.log }

// Close stops listening and releases everything in reverse build order
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.conn != nil {
		if err := a.conn.Drain(); err != nil {
			a.conn.Close()
		}
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.detachMetrics != nil {
		a.detachMetrics()
	}
	if a.loader != nil {
		if err := a.loader.Close(); err != nil {
			a.log.Warn("failed to release model", slog.String("error", err.Error()))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("failed to close journal", slog.String("error", err.Error()))
		}
	}
	if a.consent != nil {
		if err := a.consent.Close(); err != nil {
			a.log.Warn("failed to close consent store", slog.String("error", err.Error()))
		}
	}
}
