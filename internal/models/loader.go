package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/emmett/zahl/internal/clock"
	"github.com/emmett/zahl/internal/pubsub"
	"github.com/emmett/zahl/internal/stt"
)

// DefaultInitTimeout bounds model construction and readiness
const DefaultInitTimeout = 30 * time.Second

// Loader errors
var (
	ErrDownloadFailed = errors.New("model download failed")
	ErrInitTimeout    = errors.New("model initialization timed out")
	ErrInitFailed     = errors.New("model initialization failed")
	ErrLoaderClosed   = errors.New("model loader closed")
)

// LoaderConfig selects the model and bounds loading
type LoaderConfig struct {
	// ModelName is a catalog entry; empty uses the store's default model
	ModelName string

	// ModelURL overrides the catalog URL for ModelName
	ModelURL string

	// ModelPath points at an already extracted model and skips the store
	ModelPath string

	// InitTimeout bounds construction plus readiness; zero uses DefaultInitTimeout
	InitTimeout time.Duration

	// DownloadTimeout bounds the transfer; zero means no limit
	DownloadTimeout time.Duration
}

// LoadHook observes each completed load attempt
type LoadHook func(elapsed time.Duration, err error)

type loadCall struct {
	done  chan struct{}
	model stt.Model
	err   error
}

// Loader produces the process-wide recognition model. Concurrent Load
// calls share a single in-flight attempt; a ready model is memoized and a
// failed attempt is forgotten so the next Load starts over.
type Loader struct {
	config  LoaderConfig
	store   *Store
	factory stt.ModelFactory
	clock   clock.Clock
	log     *slog.Logger

	progress *pubsub.Registry[int]
	hook     LoadHook

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	model    stt.Model
	inflight *loadCall
	meter    *progressMeter
	attempts int
	closed   bool
}

// NewLoader creates a loader. Nothing is fetched until the first Load.
func NewLoader(config LoaderConfig, store *Store, factory stt.ModelFactory, clk clock.Clock, logger *slog.Logger) *Loader {
	if config.InitTimeout <= 0 {
		config.InitTimeout = DefaultInitTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		config:   config,
		store:    store,
		factory:  factory,
		clock:    clk,
		log:      logger,
		progress: pubsub.NewRegistry[int](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetHook registers fn to observe load attempts
func (l *Loader) SetHook(fn LoadHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// OnProgress subscribes to download progress in percent
func (l *Loader) OnProgress(cb func(percent int)) (unsubscribe func()) {
	return l.progress.Subscribe(cb)
}

// Load returns the model, downloading and initializing it on first use.
// ctx only bounds the wait: an attempt keeps running when ctx ends so
// that a later Load can pick up its result.
func (l *Loader) Load(ctx context.Context) (stt.Model, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLoaderClosed
	}
	if l.model != nil {
		m := l.model
		l.mu.Unlock()
		return m, nil
	}
	call := l.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		l.inflight = call
		l.attempts++
		l.meter = newProgressMeter(l.progress.Publish)
		go l.run(call, l.meter)
	}
	l.mu.Unlock()

	select {
	case <-call.done:
		return call.model, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether a model is loaded
func (l *Loader) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.model != nil
}

// Loading reports whether an attempt is in flight
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight != nil
}

// Progress returns the percentage of the current or last attempt
func (l *Loader) Progress() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		return 100
	}
	if l.meter == nil {
		return 0
	}
	return l.meter.Percent()
}

// Attempts returns how many load attempts were started
func (l *Loader) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Close cancels any download and releases the model
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	m := l.model
	l.model = nil
	l.mu.Unlock()

	l.cancel()
	if m != nil {
		return m.Close()
	}
	return nil
}

func (l *Loader) run(call *loadCall, meter *progressMeter) {
	start := l.clock.Now()
	model, err := l.load(meter)

	l.mu.Lock()
	l.inflight = nil
	if err == nil && l.closed {
		err = ErrLoaderClosed
	}
	if err == nil {
		l.model = model
	}
	hook := l.hook
	l.mu.Unlock()

	if err != nil && model != nil {
		_ = model.Close()
		model = nil
	}

	elapsed := l.clock.Now().Sub(start)
	if err != nil {
		l.log.Warn("model load failed", slog.String("error", err.Error()), slog.Duration("elapsed", elapsed))
	} else {
		meter.Complete()
		l.log.Info("model ready", slog.Duration("elapsed", elapsed))
	}
	if hook != nil {
		hook(elapsed, err)
	}

	call.model, call.err = model, err
	close(call.done)
}

func (l *Loader) load(meter *progressMeter) (stt.Model, error) {
	path, err := l.resolve(meter)
	if err != nil {
		return nil, err
	}
	return l.initialize(path)
}

// resolve returns an extracted model directory, downloading it if needed
func (l *Loader) resolve(meter *progressMeter) (string, error) {
	if l.config.ModelPath != "" {
		if _, err := os.Stat(l.config.ModelPath); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		return l.config.ModelPath, nil
	}
	if l.store == nil {
		return "", fmt.Errorf("%w: no model store configured", ErrDownloadFailed)
	}

	name := l.config.ModelName
	if name == "" {
		var err error
		if name, err = l.store.GetDefaultModel(); err != nil {
			l.log.Warn("failed to read default model", slog.String("error", err.Error()))
		}
	}

	downloaded, err := l.store.IsDownloaded(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if downloaded {
		l.log.Debug("model already on disk", slog.String("model", name))
		return l.store.Path(name), nil
	}

	model := Model{Name: name}
	if entry := FindModel(name); entry != nil {
		model = *entry
	}
	if l.config.ModelURL != "" {
		model.URL = l.config.ModelURL
	}
	if model.URL == "" {
		return "", fmt.Errorf("%w: %w: %s", ErrDownloadFailed, ErrUnknownModel, name)
	}

	ctx := l.ctx
	if l.config.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.DownloadTimeout)
		defer cancel()
	}

	l.log.Info("downloading model", slog.String("model", name), slog.String("url", model.URL))
	if err := l.store.DownloadFrom(ctx, model, meter.Observe); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return l.store.Path(name), nil
}

type initResult struct {
	model stt.Model
	err   error
}

// initialize constructs the model and waits for readiness within the init timeout.
// A model that becomes ready after the deadline is closed.
func (l *Loader) initialize(path string) (stt.Model, error) {
	if l.factory == nil {
		return nil, fmt.Errorf("%w: no model factory", ErrInitFailed)
	}

	results := make(chan initResult, 1)
	go func() {
		model, err := l.factory.NewModel(path)
		if err == nil && model != nil {
			if rn, ok := model.(stt.ReadyNotifier); ok {
				err = <-rn.Ready()
			}
		}
		results <- initResult{model: model, err: err}
	}()

	expired := make(chan struct{})
	timer := l.clock.AfterFunc(l.config.InitTimeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			if r.model != nil {
				_ = r.model.Close()
			}
			return nil, fmt.Errorf("%w: %w", ErrInitFailed, r.err)
		}
		if r.model == nil {
			return nil, fmt.Errorf("%w: factory returned no model", ErrInitFailed)
		}
		return r.model, nil
	case <-expired:
		go func() {
			if r := <-results; r.model != nil {
				_ = r.model.Close()
			}
		}()
		return nil, fmt.Errorf("%w after %s", ErrInitTimeout, l.config.InitTimeout)
	}
}
