// Package session coordinates consent, model loading, audio capture and
// recognition for one process, and exposes the number stream to callers.
package session

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/emmett/zahl/internal/arbiter"
	"github.com/emmett/zahl/internal/audio"
	"github.com/emmett/zahl/internal/clock"
	"github.com/emmett/zahl/internal/consent"
	"github.com/emmett/zahl/internal/pubsub"
	"github.com/emmett/zahl/internal/stt"
)

// ModelLoader provides the shared recognition model
type ModelLoader interface {
	Load(ctx context.Context) (stt.Model, error)
	Ready() bool
	OnProgress(cb func(percent int)) (unsubscribe func())
}

// Pipeline acquires the microphone
type Pipeline interface {
	Supported() bool
	Open(sampleRate int, sink audio.FrameSink, volume audio.VolumeFunc) (*audio.Stream, error)
}

// RestartPolicy bounds automatic restarts after recognizer errors.
// Permission-class errors are never restarted.
type RestartPolicy struct {
	// MaxRestarts is the retry budget per user-initiated start; zero disables restarts
	MaxRestarts int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Jitter is the backoff randomization factor (0 = deterministic)
	Jitter float64
}

// Options tunes a Manager
type Options struct {
	SampleRate  int
	Arbiter     arbiter.Config
	QueueFrames int
	Restart     RestartPolicy
	Clock       clock.Clock
	Logger      *slog.Logger

	// OnFrameDropped is called when the recognizer falls behind the microphone
	OnFrameDropped func()
}

// Manager is the session state machine. All methods are safe for
// concurrent use and return without waiting for downloads or devices.
// Volume callbacks run on the audio thread and must not block.
type Manager struct {
	loader   ModelLoader
	pipeline Pipeline
	consent  consent.Store
	opts     Options
	clock    clock.Clock
	log      *slog.Logger

	arbiter *arbiter.Arbiter

	numbers     *pubsub.Registry[int]
	transcripts *pubsub.Registry[stt.Transcript]
	errors      *pubsub.Registry[*Error]
	volumes     *pubsub.Registry[float64]
	states      *pubsub.Registry[State]

	volume      atomic.Uint64
	unsubscribe func()
	supported   bool

	mu             sync.Mutex
	state          State
	consentGranted bool
	lastError      *Error
	pendingStart   bool
	attempt        uint64
	sessionID      string
	recognizer     *stt.Recognizer
	stream         *audio.Stream
	progress       int
	hasProgress    bool
	restarts       int
	backoff        *backoff.ExponentialBackOff
	restartTimer   clock.Timer
	closed         bool
	outbox         []func()
}

// New creates a Manager in the Idle state. Consent is read from store once.
func New(loader ModelLoader, pipeline Pipeline, store consent.Store, opts Options) *Manager {
	if opts.SampleRate <= 0 {
		opts.SampleRate = stt.DefaultConfig().SampleRate
	}
	if opts.Arbiter.Debounce <= 0 {
		opts.Arbiter.Debounce = arbiter.DefaultDebounce
	}
	if opts.Arbiter.RepeatWindow <= 0 {
		opts.Arbiter.RepeatWindow = arbiter.DefaultRepeatWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if store == nil {
		store = &consent.Memory{}
	}

	m := &Manager{
		loader:      loader,
		pipeline:    pipeline,
		consent:     store,
		opts:        opts,
		clock:       opts.Clock,
		log:         opts.Logger,
		numbers:     pubsub.NewRegistry[int](),
		transcripts: pubsub.NewRegistry[stt.Transcript](),
		errors:      pubsub.NewRegistry[*Error](),
		volumes:     pubsub.NewRegistry[float64](),
		states:      pubsub.NewRegistry[State](),
		supported:   loader != nil && pipeline != nil && pipeline.Supported(),
	}
	m.arbiter = arbiter.New(opts.Arbiter, opts.Clock, m.emitNumber)

	granted, err := store.Granted()
	if err != nil {
		m.log.Warn("failed to read speech consent", slog.String("error", err.Error()))
	}
	m.consentGranted = granted

	if loader != nil {
		m.unsubscribe = loader.OnProgress(m.onProgress)
	}
	return m
}

// OnNumber subscribes to debounced numbers
func (m *Manager) OnNumber(cb func(int)) (unsubscribe func()) {
	return m.numbers.Subscribe(cb)
}

// OnTranscript subscribes to partial and final transcripts
func (m *Manager) OnTranscript(cb func(stt.Transcript)) (unsubscribe func()) {
	return m.transcripts.Subscribe(cb)
}

// OnError subscribes to session failures
func (m *Manager) OnError(cb func(*Error)) (unsubscribe func()) {
	return m.errors.Subscribe(cb)
}

// OnVolume subscribes to per-frame RMS levels
func (m *Manager) OnVolume(cb func(float64)) (unsubscribe func()) {
	return m.volumes.Subscribe(cb)
}

// OnState subscribes to state transitions
func (m *Manager) OnState(cb func(State)) (unsubscribe func()) {
	return m.states.Subscribe(cb)
}

// Status returns the current outbound flags
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Supported:   m.supported,
		Listening:   m.state == StateListening,
		Ready:       m.loader != nil && m.loader.Ready(),
		Loading:     m.state == StateModelLoading,
		Progress:    m.progress,
		HasProgress: m.hasProgress,
		Volume:      m.currentVolume(),
		State:       m.state,
		Consent:     m.consentGranted,
		SessionID:   m.sessionID,
	}
	if m.lastError != nil {
		st.Error = m.lastError.Message
		st.ErrorKind = m.lastError.Kind
	}
	return st
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent failure, or nil
func (m *Manager) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Start begins a listening session. From Idle or Error it asks for consent
// or starts loading the model; elsewhere it is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	m.restarts = 0
	m.backoff = nil
	m.startLocked()
	m.unlockAndFlush()
}

// Stop releases the microphone and recognizer. A model load in flight
// keeps running but its result no longer opens a stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.unlockAndFlush()
}

// Toggle stops when listening and starts otherwise
func (m *Manager) Toggle() {
	m.mu.Lock()
	if m.state == StateListening {
		m.stopLocked()
	} else {
		m.restarts = 0
		m.backoff = nil
		m.startLocked()
	}
	m.unlockAndFlush()
}

// AcceptConsent records consent and continues a pending start
func (m *Manager) AcceptConsent() {
	if err := m.consent.SetGranted(true); err != nil {
		m.log.Warn("failed to persist speech consent", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.consentGranted = true
	if m.state == StateConsentPending {
		m.beginLoadLocked()
	}
	m.unlockAndFlush()
}

// DeclineConsent abandons a pending start without granting consent
func (m *Manager) DeclineConsent() {
	m.mu.Lock()
	if m.state == StateConsentPending {
		m.log.Info("speech consent declined")
		m.setStateLocked(StateIdle)
	}
	m.unlockAndFlush()
}

// ResetError clears the last error and returns to Idle
func (m *Manager) ResetError() {
	m.mu.Lock()
	m.cancelRestartLocked()
	m.lastError = nil
	if m.state == StateError {
		m.setStateLocked(StateIdle)
	}
	m.unlockAndFlush()
}

// Close stops the session for good
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopLocked()
	m.cancelRestartLocked()
	m.closed = true
	m.unlockAndFlush()

	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Manager) startLocked() {
	if m.closed {
		return
	}
	if !m.supported {
		m.failLocked(&Error{Kind: KindUnsupported, Message: "speech input is not supported on this device"}, StateIdle)
		return
	}
	if m.state != StateIdle && m.state != StateError {
		return
	}
	if m.pendingStart {
		return
	}

	m.cancelRestartLocked()
	m.lastError = nil
	if !m.consentGranted {
		m.setStateLocked(StateConsentPending)
		return
	}
	m.beginLoadLocked()
}

func (m *Manager) beginLoadLocked() {
	m.pendingStart = true
	m.attempt++
	id := m.attempt
	m.setStateLocked(StateModelLoading)
	go m.load(id)
}

func (m *Manager) load(id uint64) {
	model, err := m.loader.Load(context.Background())

	m.mu.Lock()
	defer m.unlockAndFlush()

	if id != m.attempt || m.state != StateModelLoading {
		m.log.Debug("discarding stale model load", slog.Uint64("attempt", id))
		return
	}
	m.pendingStart = false

	if err != nil {
		m.failLocked(&Error{Kind: loadError(err), Message: err.Error(), Err: err}, StateError)
		return
	}
	m.setStateLocked(StateReady)
	m.listenLocked(id, model)
}

// listenLocked opens the recognizer and the microphone for attempt id
func (m *Manager) listenLocked(id uint64, model stt.Model) {
	rec, err := stt.NewRecognizer(model, m.opts.SampleRate, &listener{m: m, attempt: id}, m.arbiter, stt.RecognizerOptions{
		QueueFrames: m.opts.QueueFrames,
		Clock:       m.clock,
		Logger:      m.log,
		OnDrop:      m.opts.OnFrameDropped,
	})
	if err != nil {
		ee := stt.AsEngineError(err)
		m.failLocked(&Error{Kind: KindRecognizerError, Code: ee.Code, Message: ee.Error(), Err: err}, StateError)
		return
	}

	stream, err := m.pipeline.Open(m.opts.SampleRate, func(frame []byte) { rec.Feed(frame) }, m.onVolume)
	if err != nil {
		rec.Dispose()
		m.failLocked(&Error{Kind: captureError(err), Message: err.Error(), Err: err}, StateError)
		return
	}
	stream.OnLost(func(err error) { go m.deviceLost(id, err) })

	m.recognizer = rec
	m.stream = stream
	m.sessionID = uuid.NewString()
	m.setStateLocked(StateListening)
	m.log.Info("listening", slog.String("session", m.sessionID))
}

func (m *Manager) stopLocked() {
	switch m.state {
	case StateListening, StateReady:
		m.teardownLocked()
		m.setStateLocked(StateIdle)
	case StateModelLoading:
		// invalidate the attempt; the loader keeps going in the background
		m.attempt++
		m.pendingStart = false
		m.setStateLocked(StateIdle)
	case StateConsentPending:
		m.setStateLocked(StateIdle)
	case StateError:
		m.cancelRestartLocked()
	}
}

// teardownLocked releases the stream and recognizer and resets the arbiter
func (m *Manager) teardownLocked() {
	if m.stream != nil {
		if err := m.stream.Close(); err != nil {
			m.log.Warn("failed to close audio stream", slog.String("error", err.Error()))
		}
		m.stream = nil
	}
	if m.recognizer != nil {
		m.recognizer.Dispose()
		m.recognizer = nil
	}
	m.arbiter.Reset()
	m.volume.Store(0)
	m.sessionID = ""
}

func (m *Manager) failLocked(e *Error, next State) {
	if e.At.IsZero() {
		e.At = m.clock.Now()
	}
	m.lastError = e
	m.log.Warn("speech session error", slog.String("kind", string(e.Kind)), slog.String("error", e.Message))
	m.setStateLocked(next)
	m.outbox = append(m.outbox, func() { m.errors.Publish(e) })
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug("session state", slog.String("from", m.state.String()), slog.String("to", s.String()))
	m.state = s
	m.outbox = append(m.outbox, func() { m.states.Publish(s) })
}

// unlockAndFlush releases the lock and then dispatches queued events
func (m *Manager) unlockAndFlush() {
	events := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, ev := range events {
		ev()
	}
}

// recognizerFailed handles a terminal engine error for attempt id
func (m *Manager) recognizerFailed(id uint64, err *stt.EngineError) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if id != m.attempt || m.state != StateListening {
		return
	}
	e := &Error{Kind: KindRecognizerError, Code: err.Code, Message: err.Error(), Err: err, SessionID: m.sessionID}
	m.teardownLocked()
	m.failLocked(e, StateError)
	m.scheduleRestartLocked(e)
}

func (m *Manager) deviceLost(id uint64, err error) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if id != m.attempt || m.state != StateListening {
		return
	}
	e := &Error{Kind: KindDeviceUnavailable, Message: err.Error(), Err: err, SessionID: m.sessionID}
	m.teardownLocked()
	m.failLocked(e, StateError)
}

func (m *Manager) scheduleRestartLocked(e *Error) {
	policy := m.opts.Restart
	if e.Permission() || policy.MaxRestarts <= 0 || m.restarts >= policy.MaxRestarts {
		return
	}

	if m.backoff == nil {
		m.backoff = backoff.NewExponentialBackOff()
		if policy.InitialInterval > 0 {
			m.backoff.InitialInterval = policy.InitialInterval
		}
		if policy.MaxInterval > 0 {
			m.backoff.MaxInterval = policy.MaxInterval
		}
		m.backoff.RandomizationFactor = policy.Jitter
		m.backoff.Reset()
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	m.restarts++
	attempt := m.attempt
	m.log.Info("scheduling recognizer restart",
		slog.Int("restart", m.restarts),
		slog.Int("max_restarts", policy.MaxRestarts),
		slog.Duration("delay", delay))
	m.restartTimer = m.clock.AfterFunc(delay, func() { m.restart(attempt) })
}

func (m *Manager) restart(attempt uint64) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if m.restartTimer == nil || attempt != m.attempt || m.state != StateError {
		return
	}
	m.restartTimer = nil
	m.startLocked()
}

func (m *Manager) cancelRestartLocked() {
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
}

func (m *Manager) emitNumber(value int) {
	m.numbers.Publish(value)
}

func (m *Manager) onVolume(level float64) {
	m.volume.Store(math.Float64bits(level))
	m.volumes.Publish(level)
}

func (m *Manager) currentVolume() float64 {
	return math.Float64frombits(m.volume.Load())
}

func (m *Manager) onProgress(percent int) {
	m.mu.Lock()
	m.progress = percent
	m.hasProgress = true
	m.mu.Unlock()
}

type listener struct {
	m       *Manager
	attempt uint64
}

func (l *listener) OnTranscript(t stt.Transcript) {
	l.m.transcripts.Publish(t)
}

// OnError runs on the decode goroutine, which holds no recognizer lock, so
// tearing the recognizer down from here is safe
func (l *listener) OnError(err *stt.EngineError) {
	l.m.recognizerFailed(l.attempt, err)
}
