// Package arbiter turns a burst of number candidates from partial and final
// transcripts into a single emitted value per utterance.
package arbiter

import (
	"sync"
	"time"

	"github.com/emmett/zahl/internal/clock"
)

const (
	// DefaultDebounce is how long a candidate must stay unchallenged before it is emitted
	DefaultDebounce = 350 * time.Millisecond

	// DefaultRepeatWindow suppresses the same value reported again by a later
	// partial or final result of the same utterance
	DefaultRepeatWindow = 1500 * time.Millisecond
)

// Candidate is a tentative number waiting for the debounce window to close
type Candidate struct {
	Value       int
	FirstSeenAt time.Time
}

// Config holds arbiter timing
type Config struct {
	Debounce     time.Duration
	RepeatWindow time.Duration
}

// DefaultConfig returns the standard timing
func DefaultConfig() Config {
	return Config{
		Debounce:     DefaultDebounce,
		RepeatWindow: DefaultRepeatWindow,
	}
}

type emission struct {
	value int
	at    time.Time
}

// Arbiter holds a single pending candidate and emits it once the debounce
// timer fires. It is safe for concurrent use.
type Arbiter struct {
	cfg    Config
	clock  clock.Clock
	onEmit func(int)

	mu          sync.Mutex
	pending     *Candidate
	timer       clock.Timer
	generation  uint64
	lastEmitted *emission
}

// New creates an Arbiter that calls onEmit for every committed value.
// onEmit runs on the timer goroutine without the arbiter lock held.
func New(cfg Config, clk clock.Clock, onEmit func(int)) *Arbiter {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RepeatWindow < 0 {
		cfg.RepeatWindow = 0
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Arbiter{cfg: cfg, clock: clk, onEmit: onEmit}
}

// Accept offers a candidate observed at now. It reports whether the
// candidate took the pending slot; repeats of the last emitted value inside
// the repeat window are discarded.
func (a *Arbiter) Accept(value int, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastEmitted != nil && a.lastEmitted.value == value && now.Sub(a.lastEmitted.at) < a.cfg.RepeatWindow {
		return false
	}

	firstSeen := now
	if a.pending != nil && a.pending.Value == value {
		firstSeen = a.pending.FirstSeenAt
	}
	a.pending = &Candidate{Value: value, FirstSeenAt: firstSeen}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.generation++
	gen := a.generation
	a.timer = a.clock.AfterFunc(a.cfg.Debounce, func() { a.fire(gen) })
	return true
}

// Pending returns the candidate currently waiting, if any
func (a *Arbiter) Pending() (Candidate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return Candidate{}, false
	}
	return *a.pending, true
}

// Reset drops the pending candidate, cancels the timer and forgets the last
// emission.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.generation++
	a.pending = nil
	a.lastEmitted = nil
}

func (a *Arbiter) fire(gen uint64) {
	a.mu.Lock()
	// a stale timer may still run after Stop lost the race; the generation guards it
	if gen != a.generation || a.pending == nil {
		a.mu.Unlock()
		return
	}
	value := a.pending.Value
	a.pending = nil
	a.timer = nil
	a.lastEmitted = &emission{value: value, at: a.clock.Now()}
	onEmit := a.onEmit
	a.mu.Unlock()

	if onEmit != nil {
		onEmit(value)
	}
}
