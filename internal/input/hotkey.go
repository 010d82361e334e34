// Package input binds a global hotkey to the listening toggle.
package input

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// Toggler is flipped on every key press
type Toggler interface {
	Toggle()
}

// Hotkey toggles a session whenever its key combination is pressed
type Hotkey struct {
	target Toggler
	log    *slog.Logger

	mu     sync.Mutex
	hk     *hotkey.Hotkey
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHotkey creates a Hotkey that toggles target
func NewHotkey(target Toggler, logger *slog.Logger) *Hotkey {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hotkey{target: target, log: logger}
}

// Start registers combo (for example "ctrl+shift+space") and listens until
// ctx ends or Stop is called
func (h *Hotkey) Start(ctx context.Context, combo string) error {
	mods, key, err := parseHotkey(combo)
	if err != nil {
		return fmt.Errorf("invalid hotkey: %w", err)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.hk, h.cancel, h.done = hk, cancel, done
	h.mu.Unlock()

	h.log.Info("hotkey registered", slog.String("combo", combo))

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-hk.Keydown():
				if !ok {
					return
				}
				h.target.Toggle()
			}
		}
	}()

	return nil
}

// Stop unregisters the hotkey
func (h *Hotkey) Stop() {
	h.mu.Lock()
	hk, cancel, done := h.hk, h.cancel, h.done
	h.hk, h.cancel, h.done = nil, nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hk != nil {
		if err := hk.Unregister(); err != nil {
			h.log.Debug("failed to unregister hotkey", slog.String("error", err.Error()))
		}
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// parseHotkey parses a hotkey string like "ctrl+shift+space" into modifiers and key
func parseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	if strings.TrimSpace(s) == "" {
		return nil, 0, fmt.Errorf("empty hotkey string")
	}

	var (
		mods     []hotkey.Modifier
		key      hotkey.Key
		keyFound bool
	)
	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		if mod, ok := modifiers[part]; ok {
			mods = append(mods, mod)
			continue
		}
		if keyFound {
			return nil, 0, fmt.Errorf("multiple keys specified")
		}
		k, ok := keys[part]
		if !ok {
			return nil, 0, fmt.Errorf("unknown key: %s", part)
		}
		key = k
		keyFound = true
	}

	if !keyFound {
		return nil, 0, fmt.Errorf("no key specified")
	}
	return mods, key, nil
}

var keys = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "enter": hotkey.KeyReturn,
	"tab": hotkey.KeyTab, "escape": hotkey.KeyEscape, "esc": hotkey.KeyEscape,

	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD, "e": hotkey.KeyE,
	"f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH, "i": hotkey.KeyI, "j": hotkey.KeyJ,
	"k": hotkey.KeyK, "l": hotkey.KeyL, "m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO,
	"p": hotkey.KeyP, "q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX, "y": hotkey.KeyY,
	"z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,

	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}
