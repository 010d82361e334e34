package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/emmett/zahl/internal/input"
	"github.com/emmett/zahl/internal/output"
	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

// Controller is the session surface the interactive front end drives
type Controller interface {
	Start()
	Stop()
	Toggle()
	AcceptConsent()
	DeclineConsent()
	Status() session.Status
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
	OnState(cb func(session.State)) func()
	OnVolume(cb func(float64)) func()
}

// ListenOptions configures an interactive session
type ListenOptions struct {
	// Format is console, json or text
	Format string

	// OutputFile receives results instead of stdout
	OutputFile string

	// Hotkey toggles listening; empty starts immediately
	Hotkey string

	// AutoConsent accepts the consent prompt without asking
	AutoConsent bool

	// ShowLevel draws the microphone level in console mode
	ShowLevel bool

	In  io.Reader // consent answers (default os.Stdin)
	Out io.Writer // results (default os.Stdout)
	Err io.Writer // prompts and status (default os.Stderr)

	Logger *slog.Logger
}

// Listen runs an interactive session until ctx is cancelled
func Listen(ctx context.Context, ctrl Controller, opts ListenOptions) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	writer := opts.Out
	if opts.OutputFile != "" {
		f, err := os.Create(opts.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	formatter := output.New(strings.ToLower(opts.Format), writer)
	defer formatter.Close()
	detach := output.Attach(ctrl, formatter)
	defer detach()

	if console, ok := formatter.(*output.ConsoleOutput); ok && opts.ShowLevel {
		defer ctrl.OnVolume(func(level float64) { _ = console.WriteAudioLevel(level) })()
	}

	prompt := &consentPrompt{ctrl: ctrl, auto: opts.AutoConsent, in: bufio.NewReader(opts.In), out: opts.Err}
	defer ctrl.OnState(func(s session.State) {
		if s == session.StateConsentPending {
			go prompt.ask()
		}
	})()
	defer ctrl.OnError(func(e *session.Error) {
		if e.Permission() {
			fmt.Fprintln(opts.Err, "Microphone access was refused. Allow it in the system settings and try again.")
		}
	})()

	if opts.Hotkey != "" {
		hk := input.NewHotkey(ctrl, opts.Logger)
		if err := hk.Start(ctx, opts.Hotkey); err != nil {
			return fmt.Errorf("failed to start hotkey listener: %w", err)
		}
		defer hk.Stop()
		fmt.Fprintf(opts.Err, "Press %s to start or stop listening. Press Ctrl+C to exit.\n", opts.Hotkey)
	} else {
		fmt.Fprintln(opts.Err, "Say a number between null and hundert. Press Ctrl+C to stop.")
		ctrl.Start()
	}

	<-ctx.Done()
	ctrl.Stop()
	return nil
}

// consentPrompt asks once per pending start whether speech input may be used
type consentPrompt struct {
	ctrl   Controller
	auto   bool
	in     *bufio.Reader
	out    io.Writer
	asking atomic.Bool
}

func (p *consentPrompt) ask() {
	if !p.asking.CompareAndSwap(false, true) {
		return
	}
	defer p.asking.Store(false)

	if p.auto {
		p.ctrl.AcceptConsent()
		return
	}

	fmt.Fprint(p.out, "Speech is recognized on this device and never leaves it. Allow microphone use? (y/n): ")
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		p.ctrl.DeclineConsent()
		return
	}
	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "y", "yes", "j", "ja":
		p.ctrl.AcceptConsent()
	default:
		p.ctrl.DeclineConsent()
	}
}
