package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/emmett/zahl/internal/audio"
	"github.com/emmett/zahl/internal/audio/audiotest"
)

func TestFrameSamples(t *testing.T) {
	if got := audio.FrameSamples(16000); got != 4096 {
		t.Fatalf("expected 4096 samples at 16kHz, got %d", got)
	}
	if got := audio.FrameSamples(48000); got != 12288 {
		t.Fatalf("expected 12288 samples at 48kHz, got %d", got)
	}
}

func TestPipelineReframesDevicePeriods(t *testing.T) {
	backend := &audiotest.Backend{}
	p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

	var frames [][]byte
	var levels []float64
	stream, err := p.Open(16000,
		func(frame []byte) { frames = append(frames, frame) },
		func(level float64) { levels = append(levels, level) })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	if backend.Config().SampleRate != 16000 {
		t.Fatalf("backend opened at %d Hz", backend.Config().SampleRate)
	}

	// 480-sample periods do not divide 4096; 20 periods make 2 frames
	for i := 0; i < 20; i++ {
		backend.Emit(audiotest.Tone(480, 16384))
	}

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f) != 4096*2 {
			t.Fatalf("expected %d bytes per frame, got %d", 4096*2, len(f))
		}
	}
	if len(levels) != 2 || math.Abs(levels[0]-0.5) > 1e-9 {
		t.Fatalf("unexpected volume levels %v", levels)
	}
	if stream.Frames() != 2 {
		t.Fatalf("expected frame counter 2, got %d", stream.Frames())
	}
}

func TestPipelineSecondOpenIsBusy(t *testing.T) {
	backend := &audiotest.Backend{}
	p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

	first, err := p.Open(16000, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := p.Open(16000, nil, nil); !errors.Is(err, audio.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := p.Open(16000, nil, nil)
	if err != nil {
		t.Fatalf("Open after close: %v", err)
	}
	second.Close()

	if backend.Live() != 0 {
		t.Fatalf("expected no live devices, got %d", backend.Live())
	}
}

func TestStreamCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	backend := &audiotest.Backend{}
	p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

	delivered := 0
	stream, err := p.Open(16000, func([]byte) { delivered++ }, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stream.Close()
	stream.Close()

	if backend.Closes() != 1 {
		t.Fatalf("expected one device close, got %d", backend.Closes())
	}
	if backend.Emit(audiotest.Tone(4096, 100)) {
		t.Fatal("closed device should not accept data")
	}
	if delivered != 0 || p.Active() {
		t.Fatalf("delivered=%d active=%v after close", delivered, p.Active())
	}
}

func TestPipelineOpenErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "permission", err: errors.New("Permission denied by user"), want: audio.ErrPermissionDenied},
		{name: "not allowed", err: errors.New("NotAllowedError"), want: audio.ErrPermissionDenied},
		{name: "engine code", err: errors.New("mic-not-allowed"), want: audio.ErrPermissionDenied},
		{name: "snake case", err: errors.New("PERMISSION_DENIED"), want: audio.ErrPermissionDenied},
		{name: "missing device", err: errors.New("no such device"), want: audio.ErrDeviceUnavailable},
		{name: "access failure", err: errors.New("failed to access device"), want: audio.ErrDeviceUnavailable},
		{name: "already classified", err: audio.ErrPermissionDenied, want: audio.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &audiotest.Backend{OpenErr: tt.err}
			p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

			_, err := p.Open(16000, nil, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if p.Active() {
				t.Fatal("failed open must not hold the pipeline")
			}
		})
	}
}

func TestStreamReportsLostDevice(t *testing.T) {
	backend := &audiotest.Backend{}
	p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

	stream, err := p.Open(16000, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	var lost []error
	stream.OnLost(func(err error) { lost = append(lost, err) })

	backend.Lose()
	backend.Lose()

	if len(lost) != 1 || !errors.Is(lost[0], audio.ErrDeviceUnavailable) {
		t.Fatalf("expected one ErrDeviceUnavailable, got %v", lost)
	}
}

func TestStreamLostBeforeRegistration(t *testing.T) {
	backend := &audiotest.Backend{}
	p := audio.NewPipeline(backend, audio.DefaultConfig(), nil)

	stream, err := p.Open(16000, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	backend.Lose()

	called := false
	stream.OnLost(func(error) { called = true })
	if !called {
		t.Fatal("late registration should still observe the loss")
	}
}

func TestSupported(t *testing.T) {
	if !audio.NewPipeline(&audiotest.Backend{}, audio.DefaultConfig(), nil).Supported() {
		t.Fatal("expected supported")
	}
	if audio.NewPipeline(&audiotest.Backend{ProbeErr: audio.ErrDeviceUnavailable}, audio.DefaultConfig(), nil).Supported() {
		t.Fatal("expected unsupported when probe fails")
	}
	if audio.NewPipeline(nil, audio.DefaultConfig(), nil).Supported() {
		t.Fatal("expected unsupported without backend")
	}
}
