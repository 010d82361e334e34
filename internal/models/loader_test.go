package models

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emmett/zahl/internal/clock"
	"github.com/emmett/zahl/internal/stt"
	"github.com/emmett/zahl/internal/stt/stttest"
)

const testModel = "vosk-model-small-de-0.15"

func modelArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func serveArchive(t *testing.T, archive []byte, failures int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := hits.Add(1); n <= int64(failures) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoadMemoizesConcurrentCalls(t *testing.T) {
	model := stttest.NewModel()
	factory := &stttest.Factory{Model: model, Block: make(chan struct{})}
	loader := NewLoader(LoaderConfig{ModelPath: t.TempDir()}, nil, factory, nil, nil)
	defer loader.Close()

	var wg sync.WaitGroup
	results := make([]stt.Model, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := loader.Load(context.Background())
			if err != nil {
				t.Errorf("Load: %v", err)
			}
			results[i] = m
		}(i)
	}

	waitFor(t, func() bool { return factory.Calls() == 1 })
	close(factory.Block)
	wg.Wait()

	if factory.Calls() != 1 || loader.Attempts() != 1 {
		t.Fatalf("expected one construction, got calls=%d attempts=%d", factory.Calls(), loader.Attempts())
	}
	for _, m := range results {
		if m != stt.Model(model) {
			t.Fatal("callers received different models")
		}
	}

	if _, err := loader.Load(context.Background()); err != nil || factory.Calls() != 1 {
		t.Fatalf("ready model should be memoized (err=%v calls=%d)", err, factory.Calls())
	}
	if !loader.Ready() || loader.Progress() != 100 {
		t.Fatalf("expected ready at 100%%, got ready=%v progress=%d", loader.Ready(), loader.Progress())
	}
}

func TestLoadDownloadsAndExtracts(t *testing.T) {
	archive := modelArchive(t, map[string]string{
		testModel + "/am/final.mdl":    "acoustic",
		testModel + "/conf/model.conf": "conf",
	})
	srv, _ := serveArchive(t, archive, 0)

	dir := t.TempDir()
	store := NewStore(dir, srv.Client())
	factory := &stttest.Factory{Model: stttest.NewModel()}
	loader := NewLoader(LoaderConfig{ModelName: testModel, ModelURL: srv.URL + "/model.zip"}, store, factory, nil, nil)
	defer loader.Close()

	var mu sync.Mutex
	var progress []int
	loader.OnProgress(func(p int) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, testModel, "am", "final.mdl")); err != nil {
		t.Fatalf("model not extracted: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the model directory, found %d entries", len(entries))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("expected progress to end at 100, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("progress not monotonic: %v", progress)
		}
	}
}

func TestLoadSkipsDownloadWhenExtracted(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, testModel), 0o755); err != nil {
		t.Fatal(err)
	}
	srv, hits := serveArchive(t, nil, 0)

	factory := &stttest.Factory{Model: stttest.NewModel()}
	loader := NewLoader(LoaderConfig{ModelName: testModel, ModelURL: srv.URL}, NewStore(dir, srv.Client()), factory, nil, nil)
	defer loader.Close()

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no download, got %d requests", hits.Load())
	}
}

func TestFailedDownloadIsRetriedFromScratch(t *testing.T) {
	archive := modelArchive(t, map[string]string{testModel + "/README": "x"})
	srv, hits := serveArchive(t, archive, 1)

	dir := t.TempDir()
	factory := &stttest.Factory{Model: stttest.NewModel()}
	loader := NewLoader(LoaderConfig{ModelName: testModel, ModelURL: srv.URL}, NewStore(dir, srv.Client()), factory, nil, nil)
	defer loader.Close()

	_, err := loader.Load(context.Background())
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("partial files left behind: %d entries", len(entries))
	}
	if loader.Loading() || loader.Ready() {
		t.Fatal("failed attempt must not stay in flight or ready")
	}

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if hits.Load() != 2 || loader.Attempts() != 2 {
		t.Fatalf("expected two requests and attempts, got %d/%d", hits.Load(), loader.Attempts())
	}
}

func TestUnknownModelWithoutURL(t *testing.T) {
	loader := NewLoader(LoaderConfig{ModelName: "vosk-model-xx"}, NewStore(t.TempDir(), nil), &stttest.Factory{}, nil, nil)
	defer loader.Close()

	_, err := loader.Load(context.Background())
	if !errors.Is(err, ErrDownloadFailed) || !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected unknown model download failure, got %v", err)
	}
}

func TestInitTimeoutClosesLateModel(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	model := stttest.NewModel()
	factory := &stttest.Factory{Model: model, Block: make(chan struct{})}
	loader := NewLoader(LoaderConfig{ModelPath: t.TempDir()}, nil, factory, clk, nil)
	defer loader.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := loader.Load(context.Background())
		errs <- err
	}()

	waitFor(t, func() bool { return clk.Pending() == 1 })
	clk.Advance(DefaultInitTimeout)

	if err := <-errs; !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("expected ErrInitTimeout, got %v", err)
	}
	if loader.Ready() {
		t.Fatal("timed out load must not be memoized")
	}

	close(factory.Block)
	waitFor(t, func() bool { return model.Closes() == 1 })

	// factory no longer blocks, so the retry completes before the deadline
	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

type lazyModel struct {
	*stttest.Model
	ready chan error
}

func (m *lazyModel) Ready() <-chan error { return m.ready }

func TestLoadWaitsForReadiness(t *testing.T) {
	tests := []struct {
		name    string
		signal  error
		wantErr error
	}{
		{name: "ready", signal: nil},
		{name: "init error", signal: errors.New("corrupt graph"), wantErr: ErrInitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &lazyModel{Model: stttest.NewModel(), ready: make(chan error, 1)}
			loader := NewLoader(LoaderConfig{ModelPath: t.TempDir()}, nil, &stttest.Factory{Model: model}, nil, nil)
			defer loader.Close()

			model.ready <- tt.signal
			_, err := loader.Load(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil && model.Closes() != 1 {
				t.Fatalf("failed model should be closed, got %d closes", model.Closes())
			}
		})
	}
}

func TestLoadContextOnlyBoundsTheWait(t *testing.T) {
	factory := &stttest.Factory{Model: stttest.NewModel(), Block: make(chan struct{})}
	loader := NewLoader(LoaderConfig{ModelPath: t.TempDir()}, nil, factory, nil, nil)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(factory.Block)
	waitFor(t, loader.Ready)
	if factory.Calls() != 1 {
		t.Fatalf("expected the abandoned attempt to finish once, got %d calls", factory.Calls())
	}
}

func TestLoaderClose(t *testing.T) {
	model := stttest.NewModel()
	loader := NewLoader(LoaderConfig{ModelPath: t.TempDir()}, nil, &stttest.Factory{Model: model}, nil, nil)

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	loader.Close()
	loader.Close()

	if model.Closes() != 1 {
		t.Fatalf("expected model closed once, got %d", model.Closes())
	}
	if _, err := loader.Load(context.Background()); !errors.Is(err, ErrLoaderClosed) {
		t.Fatalf("expected ErrLoaderClosed, got %v", err)
	}
}
