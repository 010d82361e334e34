package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDisabledJournal(t *testing.T) {
	j, err := Open(context.Background(), Config{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	if j.Enabled() {
		t.Fatal("journal without path should be disabled")
	}
	if err := j.Append(context.Background(), Entry{Kind: KindNumber, Value: 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := j.Recent(context.Background(), "", 10)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected nothing recorded, got %v (%v)", entries, err)
	}
}

func TestAppendAndRecent(t *testing.T) {
	cfg := Config{Path: filepath.Join(t.TempDir(), "journal.db")}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, e := range []Entry{
		{SessionID: "s1", Kind: KindTranscript, Text: "drei", CreatedAt: at},
		{SessionID: "s1", Kind: KindTranscript, Text: "dreißig", Final: true, CreatedAt: at},
		{SessionID: "s1", Kind: KindNumber, Value: 30, CreatedAt: at},
		{SessionID: "s1", Kind: KindNumber, Value: 0, CreatedAt: at},
	} {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	numbers, err := j.Recent(ctx, KindNumber, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(numbers) != 2 || numbers[0].Value != 0 || numbers[1].Value != 30 {
		t.Fatalf("unexpected numbers %+v", numbers)
	}
	if !numbers[1].CreatedAt.Equal(at) {
		t.Fatalf("timestamp not preserved: %v", numbers[1].CreatedAt)
	}

	all, err := j.Recent(ctx, "", 2)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected limit to apply, got %d (%v)", len(all), err)
	}

	transcripts, _ := j.Recent(ctx, KindTranscript, 10)
	if len(transcripts) != 2 || !transcripts[0].Final || transcripts[0].Text != "dreißig" {
		t.Fatalf("unexpected transcripts %+v", transcripts)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	cfg := Config{Path: filepath.Join(t.TempDir(), "journal.db"), MaxEntries: 3}
	j, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := j.Append(ctx, Entry{SessionID: "s", Kind: KindNumber, Value: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 || entries[0].Value != 5 || entries[2].Value != 3 {
		t.Fatalf("unexpected entries after prune %+v", entries)
	}
}
