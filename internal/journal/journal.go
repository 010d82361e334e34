// Package journal records recognized numbers, transcripts and errors in SQLite
// so recent activity can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry kinds
const (
	KindNumber     = "number"
	KindTranscript = "transcript"
	KindError      = "error"
)

// DefaultMaxEntries bounds the journal when no retention is configured
const DefaultMaxEntries = 1000

// Entry is one journal row
type Entry struct {
	ID        int64
	SessionID string
	Kind      string
	Value     int
	Text      string
	Final     bool
	CreatedAt time.Time
}

// Config controls where and how much is kept
type Config struct {
	// Path of the database file; empty disables the journal
	Path string

	// MaxEntries keeps only the newest rows; zero uses DefaultMaxEntries
	MaxEntries int
}

// Journal is a SQLite-backed recognition log
type Journal struct {
	db    *sql.DB
	cfg   Config
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal. With an empty path every call is a no-op.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Journal, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	j := &Journal{cfg: cfg, log: log, clock: time.Now}
	if cfg.Path == "" {
		return j, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	j.db = db

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    value INTEGER,
    text TEXT,
    final INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_kind_id ON entries(kind, id);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

// Enabled reports whether entries are persisted
func (j *Journal) Enabled() bool {
	return j.db != nil
}

// Close releases underlying resources
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes an entry
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock()
	}
	final := 0
	if e.Final {
		final = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries(session_id, kind, value, text, final, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Kind, e.Value, e.Text, final, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Recent returns up to limit entries of kind, newest first. An empty kind
// matches every entry.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, session_id, kind, value, text, final, created_at FROM entries`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			value   sql.NullInt64
			text    sql.NullString
			final   int
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &value, &text, &final, &created); err != nil {
			return nil, err
		}
		e.Final = final != 0
		e.Value = int(value.Int64)
		e.Text = text.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune keeps only the newest MaxEntries rows
func (j *Journal) Prune(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM entries WHERE id IN (SELECT id FROM entries ORDER BY id DESC LIMIT -1 OFFSET ?)`,
		j.cfg.MaxEntries)
	return err
}
