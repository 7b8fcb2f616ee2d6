package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// LedgerFile is the ledger database name inside the data directory.
const LedgerFile = "ingest.db"

// Entry is the ledger row of one indexed episode.
type Entry struct {
	EpisodeID   string
	Index       string
	Path        string
	ContentHash string
	Chunks      int
	RunID       string
	IndexedAt   time.Time
}

// Run summarizes one ingestion run.
type Run struct {
	ID         string
	Index      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Episodes   int
	Skipped    int
	Chunks     int
}

// Ledger records which episodes are indexed and with what content, so
// unchanged transcripts are skipped on the next run.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger at path. An empty path keeps the
// ledger in memory.
func OpenLedger(path string) (*Ledger, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One connection: a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		index_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		episodes INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS episodes (
		index_name TEXT NOT NULL,
		episode_id TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		indexed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (index_name, episode_id)
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// BeginRun starts a run and returns its id.
func (l *Ledger) BeginRun(ctx context.Context, index string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, index_name, started_at) VALUES (?, ?, ?)`,
		id, index, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the totals of a run.
func (l *Ledger) FinishRun(ctx context.Context, id string, episodes, skipped, chunks int) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, episodes = ?, skipped = ?, chunks = ?
		WHERE id = ?
	`, time.Now().UTC(), episodes, skipped, chunks, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Lookup returns the entry for an episode of index.
func (l *Ledger) Lookup(ctx context.Context, index, episodeID string) (Entry, bool, error) {
	e := Entry{Index: index, EpisodeID: episodeID}
	err := l.db.QueryRowContext(ctx, `
		SELECT path, content_hash, chunks, run_id, indexed_at
		FROM episodes WHERE index_name = ? AND episode_id = ?
	`, index, episodeID).Scan(&e.Path, &e.ContentHash, &e.Chunks, &e.RunID, &e.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup episode: %w", err)
	}
	return e, true, nil
}

// Entries lists the indexed episodes of index by episode id.
func (l *Ledger) Entries(ctx context.Context, index string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT episode_id, path, content_hash, chunks, run_id, indexed_at
		FROM episodes WHERE index_name = ?
		ORDER BY episode_id
	`, index)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e := Entry{Index: index}
		if err := rows.Scan(&e.EpisodeID, &e.Path, &e.ContentHash, &e.Chunks, &e.RunID, &e.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return entries, nil
}

// Record upserts an episode entry.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.IndexedAt.IsZero() {
		e.IndexedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO episodes (index_name, episode_id, path, content_hash, chunks, run_id, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, episode_id) DO UPDATE SET
			path = excluded.path,
			content_hash = excluded.content_hash,
			chunks = excluded.chunks,
			run_id = excluded.run_id,
			indexed_at = excluded.indexed_at
	`, e.Index, e.EpisodeID, e.Path, e.ContentHash, e.Chunks, e.RunID, e.IndexedAt)
	if err != nil {
		return fmt.Errorf("record episode: %w", err)
	}
	return nil
}

// Reset forgets every episode of index. Used when the index is recreated.
func (l *Ledger) Reset(ctx context.Context, index string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM episodes WHERE index_name = ?`, index); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

// LastRun returns the most recent run of index.
func (l *Ledger) LastRun(ctx context.Context, index string) (Run, bool, error) {
	var r Run
	var finished sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT id, index_name, started_at, finished_at, episodes, skipped, chunks
		FROM runs WHERE index_name = ?
		ORDER BY started_at DESC LIMIT 1
	`, index).Scan(&r.ID, &r.Index, &r.StartedAt, &finished, &r.Episodes, &r.Skipped, &r.Chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("last run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, true, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
