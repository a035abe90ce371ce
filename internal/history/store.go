// Package history keeps a SQLite journal of playback sessions: which URL
// played in which slot, for how long, and why it stopped.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"player-grid/internal/scheduler"

	_ "modernc.org/sqlite"
)

// Entry is one journaled session.
type Entry struct {
	ID        string
	Slot      int
	URL       string
	StartedAt time.Time
	EndedAt   *time.Time
	Reason    string
}

// Duration returns how long the session ran, or zero while it is live.
func (e Entry) Duration() time.Duration {
	if e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal at path. Use ":memory:" in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// Session goroutines write concurrently; a single connection keeps
	// SQLite from returning SQLITE_BUSY and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "history")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			slot INTEGER NOT NULL,
			url TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Started records a new session.
func (s *Store) Started(ctx context.Context, id string, slot int, url string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, slot, url, started_at) VALUES (?, ?, ?, ?)`,
		id, slot, url, at.UTC())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// Ended closes a session with the given reason.
func (s *Store) Ended(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ? WHERE id = ?`,
		at.UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slot, url, started_at, ended_at, reason
		 FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			ended sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Slot, &e.URL, &e.StartedAt, &ended, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			e.EndedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CloseDangling marks sessions left open by a crash as ended.
func (s *Store) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ? WHERE ended_at IS NULL`,
		at.UTC(), "abandoned")
	if err != nil {
		return 0, fmt.Errorf("close dangling sessions: %w", err)
	}
	return res.RowsAffected()
}

// Recorder adapts the store to scheduler.Recorder. Write failures are
// logged and never reach the scheduler.
func (s *Store) Recorder() scheduler.Recorder {
	return recorder{store: s}
}

type recorder struct {
	store *Store
}

func (r recorder) SessionStarted(sess *scheduler.Session) {
	if err := r.store.Started(context.Background(), sess.ID, sess.Slot, sess.URL, sess.StartedAt); err != nil {
		r.store.logger.Warn("record start failed", "session", sess.ID, "error", err)
	}
}

func (r recorder) SessionEnded(sess *scheduler.Session, reason scheduler.EndReason) {
	if err := r.store.Ended(context.Background(), sess.ID, string(reason), time.Now()); err != nil {
		r.store.logger.Warn("record end failed", "session", sess.ID, "error", err)
	}
}
