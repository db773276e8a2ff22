// Package history keeps a SQLite log of picker sessions and export
// attempts, successful or not.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/blockshot/dbopen"
	"github.com/hazyhaar/blockshot/picker/export"
)

// Session is one row of the sessions table.
type Session struct {
	ID        string     `json:"session_id"`
	PageURL   string     `json:"page_url,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// Store is the history database handle.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the history database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db), nil
}

// New wraps a database that already has the schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SessionStarted records a new session.
func (s *Store) SessionStarted(ctx context.Context, id, pageURL string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO sessions (session_id, page_url, started_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		id, pageURL, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("history: session started: %w", err)
	}
	return nil
}

// SessionEnded closes a session row. Unknown ids are ignored.
func (s *Store) SessionEnded(ctx context.Context, id, reason string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		UPDATE sessions SET ended_at = ?, end_reason = ?
		WHERE session_id = ? AND ended_at IS NULL`,
		s.now().UnixMilli(), reason, id)
	if err != nil {
		return fmt.Errorf("history: session ended: %w", err)
	}
	return nil
}

// RecordOutcome stores one export attempt.
func (s *Store) RecordOutcome(ctx context.Context, o export.Outcome) error {
	at := o.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO export_events (
			event_id, session_id, page_url, filename, bytes, width, height,
			success, error, elapsed_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.SessionID, o.PageURL, o.Filename, o.Bytes, o.Width, o.Height,
		o.Success, o.Error, o.Elapsed.Milliseconds(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record outcome: %w", err)
	}
	return nil
}

// Recent returns the latest export attempts, newest first. limit <= 0
// means 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]export.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT event_id, session_id, page_url, filename, bytes, width, height,
		       success, error, elapsed_ms, created_at
		FROM export_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []export.Outcome
	for rows.Next() {
		var o export.Outcome
		var elapsedMs, createdMs int64
		if err := rows.Scan(&o.ID, &o.SessionID, &o.PageURL, &o.Filename, &o.Bytes,
			&o.Width, &o.Height, &o.Success, &o.Error, &elapsedMs, &createdMs); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		o.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		o.At = time.UnixMilli(createdMs).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// Sessions returns the latest sessions, newest first. limit <= 0 means 50.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, page_url, started_at, ended_at, COALESCE(end_reason, '')
		FROM sessions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var ss Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&ss.ID, &ss.PageURL, &started, &ended, &ss.EndReason); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		ss.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			ss.EndedAt = &t
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// DeliveryFailed records a sink that could not take an exported artifact.
// The export itself stays successful.
func (s *Store) DeliveryFailed(ctx context.Context, a export.Artifact, cause error) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO delivery_failures (export_id, filename, error, created_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Filename, cause.Error(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("history: delivery failed: %w", err)
	}
	return nil
}

// Stats summarises the export log.
type Stats struct {
	Exports  int   `json:"exports"`
	Failures int   `json:"failures"`
	Bytes    int64 `json:"bytes"`
	// DeliveryFailures counts sink deliveries that failed after an export
	// succeeded.
	DeliveryFailures int `json:"delivery_failures"`
}

// Stats counts export attempts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(bytes), 0)
		FROM export_events`).Scan(&st.Exports, &st.Failures, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_failures`).Scan(&st.DeliveryFailures)
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	return st, nil
}

// Cleanup deletes sessions and export events older than maxAge and
// returns the number of export events removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()
	var removed int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM export_events WHERE created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_failures WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return removed, nil
}
