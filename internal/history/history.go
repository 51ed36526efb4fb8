// Package history records finished dump sessions in SQLite so they can be
// listed and inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no session matches an id.
	ErrNotFound = errors.New("session not found")
	// ErrAmbiguous is returned when an id prefix matches several sessions.
	ErrAmbiguous = errors.New("session id prefix is ambiguous")
)

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 20

// Fixed-width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Session is one recorded dump.
type Session struct {
	ID          string    `json:"id"`
	Feature     string    `json:"feature"`
	Destination string    `json:"destination,omitempty"`
	State       string    `json:"state"`
	Attempted   int       `json:"attempted"`
	Responded   int       `json:"responded"`
	Interrupted bool      `json:"interrupted"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Daemons     []Daemon  `json:"daemons,omitempty"`
}

// Daemon is the recorded outcome of one dispatched daemon.
type Daemon struct {
	Seq       int           `json:"seq"`
	Name      string        `json:"daemon"`
	Outcome   string        `json:"outcome"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	OutputLen int           `json:"output_bytes"`
	Error     string        `json:"error,omitempty"`
}

// Duration is how long the session ran.
func (s Session) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Store reads and writes sessions.
type Store struct {
	db *sql.DB
}

// New wraps an open history database (see storage.OpenSQLite).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts s and its daemons in one transaction.
func (s *Store) Record(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if sess.Feature == "" {
		return fmt.Errorf("session feature is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO dump_session(
  id, feature, destination, state, attempted, responded, interrupted, error, started_at, finished_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, sess.ID, sess.Feature, nullString(sess.Destination), sess.State, sess.Attempted, sess.Responded,
		boolInt(sess.Interrupted), nullString(sess.Error), formatTime(sess.StartedAt), formatTime(sess.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, d := range sess.Daemons {
		seq := d.Seq
		if seq == 0 {
			seq = i + 1
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO dump_daemon(session_id, seq, daemon, outcome, elapsed_ms, output_len, error)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, sess.ID, seq, d.Name, d.Outcome, d.Elapsed.Milliseconds(), d.OutputLen, nullString(d.Error))
		if err != nil {
			return fmt.Errorf("insert daemon %s: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

const sessionColumns = `id, feature, destination, state, attempted, responded, interrupted, error, started_at, finished_at`

// List returns the newest sessions first, without daemon rows.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sessionColumns+`
FROM dump_session
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Get returns the session whose id equals or uniquely starts with id,
// including its daemons in dispatch order.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+sessionColumns+`
FROM dump_session
WHERE id = ? OR substr(id, 1, ?) = ?
ORDER BY id = ? DESC
LIMIT 2;
`, id, len(id), id, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var matches []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		matches = append(matches, sess)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case matches[0].ID == id, len(matches) == 1:
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}

	sess := matches[0]
	daemons, err := s.daemons(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Daemons = daemons
	return &sess, nil
}

func (s *Store) daemons(ctx context.Context, sessionID string) ([]Daemon, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, daemon, outcome, elapsed_ms, output_len, error
FROM dump_daemon
WHERE session_id = ?
ORDER BY seq ASC;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list daemons: %w", err)
	}
	defer rows.Close()

	var out []Daemon
	for rows.Next() {
		var (
			d         Daemon
			elapsedMS int64
			errText   sql.NullString
		)
		if err := rows.Scan(&d.Seq, &d.Name, &d.Outcome, &elapsedMS, &d.OutputLen, &errText); err != nil {
			return nil, fmt.Errorf("scan daemon: %w", err)
		}
		d.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		d.Error = errText.String
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess        Session
		destination sql.NullString
		errText     sql.NullString
		interrupted int
		startedAtS  string
		finishedAtS string
	)
	err := row.Scan(&sess.ID, &sess.Feature, &destination, &sess.State, &sess.Attempted, &sess.Responded,
		&interrupted, &errText, &startedAtS, &finishedAtS)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Destination = destination.String
	sess.Error = errText.String
	sess.Interrupted = interrupted != 0
	if t, err := time.Parse(timeLayout, startedAtS); err == nil {
		sess.StartedAt = t
	}
	if t, err := time.Parse(timeLayout, finishedAtS); err == nil {
		sess.FinishedAt = t
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
