package dispatchlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"signalflow/internal/dispatch"
)

// Store keeps one row per wire attempt so an operator can replay how a
// dispatch played out even after the dispatcher's in-memory state is gone.
type Store struct {
	db     *sql.DB
	path   string
	ownsDB bool
}

// AttemptRow is a persisted wire attempt.
type AttemptRow struct {
	SignalID  string
	AccountID string
	Seq       int
	Outcome   string
	Error     string
	BackoffMS int64
	State     string
	At        time.Time
}

// New opens (or creates) the attempt journal at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("dispatch log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB reuses a connection opened elsewhere (e.g. by the gorm
// order store) so both stores share one SQLite handle.
func (s *Store) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("dispatch log store is nil")
	}
	if db == nil {
		return fmt.Errorf("external db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// Close closes the underlying handle if this store owns it.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append persists every attempt of a finished dispatch.
func (s *Store) Append(res dispatch.Result) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dispatch log store is not open")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO dispatch_attempts
		(signal_id, account_id, seq, outcome, error, backoff_ms, state, at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, a := range res.Attempts {
		if _, err := stmt.Exec(
			res.SignalID, res.AccountID,
			a.Seq, a.Outcome, a.Error,
			a.Backoff.Milliseconds(), string(res.State), a.At.Unix(),
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Attempts returns the wire history of one dispatch in attempt order.
func (s *Store) Attempts(signalID, accountID string) ([]AttemptRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dispatch log store is not open")
	}
	rows, err := s.db.Query(`SELECT signal_id, account_id, seq, outcome, error, backoff_ms, state, at_unix
		FROM dispatch_attempts WHERE signal_id = ? AND account_id = ? ORDER BY seq ASC`,
		signalID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Recent returns the newest attempts across all dispatches, newest first.
func (s *Store) Recent(limit int) ([]AttemptRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dispatch log store is not open")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT signal_id, account_id, seq, outcome, error, backoff_ms, state, at_unix
		FROM dispatch_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]AttemptRow, error) {
	var out []AttemptRow
	for rows.Next() {
		var r AttemptRow
		var atUnix int64
		if err := rows.Scan(&r.SignalID, &r.AccountID, &r.Seq, &r.Outcome, &r.Error, &r.BackoffMS, &r.State, &atUnix); err != nil {
			return nil, err
		}
		r.At = time.Unix(atUnix, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
