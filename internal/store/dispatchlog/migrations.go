package dispatchlog

import "database/sql"

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			backoff_ms INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_key ON dispatch_attempts(signal_id, account_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_at ON dispatch_attempts(at_unix DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
