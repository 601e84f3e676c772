package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per decode run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'decode',
			status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'finished', 'failed')),
			palette TEXT NOT NULL DEFAULT '[]',
			separator TEXT,
			program TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Emitted symbols, in order
		`CREATE TABLE IF NOT EXISTS tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			symbol TEXT NOT NULL CHECK(length(symbol) = 1),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, position)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tokens_session_id ON tokens(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
