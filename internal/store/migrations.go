package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Artifacts table - one row per file written on user request
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('export', 'snapshot')),
			format TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			source_kind TEXT NOT NULL DEFAULT '',
			detections INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Artifact classes table - per-class detection counts of an artifact
		`CREATE TABLE IF NOT EXISTS artifact_classes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_id TEXT NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
			class_name TEXT NOT NULL,
			count INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_artifact_classes_artifact_id ON artifact_classes(artifact_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
