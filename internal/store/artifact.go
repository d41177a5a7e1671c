package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("not found")

// Kind identifies what an artifact file holds.
type Kind string

const (
	KindExport   Kind = "export"
	KindSnapshot Kind = "snapshot"
)

// Artifact is a file written on user request.
type Artifact struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Format     string         `json:"format,omitempty"`
	Path       string         `json:"path"`
	SourceKind string         `json:"source_kind,omitempty"`
	Detections int            `json:"detections"`
	Classes    map[string]int `json:"classes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ArtifactRepository provides CRUD operations for artifacts.
type ArtifactRepository struct {
	db *sql.DB
}

// Artifacts returns the artifact repository for this store.
func (s *Store) Artifacts() *ArtifactRepository {
	return &ArtifactRepository{db: s.db}
}

// Create inserts an artifact and its class counts in a single transaction.
// An empty ID is filled with a new UUID.
func (r *ArtifactRepository) Create(a *Artifact) error {
	if a.Kind != KindExport && a.Kind != KindSnapshot {
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO artifacts (id, kind, format, path, source_kind, detections, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.Format, a.Path, a.SourceKind, a.Detections, a.CreatedAt,
	)
	if err != nil {
		return err
	}

	if len(a.Classes) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO artifact_classes (artifact_id, class_name, count) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for name, count := range a.Classes {
			if _, err := stmt.Exec(a.ID, name, count); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetByID retrieves an artifact by its ID.
func (r *ArtifactRepository) GetByID(id string) (*Artifact, error) {
	a := &Artifact{}
	var kind string

	err := r.db.QueryRow(
		`SELECT id, kind, format, path, source_kind, detections, created_at
		 FROM artifacts WHERE id = ?`,
		id,
	).Scan(&a.ID, &kind, &a.Format, &a.Path, &a.SourceKind, &a.Detections, &a.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Kind = Kind(kind)

	if a.Classes, err = r.classes(a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// List retrieves artifacts newest first. An empty kind lists every kind.
func (r *ArtifactRepository) List(kind Kind) ([]*Artifact, error) {
	query := `SELECT id, kind, format, path, source_kind, detections, created_at FROM artifacts`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a := &Artifact{}
		var k string
		if err := rows.Scan(&a.ID, &k, &a.Format, &a.Path, &a.SourceKind, &a.Detections, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = Kind(k)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, a := range artifacts {
		if a.Classes, err = r.classes(a.ID); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

// Delete removes an artifact record by its ID. The file itself is left alone.
func (r *ArtifactRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *ArtifactRepository) classes(id string) (map[string]int, error) {
	rows, err := r.db.Query(`SELECT class_name, count FROM artifact_classes WHERE artifact_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes map[string]int
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		if classes == nil {
			classes = make(map[string]int)
		}
		classes[name] = count
	}
	return classes, rows.Err()
}
