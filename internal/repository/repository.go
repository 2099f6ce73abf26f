// Package repository provides the document snapshot storage collaboration
// hubs read from on cold start and persist to periodically: a SQLite-backed
// implementation of a Load/Persist/Count/Delete contract, with versioned
// migrations applied through goose on open.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Snapshot is the durable state for one document: its flattened text at
// ServerVersion, ready for a newly subscribing session to diff against the
// operation log.
type Snapshot struct {
	DocumentID    string
	Text          string
	Language      *string
	ServerVersion int
	UpdatedAt     time.Time
}

// DocumentRepository persists and loads document snapshots.
type DocumentRepository interface {
	Load(ctx context.Context, documentID string) (*Snapshot, error)
	Persist(ctx context.Context, snap Snapshot) error
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, documentID string) error
}

// SQLiteRepository is the default DocumentRepository.
type SQLiteRepository struct {
	db *sql.DB
}

// Open connects to the SQLite database at uri and applies pending
// migrations via goose.
func Open(uri string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Load retrieves a document's latest snapshot, or nil if none exists.
func (r *SQLiteRepository) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	var snap Snapshot
	var language sql.NullString
	var updatedAtUnix int64

	err := r.db.QueryRowContext(ctx,
		"SELECT id, text, language, version, updated_at FROM document WHERE id = ?",
		documentID,
	).Scan(&snap.DocumentID, &snap.Text, &language, &snap.ServerVersion, &updatedAtUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}

	if language.Valid {
		snap.Language = &language.String
	}
	snap.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return &snap, nil
}

// Persist upserts a document snapshot.
func (r *SQLiteRepository) Persist(ctx context.Context, snap Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document (id, text, language, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			language = excluded.language,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, snap.DocumentID, snap.Text, snap.Language, snap.ServerVersion, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("persist document %s: %w", snap.DocumentID, err)
	}
	return nil
}

// Count returns the total number of stored documents, used by the stats
// endpoint.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document").Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Delete removes a document's snapshot, used when a hub's document has been
// deleted out-of-band by the external document CRUD surface.
func (r *SQLiteRepository) Delete(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM document WHERE id = ?", documentID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}
