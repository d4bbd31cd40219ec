// Package patchcache records which patch list entries have been applied to a
// game directory, so an interrupted update resumes after the last patch that
// completed.
package patchcache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"grfpatch/internal/patchlist"
	"grfpatch/internal/services"
)

const stageName = "cache"

// Record is one applied patch.
type Record struct {
	Index     int
	Filename  string
	SessionID string
	AppliedAt time.Time
}

// Store persists applied patch indices in SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes or connects to the cache database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "create cache dir", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "open sqlite db", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, services.Wrap(services.ErrIO, stageName, "apply pragma", pragma, execErr)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrIO, stageName, "init schema", path, err)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Applied returns the set of applied patch indices.
func (s *Store) Applied(ctx context.Context) (map[int]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT patch_index FROM applied_patches`)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "query applied", "", err)
	}
	defer rows.Close()

	applied := make(map[int]struct{})
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, services.Wrap(services.ErrIO, stageName, "scan applied", "", err)
		}
		applied[index] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "query applied", "", err)
	}
	return applied, nil
}

// MarkApplied records patch as applied. Re-marking an index replaces its
// record.
func (s *Store) MarkApplied(ctx context.Context, patch patchlist.Patch) error {
	sessionID, _ := services.SessionIDFromContext(ctx)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applied_patches (patch_index, filename, session_id, applied_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(patch_index) DO UPDATE SET
             filename = excluded.filename,
             session_id = excluded.session_id,
             applied_at = excluded.applied_at`,
		patch.Index,
		patch.Filename,
		nullableString(sessionID),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return services.Wrap(services.ErrIO, stageName, "mark applied", patch.Filename, err)
	}
	return nil
}

// List returns all records ordered by index.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patch_index, filename, session_id, applied_at FROM applied_patches ORDER BY patch_index`)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "list applied", "", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record    Record
			sessionID sql.NullString
			appliedAt string
		)
		if err := rows.Scan(&record.Index, &record.Filename, &sessionID, &appliedAt); err != nil {
			return nil, services.Wrap(services.ErrIO, stageName, "scan record", "", err)
		}
		record.SessionID = sessionID.String
		if ts, parseErr := time.Parse(time.RFC3339Nano, appliedAt); parseErr == nil {
			record.AppliedAt = ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "list applied", "", err)
	}
	return records, nil
}

// Reset forgets every applied patch and returns how many were removed.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applied_patches`)
	if err != nil {
		return 0, services.Wrap(services.ErrIO, stageName, "reset", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, services.Wrap(services.ErrIO, stageName, "reset", "rows affected", err)
	}
	return n, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
