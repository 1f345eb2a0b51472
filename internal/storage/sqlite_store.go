package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// SQLiteStore keeps session lists in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single connection: concurrent writers would otherwise hit SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS session_entries (
  workspace_key TEXT NOT NULL,
  doc_id        TEXT NOT NULL,
  name          TEXT NOT NULL,
  position      INTEGER NOT NULL,
  PRIMARY KEY (workspace_key, doc_id)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_entries: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]models.PersistedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, name FROM session_entries WHERE workspace_key = ? ORDER BY position ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("list session entries: %w", err)
	}
	defer rows.Close()
	out := make([]models.PersistedEntry, 0)
	for rows.Next() {
		var e models.PersistedEntry
		if err := rows.Scan(&e.DocID, &e.Name); err != nil {
			return nil, fmt.Errorf("scan session entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, key string, entries []models.PersistedEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_entries WHERE workspace_key = ?`, key); err != nil {
		return fmt.Errorf("reset session entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_entries (workspace_key, doc_id, name, position) VALUES (?, ?, ?, ?)
ON CONFLICT (workspace_key, doc_id) DO UPDATE SET name = excluded.name, position = excluded.position`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, key, e.DocID, e.Name, i); err != nil {
			return fmt.Errorf("insert session entry %s: %w", e.DocID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE workspace_key = ?`, key); err != nil {
		return fmt.Errorf("delete session entries: %w", err)
	}
	return nil
}
