package storage

import (
	"context"
	"fmt"

	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// PGStore keeps session lists in Postgres, one row per document.
type PGStore struct {
	db *DB
}

func NewPGStore(db *DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Load(ctx context.Context, key string) ([]models.PersistedEntry, error) {
	rows, err := s.db.Pool.Query(ctx, `
SELECT doc_id, name
FROM session_entries
WHERE workspace_key=$1
ORDER BY position ASC`, key)
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

// Save replaces the list stored under key in one transaction.
func (s *PGStore) Save(ctx context.Context, key string, entries []models.PersistedEntry) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.DocID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_entries WHERE workspace_key=$1 AND NOT (doc_id = ANY($2))`, key, ids); err != nil {
		return fmt.Errorf("prune session entries: %w", err)
	}
	for i, e := range entries {
		_, err := tx.Exec(ctx, `
INSERT INTO session_entries (workspace_key, doc_id, name, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT (workspace_key, doc_id)
DO UPDATE SET
  name = EXCLUDED.name,
  position = EXCLUDED.position,
  updated_at = NOW()`,
			key, e.DocID, util.SanitizeText(e.Name), i,
		)
		if err != nil {
			return fmt.Errorf("upsert session entry %s: %w", e.DocID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM session_entries WHERE workspace_key=$1`, key); err != nil {
		return fmt.Errorf("delete session entries: %w", err)
	}
	return nil
}
