package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// FileStore writes each key as a JSON file under dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(key)
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(ctx context.Context, key string) ([]models.PersistedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PersistedEntry
	if err := util.ReadJSON(s.path(key), &out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.PersistedEntry{}, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, key string, entries []models.PersistedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.WriteJSONAtomic(s.path(key), entries)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
