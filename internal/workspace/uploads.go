package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

// ErrNoUploadDir is returned by StageDir when the workspace was built without
// an upload directory.
var ErrNoUploadDir = errors.New("workspace has no upload directory")

// StageDir creates a fresh directory under the upload directory for one batch
// of received files. Staged files belong to the session: removing their
// document deletes them, and releasing or resetting the session purges the
// whole upload directory.
func (w *Workspace) StageDir() (string, error) {
	if w.uploadDir == "" {
		return "", ErrNoUploadDir
	}
	dir := filepath.Join(w.uploadDir, uuid.NewString())
	if err := util.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// staged reports whether path lies inside the upload directory. Files the
// user pointed at elsewhere are never touched.
func (w *Workspace) staged(path string) bool {
	if w.uploadDir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(w.uploadDir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// dropSource deletes the staged copy of a removed document, and its batch
// directory once that is empty.
func (w *Workspace) dropSource(doc models.SessionDocument) {
	if doc.Source == nil || !w.staged(doc.Source.Path) {
		return
	}
	if err := os.Remove(doc.Source.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("delete staged upload", zap.String("path", doc.Source.Path), zap.Error(err))
		return
	}
	if dir := filepath.Dir(doc.Source.Path); dir != w.uploadDir {
		_ = os.Remove(dir)
	}
}

// purgeUploads removes every staged file of the session.
func (w *Workspace) purgeUploads() {
	if w.uploadDir == "" {
		return
	}
	if err := os.RemoveAll(w.uploadDir); err != nil {
		w.log.Warn("purge staged uploads", zap.String("dir", w.uploadDir), zap.Error(err))
	}
}
