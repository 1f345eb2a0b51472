package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// writeAtomic fills a temp file next to path and renames it into place, so a
// reader sees either the old content or the complete new one.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}

// WriteJSONAtomic stores v as indented JSON at path.
func WriteJSONAtomic(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// WriteTextAtomic stores content at path.
func WriteTextAtomic(path, content string) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, strings.NewReader(content))
		return err
	})
}

// ReadJSON decodes path into v. A missing file reports os.ErrNotExist through errors.Is.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json %s: %w", filepath.Base(path), err)
	}
	return nil
}
