package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}

// HasPDFSuffix reports whether name carries the recognized document suffix.
func HasPDFSuffix(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// TrimPDFSuffix strips a trailing .pdf (any case) from name.
func TrimPDFSuffix(name string) string {
	if HasPDFSuffix(name) {
		return name[:len(name)-len(".pdf")]
	}
	return name
}
