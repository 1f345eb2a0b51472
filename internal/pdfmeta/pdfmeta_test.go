package pdfmeta

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docworkspace/internal/pdfmeta/pdftest"
	"docworkspace/internal/util"
)

func TestInspectReadsPagesAndTitle(t *testing.T) {
	path := pdftest.Write(t, "report.pdf", "Quarterly Report\nRevenue grew", "Appendix")
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", info.Pages)
	}
	if !strings.Contains(info.Title, "Quarterly") {
		t.Fatalf("unexpected title: %q", info.Title)
	}
}

func TestPageTexts(t *testing.T) {
	path := pdftest.Write(t, "a.pdf", "alpha beta", "gamma delta")
	pages, err := PageTexts(path)
	if err != nil {
		t.Fatalf("page texts: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if !strings.Contains(pages[1], "gamma") {
		t.Fatalf("unexpected page 2 text: %q", pages[1])
	}
}

func TestInspectRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("just some text"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Inspect(path)
	if !errors.Is(err, util.ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}
