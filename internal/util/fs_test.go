package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPDFSuffix(t *testing.T) {
	if !HasPDFSuffix("Report.PDF") {
		t.Fatalf("expected upper-case suffix to match")
	}
	if HasPDFSuffix("notes.txt") {
		t.Fatalf("unexpected match for txt")
	}
	if got := TrimPDFSuffix("doc_123.pdf"); got != "doc_123" {
		t.Fatalf("unexpected trim: %s", got)
	}
	if got := TrimPDFSuffix("doc_123"); got != "doc_123" {
		t.Fatalf("bare id should be unchanged: %s", got)
	}
}

func TestSafeJoinStripsDirectories(t *testing.T) {
	got := SafeJoin("/tmp/uploads", "../../etc/passwd")
	if got != filepath.Join("/tmp/uploads", "passwd") {
		t.Fatalf("unexpected join: %s", got)
	}
}

func TestJSONRoundTripOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := []map[string]string{{"docId": "a", "name": "A.pdf"}}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out []map[string]string
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 1 || out[0]["docId"] != "a" {
		t.Fatalf("unexpected decoded value: %#v", out)
	}
	if err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSHA256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SHA256File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("fingerprint mismatch: %s", got)
	}
}

func TestWriteTextAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio", "script.txt")
	if err := WriteTextAtomic(path, "Speaker 1: hello"); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "Speaker 1: hello" {
		t.Fatalf("unexpected content %q", b)
	}
}
