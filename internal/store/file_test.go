package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileWriteAtDisjointRanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	f, err := Create(path, 12)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.WriteAt([]byte("abcd"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.WriteAt([]byte("efgh"), 4); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.WriteAt([]byte("ijkl"), 8); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close must be idempotent.
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abcdefghijkl")) {
		t.Errorf("file contents = %q, want %q", got, "abcdefghijkl")
	}
}

func TestFileWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	f, err := Create(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := f.WriteAt([]byte("x"), 0); err == nil {
		t.Error("expected error writing to closed file")
	}
}
