package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin.boltmeta")
	m := DownloadMeta{
		URL:        "https://example.com/a.zip",
		OutputPath: filepath.Join(dir, "out.bin"),
		FileSize:   10_000_000,
		Downloaded: 4_000_000,
		Segments: []SegmentMeta{
			{ID: 0, Offset: 0, Size: 5_000_000, FileOffset: 0, Downloaded: 4_000_000},
			{ID: 1, Offset: 5_000_000, Size: 5_000_000, FileOffset: 5_000_000, Downloaded: 0},
		},
	}
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(*got, m) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", *got, m)
	}
}

func TestLoadMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "nope.boltmeta"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil meta, got %+v", m)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.boltmeta")
	if err := Delete(path); err != nil {
		t.Fatalf("Delete on missing file: %v", err)
	}
	if err := Save(path, DownloadMeta{URL: "u", OutputPath: "o"}); err != nil {
		t.Fatal(err)
	}
	if err := Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if Exists(path) {
		t.Error("expected sidecar removed")
	}
}

func TestSidecarPath(t *testing.T) {
	if got, want := SidecarPath("/tmp/out.bin"), "/tmp/out.bin.boltmeta"; got != want {
		t.Errorf("SidecarPath = %q, want %q", got, want)
	}
}
