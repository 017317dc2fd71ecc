package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteCoalescerMergesAdjacentRanges(t *testing.T) {
	wc := NewWriteCoalescer(1024)
	wc.Enqueue(0, []byte("abcd"))
	wc.Enqueue(4, []byte("efgh"))
	if got := wc.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1 after merging adjacent ranges", got)
	}
	if got := wc.PendingBytes(); got != 8 {
		t.Fatalf("PendingBytes() = %d, want 8", got)
	}
}

func TestWriteCoalescerMergesOverlappingRanges(t *testing.T) {
	wc := NewWriteCoalescer(1024)
	wc.Enqueue(0, []byte("aaaa"))
	wc.Enqueue(2, []byte("bbbb")) // overlaps [2,4) of the first write
	if got := wc.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1 after merging overlapping ranges", got)
	}
	if got := wc.PendingBytes(); got != 6 {
		t.Fatalf("PendingBytes() = %d, want 6", got)
	}
}

func TestWriteCoalescerFlushWritesMergedRanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	f, err := Create(path, 12)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	wc := NewWriteCoalescer(1024)
	wc.Enqueue(8, []byte("ijkl"))
	wc.Enqueue(0, []byte("abcd"))
	wc.Enqueue(4, []byte("efgh"))

	flushed, err := wc.Flush(f)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flushed != 12 {
		t.Errorf("flushed = %d, want 12", flushed)
	}
	if got := wc.PendingBytes(); got != 0 {
		t.Errorf("PendingBytes() after Flush = %d, want 0", got)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abcdefghijkl")) {
		t.Errorf("file contents = %q, want %q", got, "abcdefghijkl")
	}
}

func TestWriteCoalescerFull(t *testing.T) {
	wc := NewWriteCoalescer(8)
	wc.Enqueue(0, []byte("abcd"))
	if wc.Full() {
		t.Error("Full() = true before reaching the limit")
	}
	wc.Enqueue(100, []byte("efgh"))
	if !wc.Full() {
		t.Error("Full() = false at the limit")
	}
}

func TestWriteCoalescerCancelDropsPending(t *testing.T) {
	wc := NewWriteCoalescer(1024)
	wc.Enqueue(0, []byte("abcd"))
	wc.Cancel()
	if got := wc.PendingBytes(); got != 0 {
		t.Errorf("PendingBytes() after Cancel = %d, want 0", got)
	}
	if got := wc.PendingCount(); got != 0 {
		t.Errorf("PendingCount() after Cancel = %d, want 0", got)
	}
}
