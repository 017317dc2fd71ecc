package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nilfheim/boltget/internal/store"
	"github.com/nilfheim/boltget/internal/transport"
)

// rangeServer serves body over ranged GETs plus Accept-Ranges on HEAD,
// the way the engine's HTTP client expects.
func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		rng := r.Header.Get("Range")
		start, end := 0, len(body)-1
		if rng != "" {
			rng = strings.TrimPrefix(rng, "bytes=")
			parts := strings.SplitN(rng, "-", 2)
			start, _ = strconv.Atoi(parts[0])
			if parts[1] != "" {
				end, _ = strconv.Atoi(parts[1])
			}
		}
		if start < 0 || end >= len(body) || start > end {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func testConfig() Config {
	return Config{
		TickInterval:     10 * time.Millisecond,
		MetaSaveInterval: 20 * time.Millisecond,
		StallTimeout:     2 * time.Second,
		BufSize:          4096,
	}
}

func waitTerminal(t *testing.T, e *Engine, timeout time.Duration) EngineState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := e.State(); st.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine did not reach a terminal state within %s (state=%s)", timeout, e.State())
	return e.State()
}

// TestSmallFileCompletesEndToEnd exercises S1: a small ranged file
// downloads to completion with no leftover resume meta and a final
// 100% snapshot.
func TestSmallFileCompletesEndToEnd(t *testing.T) {
	body := []byte(strings.Repeat("a", 500_000))
	srv := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "a.zip")

	cache := transport.NewCache(transport.Config{})
	e := New("s1", testConfig(), cache)
	if err := e.SetURL(srv.URL); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	e.OutputPath(out)

	var final Snapshot
	e.OnProgress(func(s Snapshot) { final = s })

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := waitTerminal(t, e, 5*time.Second); st != EngineCompleted {
		t.Fatalf("state = %s, want completed", st)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(body) {
		t.Fatalf("len(data) = %d, want %d", len(data), len(body))
	}
	if string(data) != string(body) {
		t.Fatal("downloaded content does not match source body")
	}
	if store.Exists(store.SidecarPath(out)) {
		t.Error("resume meta should be deleted on clean completion")
	}
	if final.Percent != 100.0 {
		t.Errorf("final snapshot percent = %v, want 100.0", final.Percent)
	}
	if final.DownloadedBytes != int64(len(body)) {
		t.Errorf("final downloaded = %d, want %d", final.DownloadedBytes, len(body))
	}
}

// TestResumeFromMeta exercises S3: a sidecar recording partial progress
// is honored on a fresh engine targeting the same URL and output.
func TestResumeFromMeta(t *testing.T) {
	body := []byte(strings.Repeat("b", 10_000_000))
	srv := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "big.bin")

	if err := os.WriteFile(out, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	meta := store.DownloadMeta{
		URL:        srv.URL,
		OutputPath: out,
		FileSize:   int64(len(body)),
		Downloaded: 4_000_000,
		Segments: []store.SegmentMeta{
			{ID: 0, Offset: 0, Size: int64(len(body)), FileOffset: 0, Downloaded: 4_000_000},
		},
	}
	if err := store.Save(store.SidecarPath(out), meta); err != nil {
		t.Fatalf("Save meta: %v", err)
	}

	cache := transport.NewCache(transport.Config{})
	e := New("s3", testConfig(), cache)
	if err := e.SetURL(srv.URL); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	e.OutputPath(out)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := waitTerminal(t, e, 10*time.Second); st != EngineCompleted {
		t.Fatalf("state = %s, want completed", st)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(body) {
		t.Fatalf("len(data) = %d, want %d", len(data), len(body))
	}
	if string(data[4_000_000:]) != string(body[4_000_000:]) {
		t.Error("resumed tail does not match source body")
	}
}

// slowRangeServer behaves like rangeServer but trickles the response
// body out in small, flushed chunks so a test has time to cancel
// mid-transfer instead of racing a near-instant local transfer.
func slowRangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		rng := strings.TrimPrefix(r.Header.Get("Range"), "bytes=")
		parts := strings.SplitN(rng, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end := len(body) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		const chunk = 16 * 1024
		for off := start; off <= end; off += chunk {
			hi := off + chunk
			if hi > end+1 {
				hi = end + 1
			}
			if _, err := w.Write(body[off:hi]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(2 * time.Millisecond)
		}
	}))
}

// TestCancelMidTransfer exercises S5: cancelling while segments are
// still downloading leaves the engine cancelled and every segment
// either completed or cancelled once Cancel returns.
func TestCancelMidTransfer(t *testing.T) {
	body := make([]byte, 20_000_000)
	srv := slowRangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	cache := transport.NewCache(transport.Config{})
	cfg := testConfig()
	cfg.Planner = PlannerConfig{Pinned: 3}
	e := New("s5", cfg, cache)
	if err := e.SetURL(srv.URL); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	e.OutputPath(out)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	e.Cancel()

	if st := e.State(); st != EngineCancelled {
		t.Fatalf("state = %s, want cancelled", st)
	}
	for _, seg := range e.SegmentProgress() {
		if seg.State != SegCompleted && seg.State != SegCancelled {
			t.Errorf("segment %d state = %s, want completed or cancelled", seg.ID, seg.State)
		}
	}
}

// TestNotFoundFailsWithoutRetry exercises S6: a 404 on the GET fails
// the engine immediately, without the retry loop masking the status.
func TestNotFoundFailsWithoutRetry(t *testing.T) {
	var gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "1000")
			return
		}
		gets++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "missing.bin")

	cache := transport.NewCache(transport.Config{})
	cfg := testConfig()
	cfg.Planner = PlannerConfig{Pinned: 1}
	e := New("s6", cfg, cache)
	if err := e.SetURL(srv.URL); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	e.OutputPath(out)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := waitTerminal(t, e, 5*time.Second); st != EngineFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if gets != 1 {
		t.Errorf("GET called %d times, want exactly 1 (no retry on 404)", gets)
	}
}

// TestPauseResumeRoundTrip covers the open question this spec pins
// down: pause joins workers and resume restarts them from counters.
func TestPauseResumeRoundTrip(t *testing.T) {
	body := make([]byte, 5_000_000)
	srv := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "pause.bin")

	cache := transport.NewCache(transport.Config{})
	cfg := testConfig()
	cfg.Planner = PlannerConfig{Pinned: 2}
	e := New("pause", cfg, cache)
	if err := e.SetURL(srv.URL); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	e.OutputPath(out)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if e.State() != EnginePaused {
		t.Fatalf("state = %s, want paused", e.State())
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if st := waitTerminal(t, e, 10*time.Second); st != EngineCompleted {
		t.Fatalf("state = %s, want completed", st)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(body) {
		t.Fatalf("len(data) = %d, want %d", len(data), len(body))
	}
}
