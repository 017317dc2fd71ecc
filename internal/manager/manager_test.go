package manager

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nilfheim/boltget/internal/engine"
)

func TestCreateStartAndRemove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "10")
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	cfg := engine.Config{
		TickInterval:     10 * time.Millisecond,
		MetaSaveInterval: time.Hour,
		Planner:          engine.PlannerConfig{Pinned: 1},
	}
	m := New(cfg)

	e, err := m.Create(srv.URL)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	out := filepath.Join(t.TempDir(), "ten.bin")
	e.OutputPath(out)

	if err := m.Start(e.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !e.State().Terminal() {
		time.Sleep(5 * time.Millisecond)
	}
	if e.State() != engine.EngineCompleted {
		t.Fatalf("state = %s, want completed", e.State())
	}

	if err := m.Remove(e.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.Get(e.ID()); ok {
		t.Error("engine should no longer be registered")
	}

	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file to exist: %v", err)
	}
}

func TestRemoveRefusesNonTerminal(t *testing.T) {
	cfg := engine.Config{}
	m := New(cfg)
	e, err := m.Create("https://example.com/file.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Remove(e.ID()); err == nil {
		t.Error("expected Remove to refuse a pending (non-terminal) engine")
	}
}

func TestGetUnknownID(t *testing.T) {
	m := New(engine.Config{})
	if _, ok := m.Get("does-not-exist"); ok {
		t.Error("expected ok=false for unknown id")
	}
}
