// Package manager implements the download manager registry (spec.md
// §4.8): a keyed collection of engines behind one mutex, routing
// external control calls to the right engine without holding that
// mutex while the engine itself does any blocking work.
package manager

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nilfheim/boltget/internal/dlerr"
	"github.com/nilfheim/boltget/internal/engine"
	"github.com/nilfheim/boltget/internal/transport"
)

// Manager holds every engine created in this process, keyed by a
// random UUID assigned at Create. Ids are unique but carry no order:
// they are not assigned monotonically.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*engine.Engine
	cache   *transport.Cache
	cfg     engine.Config
}

// New constructs a manager whose engines share one connection cache,
// so segments across different downloads to the same origin still
// reuse DNS and TLS sessions.
func New(cfg engine.Config) *Manager {
	return &Manager{
		engines: make(map[string]*engine.Engine),
		cache:   transport.NewCache(cfg.Transport),
		cfg:     cfg,
	}
}

// Create allocates a fresh id and engine for rawURL but does not start
// it; the caller still configures output path and observer before
// calling Start.
func (m *Manager) Create(rawURL string) (*engine.Engine, error) {
	id := uuid.NewString()
	e := engine.New(id, m.cfg, m.cache)
	if err := e.SetURL(rawURL); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[id] = e
	m.mu.Unlock()

	log.Debug().Str("op", "manager/create").Str("id", id).Str("url", rawURL).Msg("registered download")
	return e, nil
}

// Get looks up an engine by id.
func (m *Manager) Get(id string) (*engine.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[id]
	return e, ok
}

// List returns every registered id in no particular order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	return ids
}

// Remove deletes an engine from the registry; it refuses to remove one
// that hasn't reached a terminal state.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.engines[id]
	m.mu.Unlock()
	if !ok {
		return dlerr.New(dlerr.KindResumeFailed, "manager/remove", nil)
	}
	if !e.State().Terminal() {
		return dlerr.New(dlerr.KindWrongState, "manager/remove", nil)
	}

	m.mu.Lock()
	delete(m.engines, id)
	m.mu.Unlock()
	return nil
}

// Start, Pause, Resume, and Cancel look up the engine under the
// registry mutex, then release it before delegating to the engine's
// own thread-safe methods, per spec.md §4.8.

func (m *Manager) Start(id string) error {
	e, ok := m.Get(id)
	if !ok {
		return dlerr.New(dlerr.KindResumeFailed, "manager/start", nil)
	}
	return e.Start()
}

func (m *Manager) Pause(id string) error {
	e, ok := m.Get(id)
	if !ok {
		return dlerr.New(dlerr.KindResumeFailed, "manager/pause", nil)
	}
	return e.Pause()
}

func (m *Manager) Resume(id string) error {
	e, ok := m.Get(id)
	if !ok {
		return dlerr.New(dlerr.KindResumeFailed, "manager/resume", nil)
	}
	return e.Resume()
}

func (m *Manager) Cancel(id string) error {
	e, ok := m.Get(id)
	if !ok {
		return dlerr.New(dlerr.KindResumeFailed, "manager/cancel", nil)
	}
	e.Cancel()
	return nil
}
