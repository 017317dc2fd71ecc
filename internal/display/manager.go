package display

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nilfheim/boltget/internal/engine"
)

// row tracks one engine's latest snapshot plus the bookkeeping the
// manager needs to redraw it in place.
type row struct {
	id        string
	url       string
	index     int
	startTime time.Time
	last      engine.Snapshot
	hasSnap   bool
}

// Manager renders one terminal line per tracked download, redrawing
// in place on a tick, the way the teacher's output.Manager does for
// its arbitrary named functions, retargeted here to engine snapshots.
type Manager struct {
	mutex    sync.RWMutex
	rows     map[string]*row
	order    int
	numLines int
	doneCh   chan struct{}
	wg       sync.WaitGroup
	tick     time.Duration
}

func NewManager() *Manager {
	return &Manager{
		rows:   make(map[string]*row),
		doneCh: make(chan struct{}),
		tick:   300 * time.Millisecond,
	}
}

// Track registers a download for rendering. Call it once per engine,
// before Start.
func (m *Manager) Track(id, url string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.order++
	m.rows[id] = &row{id: id, url: url, index: m.order, startTime: time.Now()}
}

// Update records a fresh snapshot for id. Safe to call from an
// engine.Observer.
func (m *Manager) Update(id string, s engine.Snapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if r, ok := m.rows[id]; ok {
		r.last = s
		r.hasSnap = true
	}
}

// Untrack removes a download from the display, e.g. after it has been
// removed from the manager registry.
func (m *Manager) Untrack(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rows, id)
}

func statusIndicator(s engine.EngineState) string {
	return Indicator(severityForEngineState(s))
}

func (m *Manager) sortedRows() []*row {
	rows := make([]*row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	return rows
}

func (m *Manager) renderRow(r *row, width int) string {
	indicator := statusIndicator(r.last.State)
	label := r.url
	if r.last.OutputPath != "" {
		label = r.last.OutputPath
	}
	if width > 0 && len(label) > width {
		label = label[:width-1] + "…"
	}

	if !r.hasSnap || r.last.State == engine.EnginePending {
		return fmt.Sprintf("  %s %s\n", indicator, severityLooks[SeverityPending].style.Render(label+" waiting..."))
	}

	bar := PrintProgressBar(r.last.DownloadedBytes, r.last.TotalBytes, 30)
	stats := fmt.Sprintf("%s/%s %s %s %s ETA %s",
		FormatBytes(uint64(r.last.DownloadedBytes)),
		FormatBytes(uint64(max(r.last.TotalBytes, r.last.DownloadedBytes))),
		StyleSymbols["bullet"],
		FormatSpeed(r.last.SpeedBps),
		StyleSymbols["bullet"],
		FormatETA(r.last.ETA))

	if r.last.State.Terminal() {
		elapsed := time.Since(r.startTime).Round(time.Second)
		msg := fmt.Sprintf("%s completed in %s", label, elapsed)
		if r.last.State != engine.EngineCompleted {
			msg = fmt.Sprintf("%s %s", label, r.last.State)
			if r.last.Err != nil {
				msg = fmt.Sprintf("%s: %v", msg, r.last.Err)
			}
		}
		if r.last.State == engine.EngineCompleted {
			return fmt.Sprintf("  %s %s\n", indicator, severityLooks[SeveritySuccess].style.Render(msg))
		}
		return fmt.Sprintf("  %s %s\n", indicator, severityLooks[SeverityError].style.Render(msg))
	}

	return fmt.Sprintf("  %s %s %s\n    %s\n", indicator, debugStyle.Render(label), bar, streamStyle.Render(stats))
}

func (m *Manager) redraw() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	termHeight := getTerminalHeight()
	available := max(termHeight-3, 1)

	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}

	var b strings.Builder
	lines := 0
	for _, r := range m.sortedRows() {
		if lines >= available {
			break
		}
		rendered := m.renderRow(r, 60)
		b.WriteString(rendered)
		lines += strings.Count(rendered, "\n")
	}
	fmt.Print(b.String())
	m.numLines = lines
}

// Start begins the redraw loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.redraw()
			case <-m.doneCh:
				m.redraw()
				return
			}
		}
	}()
}

// Stop halts the redraw loop after one final render and prints a
// summary: a completed count, plus a failed count when any failed.
func (m *Manager) Stop() {
	close(m.doneCh)
	m.wg.Wait()
	m.summary()
}

func (m *Manager) summary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var ok, failed int
	for _, r := range m.rows {
		switch r.last.State {
		case engine.EngineCompleted:
			ok++
		case engine.EngineFailed, engine.EngineCancelled:
			failed++
		}
	}
	fmt.Fprintln(os.Stdout)
	Print(SeveritySuccess, fmt.Sprintf("Completed %d of %d", ok, len(m.rows)))
	if failed > 0 {
		Print(SeverityError, fmt.Sprintf("Failed %d of %d", failed, len(m.rows)))
	}
}
