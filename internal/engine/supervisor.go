package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nilfheim/boltget/internal/dlerr"
	"github.com/nilfheim/boltget/internal/resource"
	"github.com/nilfheim/boltget/internal/store"
	"github.com/nilfheim/boltget/internal/transport"
)

// EngineState is the top-level lifecycle state of one download.
type EngineState int32

const (
	EnginePending EngineState = iota
	EngineRunning
	EnginePaused
	EngineCompleted
	EngineFailed
	EngineCancelled
)

func (s EngineState) String() string {
	switch s {
	case EnginePending:
		return "pending"
	case EngineRunning:
		return "running"
	case EnginePaused:
		return "paused"
	case EngineCompleted:
		return "completed"
	case EngineFailed:
		return "failed"
	case EngineCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s EngineState) Terminal() bool {
	return s == EngineCompleted || s == EngineFailed || s == EngineCancelled
}

// Defaults for the supervisor's own policy knobs, distinct from the
// planner's size/count bounds.
const (
	DefaultStallTimeout      = 15 * time.Second
	DefaultTickInterval      = 100 * time.Millisecond
	DefaultMetaSaveInterval  = 5 * time.Second
	DefaultLowSpeedThreshold = 100 * 1024 // bytes/sec
	DefaultBufSize           = 256 * 1024
	speedWindow              = 100 * time.Millisecond
)

// Config carries every knob the engine's preparation and supervisor
// loop need; zero values fall back to spec defaults.
type Config struct {
	Transport         transport.Config
	Planner           PlannerConfig
	StallTimeout      time.Duration
	TickInterval      time.Duration
	MetaSaveInterval  time.Duration
	LowSpeedThreshold int64
	BufSize           int

	// AdaptiveSegments, when set and the planner isn't pinned to an
	// explicit count, has Start sample the link's real throughput with
	// a short probe GET and feed it through AdaptiveSegmentCount
	// instead of PlanCount's static file-size table.
	AdaptiveSegments bool
	ProbeSize        int64
}

func (c Config) withDefaults() Config {
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MetaSaveInterval <= 0 {
		c.MetaSaveInterval = DefaultMetaSaveInterval
	}
	if c.LowSpeedThreshold <= 0 {
		c.LowSpeedThreshold = DefaultLowSpeedThreshold
	}
	if c.BufSize <= 0 {
		c.BufSize = DefaultBufSize
	}
	return c
}

// Snapshot is a consistent, copied view of aggregate progress; callers
// must tolerate it drifting by up to one tick relative to the live
// segment counters.
type Snapshot struct {
	URL             string
	OutputPath      string
	State           EngineState
	TotalBytes      int64
	DownloadedBytes int64
	Percent         float64
	SpeedBps        float64
	ETA             time.Duration
	StateCounts     map[SegmentState]int
	Err             error
	UpdatedAt       time.Time
}

// SegmentSnapshot is a copied view of one segment's progress.
type SegmentSnapshot struct {
	ID         int
	Offset     int64
	Size       int64
	FileOffset int64
	Downloaded int64
	State      SegmentState
	Err        error
}

// Observer is invoked with a snapshot on every tick and on terminal
// transitions. It must not block: the supervisor calls it synchronously
// outside any segment lock but while still holding its own loop.
type Observer func(Snapshot)

// segRun tracks the live goroutine driving one segment so the
// supervisor can interrupt and rejoin it independently of its siblings.
type segRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns one download end to end: the segment table, the output
// file, and the supervisor loop that coordinates them. All exported
// methods are safe to call concurrently.
type Engine struct {
	id  string
	cfg Config

	mu         sync.Mutex
	url        *resource.URL
	rawURL     string
	outputPath string
	facts      transport.ServerFacts
	segments   []*Segment
	nextSegID  int
	state      EngineState
	observer   Observer
	firstErr   error

	cache *transport.Cache
	file  *store.File

	runs map[int]*segRun

	workersWG    sync.WaitGroup
	supervisorWG sync.WaitGroup
	stopLoop     context.CancelFunc

	startTime    time.Time
	lastSnapshot Snapshot
}

// New constructs an engine for id, bound to cache for connection reuse
// across every segment this engine ever creates.
func New(id string, cfg Config, cache *transport.Cache) *Engine {
	return &Engine{
		id:    id,
		cfg:   cfg.withDefaults(),
		cache: cache,
		runs:  make(map[int]*segRun),
		state: EnginePending,
	}
}

func (e *Engine) ID() string { return e.id }

// SetURL validates and stores the target URL.
func (e *Engine) SetURL(raw string) error {
	u, err := resource.Parse(raw)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.url = u
	e.rawURL = raw
	e.mu.Unlock()
	return nil
}

// OutputPath sets the destination file path explicitly, overriding the
// filename the engine would otherwise derive from the HEAD response.
func (e *Engine) OutputPath(path string) {
	e.mu.Lock()
	e.outputPath = path
	e.mu.Unlock()
}

// OnProgress registers the observer invoked on every tick.
func (e *Engine) OnProgress(obs Observer) {
	e.mu.Lock()
	e.observer = obs
	e.mu.Unlock()
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start probes the resource, restores or plans the segment table, opens
// the output file, and launches the supervisor loop and one worker per
// segment.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state == EngineRunning {
		e.mu.Unlock()
		return dlerr.New(dlerr.KindAlreadyRunning, "engine/start", nil)
	}
	if e.url == nil {
		e.mu.Unlock()
		return dlerr.New(dlerr.KindInvalidURL, "engine/start", fmt.Errorf("no URL set"))
	}
	resuming := e.state == EnginePaused && len(e.segments) > 0
	e.mu.Unlock()

	if resuming {
		return e.Resume()
	}

	client := e.cache.Get(e.url.Origin())
	facts, err := client.Head(context.Background(), e.rawURL)
	if err != nil {
		e.mu.Lock()
		e.state = EngineFailed
		e.firstErr = err
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.facts = facts
	if e.outputPath == "" {
		name := facts.FileName
		if name == "" {
			name = e.url.Filename()
		}
		e.outputPath = name
	}
	outputPath := e.outputPath
	e.mu.Unlock()

	meta, segPlan, err := e.resolvePlan(outputPath, facts)
	if err != nil {
		e.mu.Lock()
		e.state = EngineFailed
		e.firstErr = err
		e.mu.Unlock()
		return err
	}

	var totalSize int64
	if meta != nil {
		totalSize = meta.FileSize
	} else {
		totalSize = facts.ContentLength
	}

	f, err := store.Create(outputPath, totalSize)
	if err != nil {
		e.mu.Lock()
		e.state = EngineFailed
		e.firstErr = err
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.file = f
	e.segments = segPlan
	e.nextSegID = len(segPlan)
	for _, s := range segPlan {
		if s.ID >= e.nextSegID {
			e.nextSegID = s.ID + 1
		}
	}
	e.state = EngineRunning
	e.startTime = time.Now()
	e.mu.Unlock()

	log.Info().Str("op", "engine/start").Str("id", e.id).Str("url", e.rawURL).
		Int("segments", len(segPlan)).Msg("starting download")

	for _, s := range segPlan {
		e.runSegment(s)
	}
	e.startSupervisor()
	return nil
}

// resolvePlan restores segments from resume meta when it matches the
// live HEAD response, or plans a fresh table otherwise.
func (e *Engine) resolvePlan(outputPath string, facts transport.ServerFacts) (*store.DownloadMeta, []*Segment, error) {
	sidecarPath := store.SidecarPath(outputPath)
	meta, err := store.Load(sidecarPath)
	if err != nil {
		log.Warn().Str("op", "engine/resolve-plan").Err(err).Msg("ignoring unreadable resume meta")
		meta = nil
	}
	if meta != nil && (meta.URL != e.rawURL || meta.FileSize != facts.ContentLength) {
		log.Debug().Str("op", "engine/resolve-plan").Msg("resume meta stale, discarding")
		meta = nil
	}

	client := e.cache.Get(e.url.Origin())

	if meta != nil {
		segs := make([]*Segment, 0, len(meta.Segments))
		for _, sm := range meta.Segments {
			segs = append(segs, NewSegment(sm.ID, sm.Offset, sm.Size, sm.FileOffset, sm.Downloaded, e.rawURL, e.cfg.BufSize, nil, client))
		}
		return meta, segs, nil
	}

	plannerCfg := e.cfg.Planner
	if e.cfg.AdaptiveSegments && plannerCfg.Pinned <= 0 && facts.SupportsRanges && facts.ContentLength > 0 {
		bw, err := client.ProbeBandwidth(context.Background(), e.rawURL, e.cfg.ProbeSize)
		if err != nil {
			log.Warn().Str("op", "engine/resolve-plan").Err(err).Msg("bandwidth probe failed, falling back to the static table")
		} else {
			count := AdaptiveSegmentCount(bw, plannerCfg)
			log.Debug().Str("op", "engine/resolve-plan").Float64("bandwidth_bps", bw).Int("segments", count).Msg("planned from measured bandwidth")
			plannerCfg.Pinned = count
		}
	}

	plan := Plan(facts.ContentLength, facts.SupportsRanges, plannerCfg)
	segs := make([]*Segment, 0, len(plan))
	for i, p := range plan {
		segs = append(segs, NewSegment(i, p.Offset, p.Size, p.Offset, 0, e.rawURL, e.cfg.BufSize, nil, client))
	}
	return nil, segs, nil
}

// runSegment launches (or relaunches) the goroutine driving seg,
// tracking a cancel func and done channel so the supervisor can
// interrupt this segment alone without touching its siblings.
func (e *Engine) runSegment(seg *Segment) {
	seg.file = e.file
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.runs[seg.ID] = &segRun{cancel: cancel, done: done}
	e.mu.Unlock()

	e.workersWG.Add(1)
	go func() {
		defer e.workersWG.Done()
		defer close(done)
		defer cancel()
		if err := seg.Run(ctx); err != nil {
			e.mu.Lock()
			if e.firstErr == nil {
				e.firstErr = err
			}
			e.mu.Unlock()
		}
	}()
}

// interruptSegment cancels seg's in-flight context and blocks until its
// goroutine has exited, so the caller can safely restart or discard it.
func (e *Engine) interruptSegment(id int) {
	e.mu.Lock()
	run, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return
	}
	run.cancel()
	<-run.done
}

// resumeStalled interrupts a segment the monitor just marked stalled
// and relaunches it from its own downloaded counter.
func (e *Engine) resumeStalled(seg *Segment) {
	e.interruptSegment(seg.ID)
	if seg.PrepareRestart() {
		e.runSegment(seg)
	}
}

func (e *Engine) startSupervisor() {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.stopLoop = cancel
	e.mu.Unlock()

	e.supervisorWG.Add(1)
	go func() {
		defer e.supervisorWG.Done()
		e.loop(ctx)
	}()
}

// loop is the single supervisor thread: it ticks at cfg.TickInterval,
// aggregating progress, detecting stalls, rebalancing work, splitting
// large tails, persisting resume meta, and deciding terminal states.
func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	lastSave := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := e.aggregate()
		e.publish(snap)

		if e.terminalCheck() {
			return
		}

		e.monitorStalls()
		e.stealWork()
		e.splitLargestTail()

		if time.Since(lastSave) >= e.cfg.MetaSaveInterval {
			if err := e.saveMeta(); err != nil {
				log.Warn().Str("op", "engine/persist").Err(err).Msg("failed to save resume meta")
			}
			lastSave = time.Now()
		}
	}
}

// aggregate computes the current progress snapshot under the engine
// mutex; segment counters themselves are read without a lock since
// they're atomics.
func (e *Engine) aggregate() Snapshot {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	url := e.rawURL
	out := e.outputPath
	total := e.facts.ContentLength
	state := e.state
	firstErr := e.firstErr
	e.mu.Unlock()

	var downloaded int64
	counts := make(map[SegmentState]int)
	var speed float64
	for _, s := range segs {
		downloaded += s.Downloaded()
		counts[s.State()]++
		if s.State() == SegDownloading {
			speed += s.SampleSpeed(speedWindow)
		}
	}
	if total == 0 {
		for _, s := range segs {
			total += s.Size()
		}
	}

	var percent float64
	if total > 0 {
		percent = math.Min(100, float64(downloaded)/float64(total)*100)
	}

	var eta time.Duration
	if speed > 0 && total > downloaded {
		secs := float64(total-downloaded) / speed
		eta = time.Duration(secs * float64(time.Second))
	}

	snap := Snapshot{
		URL:             url,
		OutputPath:      out,
		State:           state,
		TotalBytes:      total,
		DownloadedBytes: downloaded,
		Percent:         percent,
		SpeedBps:        speed,
		ETA:             eta,
		StateCounts:     counts,
		Err:             firstErr,
		UpdatedAt:       time.Now(),
	}

	e.mu.Lock()
	e.lastSnapshot = snap
	e.mu.Unlock()
	return snap
}

func (e *Engine) publish(snap Snapshot) {
	e.mu.Lock()
	obs := e.observer
	e.mu.Unlock()
	if obs != nil {
		obs(snap)
	}
}

// terminalCheck decides whether the segment table has reached an
// engine-level terminal state and, if so, tears down the file and
// resume meta accordingly. It returns true when the loop should exit.
func (e *Engine) terminalCheck() bool {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	if len(segs) == 0 {
		return false
	}

	allCompleted := true
	anyFailed := false
	allTerminalOrFailed := true
	for _, s := range segs {
		st := s.State()
		if st != SegCompleted {
			allCompleted = false
		}
		if st == SegFailed {
			anyFailed = true
		}
		if !(st == SegCompleted || st == SegFailed) {
			allTerminalOrFailed = false
		}
	}

	if allCompleted {
		e.finish(EngineCompleted, true)
		return true
	}
	if anyFailed && allTerminalOrFailed {
		e.finish(EngineFailed, false)
		return true
	}
	return false
}

// finish performs the teardown for a naturally terminal engine: flush
// and close the file, optionally delete the resume meta, and publish
// one final snapshot.
func (e *Engine) finish(state EngineState, deleteMeta bool) {
	e.mu.Lock()
	if e.state.Terminal() {
		// A concurrent Cancel already decided the engine's fate.
		e.mu.Unlock()
		return
	}
	e.state = state
	out := e.outputPath
	f := e.file
	e.mu.Unlock()

	if f != nil {
		f.Flush()
		f.Close()
	}
	if deleteMeta {
		store.Delete(store.SidecarPath(out))
	}
	e.publish(e.aggregate())
	log.Info().Str("op", "engine/finish").Str("id", e.id).Str("state", state.String()).Msg("download reached terminal state")
}

// monitorStalls marks any downloading segment with no recent progress
// as stalled and restarts it from its own counter.
func (e *Engine) monitorStalls() {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	for _, s := range segs {
		if s.State() != SegDownloading {
			continue
		}
		if time.Since(s.LastProgress()) < e.cfg.StallTimeout {
			continue
		}
		if !s.casState(SegDownloading, SegStalled) {
			continue
		}
		log.Warn().Str("op", "engine/monitor").Int("segment", s.ID).Msg("segment stalled, restarting")
		go e.resumeStalled(s)
	}
}

// stealWork finds slow downloading segments and, for each, carves a
// fresh segment out of the tail of whichever other segment has the
// most spare remaining capacity. This preserves both the no-overlap
// and sum-of-sizes invariants by construction: the new segment's range
// is exactly the donor's shrunk tail, never an unrelated byte range.
func (e *Engine) stealWork() {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	minSize := e.cfg.Planner.withDefaults().MinSegmentSize
	threshold := e.cfg.LowSpeedThreshold
	e.mu.Unlock()

	for _, s := range segs {
		if s.State() != SegDownloading {
			continue
		}
		inst := s.AverageSpeed()
		if inst >= float64(threshold) {
			continue
		}
		donor := pickDonor(segs, s.ID, minSize)
		if donor == nil {
			continue
		}
		if !StealWorthwhile(donor.AverageSpeed(), inst) {
			continue
		}
		n := donor.CanSteal(minSize)
		if n <= 0 {
			continue
		}
		e.splitTail(donor, n)
		log.Debug().Str("op", "engine/steal").Int("donor", donor.ID).Int64("bytes", n).Msg("stole bytes into a new segment")
	}
}

// pickDonor returns the non-requester segment with the largest
// CanSteal value, breaking ties by the lowest id.
func pickDonor(segs []*Segment, requesterID int, minSize int64) *Segment {
	var best *Segment
	var bestN int64
	for _, s := range segs {
		if s.ID == requesterID {
			continue
		}
		n := s.CanSteal(minSize)
		if n <= 0 {
			continue
		}
		if best == nil || n > bestN || (n == bestN && s.ID < best.ID) {
			best = s
			bestN = n
		}
	}
	return best
}

// splitLargestTail implements dynamic segmentation: while the table has
// room under max_segments, split the largest remaining downloading
// tail in half so a new worker can help finish it.
func (e *Engine) splitLargestTail() {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	active := 0
	for _, s := range segs {
		if !s.State().Terminal() {
			active++
		}
	}
	maxSegments := e.cfg.Planner.withDefaults().MaxSegments
	minSize := e.cfg.Planner.withDefaults().MinSegmentSize
	e.mu.Unlock()

	if active >= maxSegments {
		return
	}

	var best *Segment
	var bestRemaining int64
	for _, s := range segs {
		if s.State() != SegDownloading {
			continue
		}
		rem := s.Remaining()
		if rem <= 2*minSize {
			continue
		}
		if best == nil || rem > bestRemaining || (rem == bestRemaining && s.ID < best.ID) {
			best = s
			bestRemaining = rem
		}
	}
	if best == nil {
		return
	}
	half := best.CanSteal(minSize)
	if half <= 0 {
		return
	}
	seg := e.splitTail(best, half)
	log.Info().Str("op", "engine/split").Int("parent", best.ID).Int("new", seg.ID).Int64("bytes", half).Msg("split remaining tail")
}

// splitTail shrinks parent by n bytes and creates, registers, and
// starts a new segment spanning exactly the freed tail.
func (e *Engine) splitTail(parent *Segment, n int64) *Segment {
	parent.StealBytes(n)

	e.mu.Lock()
	id := e.nextSegID
	e.nextSegID++
	offset := parent.Offset + parent.Size()
	client := e.cache.Get(e.url.Origin())
	e.mu.Unlock()

	child := NewSegment(id, offset, n, offset, 0, e.rawURL, e.cfg.BufSize, e.file, client)

	e.mu.Lock()
	e.segments = append(e.segments, child)
	e.mu.Unlock()

	e.runSegment(child)
	return child
}

// saveMeta writes the resume sidecar for the current segment table.
func (e *Engine) saveMeta() error {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	m := store.DownloadMeta{
		URL:        e.rawURL,
		OutputPath: e.outputPath,
		FileSize:   e.facts.ContentLength,
	}
	e.mu.Unlock()

	var total int64
	for _, s := range segs {
		if err := s.Flush(); err != nil {
			log.Warn().Str("op", "engine/supervisor").Int("segment", s.ID).Err(err).Msg("flush before meta save failed")
		}
		d := s.Downloaded()
		total += d
		m.Segments = append(m.Segments, store.SegmentMeta{
			ID:         s.ID,
			Offset:     s.Offset,
			Size:       s.Size(),
			FileOffset: s.FileOffset,
			Downloaded: d,
		})
	}
	m.Downloaded = total
	return store.Save(store.SidecarPath(m.OutputPath), m)
}

// Progress returns a snapshot of aggregate progress.
// Progress returns the most recently computed snapshot. Aggregate
// progress is only ever recomputed by the supervisor loop itself
// (aggregate), since recomputation consumes each segment's windowed
// speed accumulator; external callers read the cached copy instead.
func (e *Engine) Progress() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSnapshot
}

// SegmentProgress returns a copied snapshot of every segment.
func (e *Engine) SegmentProgress() []SegmentSnapshot {
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	out := make([]SegmentSnapshot, 0, len(segs))
	for _, s := range segs {
		out = append(out, SegmentSnapshot{
			ID:         s.ID,
			Offset:     s.Offset,
			Size:       s.Size(),
			FileOffset: s.FileOffset,
			Downloaded: s.Downloaded(),
			State:      s.State(),
			Err:        s.Err(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pause stops the supervisor and joins every worker, leaving segments
// at their current counters so Resume can restart them in place.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != EngineRunning {
		st := e.state
		e.mu.Unlock()
		return dlerr.New(dlerr.KindWrongState, "engine/pause", fmt.Errorf("cannot pause from %s", st))
	}
	e.state = EnginePaused
	stop := e.stopLoop
	e.mu.Unlock()

	if err := e.saveMeta(); err != nil {
		log.Warn().Str("op", "engine/pause").Err(err).Msg("failed to save resume meta before pausing")
	}

	if stop != nil {
		stop()
	}
	e.supervisorWG.Wait()

	// Only safe to snapshot the segment table once the supervisor has
	// fully exited: otherwise a dynamic split mid-tick could add a
	// segment after the snapshot and leave its worker unjoined.
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	for _, s := range segs {
		if !s.State().Terminal() {
			e.interruptSegment(s.ID)
		}
	}
	e.workersWG.Wait()

	e.publish(e.aggregate())
	return nil
}

// Resume restarts the supervisor loop and relaunches any segment that
// isn't already in a terminal state, from its saved counters.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != EnginePaused {
		st := e.state
		e.mu.Unlock()
		return dlerr.New(dlerr.KindWrongState, "engine/resume", fmt.Errorf("cannot resume from %s", st))
	}
	e.state = EngineRunning
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	for _, s := range segs {
		if s.State().Terminal() {
			continue
		}
		if s.PrepareRestart() {
			e.runSegment(s)
		}
	}
	e.startSupervisor()
	return nil
}

// Cancel moves the engine to cancelled, stopping the supervisor before
// cancelling workers so nothing touches segments mid-teardown, then
// flushes and closes the output file exactly once.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.state = EngineCancelled
	stop := e.stopLoop
	f := e.file
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.supervisorWG.Wait()

	// As in Pause, the segment table can only be trusted once the
	// supervisor (the only goroutine that appends to it) has exited.
	e.mu.Lock()
	segs := append([]*Segment(nil), e.segments...)
	e.mu.Unlock()

	for _, s := range segs {
		s.Cancel()
	}
	for _, s := range segs {
		e.interruptSegment(s.ID)
	}
	e.workersWG.Wait()

	if f != nil {
		f.Flush()
		f.Close()
	}
	e.publish(e.aggregate())
	log.Info().Str("op", "engine/cancel").Str("id", e.id).Msg("download cancelled")
}
