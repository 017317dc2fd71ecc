// Package engine implements the segment state machine, the segment
// planner, and the supervisor loop that coordinates them against one
// output file.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nilfheim/boltget/internal/dlerr"
	"github.com/nilfheim/boltget/internal/store"
	"github.com/nilfheim/boltget/internal/transport"
)

// SegmentState is a node in the segment worker's state machine. It is
// represented as an atomic int32 so the CAS transitions in §4.4 can be
// expressed directly without an external mutex.
type SegmentState int32

const (
	SegPending SegmentState = iota
	SegConnecting
	SegDownloading
	SegCompleted
	SegFailed
	SegStalled
	SegCancelled
)

func (s SegmentState) String() string {
	switch s {
	case SegPending:
		return "pending"
	case SegConnecting:
		return "connecting"
	case SegDownloading:
		return "downloading"
	case SegCompleted:
		return "completed"
	case SegFailed:
		return "failed"
	case SegStalled:
		return "stalled"
	case SegCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s SegmentState) Terminal() bool {
	return s == SegCompleted || s == SegFailed || s == SegCancelled
}

const stealAlignment = 4096 // 4 KiB

// Segment drives one byte range of the resource to completion. Its
// counters are safe to read from any goroutine; only the supervisor
// mutates Size (splits, steals) and only while the segment is
// downloading.
type Segment struct {
	ID         int
	Offset     int64 // start of this segment's byte range in the resource
	FileOffset int64 // where received bytes land in the output file

	size         atomic.Int64
	downloaded   atomic.Int64
	writeOffset  atomic.Int64
	accumulator  atomic.Int64
	lastProgress atomic.Int64 // unix nanoseconds
	state        atomic.Int32
	cancelFlag   atomic.Bool
	lastErr      atomic.Pointer[dlerr.Error]

	startTime time.Time
	url       string
	bufSize   int

	file      *store.File
	client    *transport.Client
	coalescer *store.WriteCoalescer
}

// NewSegment constructs a segment; downloaded seeds the resume offset
// (0 for a fresh plan, >0 when restored from resume meta). Each
// segment gets its own coalescer so two workers never contend on one
// write buffer; the bound is a fraction of the default so a handful of
// concurrent segments don't multiply into an unreasonable working set.
func NewSegment(id int, offset, size, fileOffset, downloaded int64, url string, bufSize int, file *store.File, client *transport.Client) *Segment {
	s := &Segment{
		ID:         id,
		Offset:     offset,
		FileOffset: fileOffset,
		url:        url,
		bufSize:    bufSize,
		file:       file,
		client:     client,
		coalescer:  store.NewWriteCoalescer(store.DefaultCoalesceLimit / 4),
	}
	s.size.Store(size)
	s.downloaded.Store(downloaded)
	s.writeOffset.Store(downloaded)
	s.state.Store(int32(SegPending))
	s.lastProgress.Store(time.Now().UnixNano())
	return s
}

func (s *Segment) State() SegmentState { return SegmentState(s.state.Load()) }
func (s *Segment) Size() int64         { return s.size.Load() }
func (s *Segment) Downloaded() int64   { return s.downloaded.Load() }
func (s *Segment) WriteOffset() int64  { return s.writeOffset.Load() }
func (s *Segment) Err() error {
	if e := s.lastErr.Load(); e != nil {
		return e
	}
	return nil
}

func (s *Segment) casState(from, to SegmentState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Segment) forceState(to SegmentState) {
	s.state.Store(int32(to))
}

// LastProgress is the time of the most recently observed byte written.
func (s *Segment) LastProgress() time.Time {
	return time.Unix(0, s.lastProgress.Load())
}

// Remaining is the number of bytes not yet downloaded within Size.
func (s *Segment) Remaining() int64 {
	return s.Size() - s.Downloaded()
}

// CanSteal returns how many trailing bytes could be handed to another
// segment without shrinking this one below min, 4 KiB aligned. It
// returns 0 unless the segment is actively downloading.
func (s *Segment) CanSteal(min int64) int64 {
	if s.State() != SegDownloading {
		return 0
	}
	remaining := s.Remaining()
	if remaining <= 2*min {
		return 0
	}
	steal := (remaining / 2) &^ (stealAlignment - 1)
	return steal
}

// StealBytes shrinks this segment's size, causing its worker to stop
// earlier than originally planned.
func (s *Segment) StealBytes(n int64) { s.size.Add(-n) }

// AddBytes grows this segment's size; only meaningful for a freshly
// allocated tail segment that hasn't started streaming past the old
// boundary yet.
func (s *Segment) AddBytes(n int64) { s.size.Add(n) }

// SampleSpeed returns bytes/sec observed since the last sample and
// resets the accumulator, so repeated calls describe a rolling window
// rather than a cumulative average.
func (s *Segment) SampleSpeed(window time.Duration) float64 {
	n := s.accumulator.Swap(0)
	secs := window.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) / secs
}

// AverageSpeed is downloaded/(now-startTime), the whole-life average.
func (s *Segment) AverageSpeed() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Downloaded()) / elapsed
}

// Cancel requests cooperative cancellation; the transfer callback polls
// this flag between reads and aborts promptly.
func (s *Segment) Cancel() { s.cancelFlag.Store(true) }

func (s *Segment) isCancelled() bool { return s.cancelFlag.Load() }

// PrepareRestart clears terminal markers so a stalled segment can be
// re-driven by a fresh Run call; it must only be called after the
// previous worker goroutine has been joined.
func (s *Segment) PrepareRestart() bool {
	return s.casState(SegStalled, SegConnecting) || s.casState(SegPending, SegConnecting)
}

const retryCount = 3
const retryBackoff = 500 * time.Millisecond

// errRangeEnd stops a stream once the segment's (possibly shrunk) range
// has been fully received; attempt treats it as success.
var errRangeEnd = errors.New("segment range fully received")

// Run drives this segment to a terminal state. It must be called at
// most once concurrently per segment; the engine owns the goroutine
// and the context used to interrupt it.
func (s *Segment) Run(ctx context.Context) error {
	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}

	var lastErr error
	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return s.finishOnContextDone()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		err := s.attempt(ctx)
		if err == nil {
			s.forceState(SegCompleted)
			return nil
		}
		// The cancel flag is the authoritative cancellation signal; a
		// context cancelled for other reasons (pause, stall restart)
		// also surfaces as ctx.Err() but must not be mistaken for it.
		if s.isCancelled() {
			s.forceState(SegCancelled)
			return nil
		}
		if ctx.Err() != nil {
			return s.finishOnContextDone()
		}
		lastErr = err
		kind := dlerr.KindOf(err)
		if !dlerr.Retryable(kind) {
			s.setErr(err)
			s.forceState(SegFailed)
			return err
		}
		log.Warn().Str("op", "engine/segment").Int("segment", s.ID).Int("attempt", attempt+1).Err(err).Msg("retrying segment")
	}
	s.setErr(lastErr)
	s.forceState(SegFailed)
	return lastErr
}

// finishOnContextDone is reached when the engine cancelled our context
// for reasons other than a cooperative cancel flag (e.g. a pause). The
// segment keeps its counters and is left in Stalled so Resume can
// re-drive it later; it is not a failure.
func (s *Segment) finishOnContextDone() error {
	if s.isCancelled() {
		s.forceState(SegCancelled)
		return nil
	}
	if s.State() != SegCompleted {
		s.forceState(SegStalled)
	}
	return nil
}

func (s *Segment) attempt(ctx context.Context) error {
	if !s.casState(SegConnecting, SegConnecting) {
		// allow re-entry from pending/stalled without requiring the
		// caller to have transitioned us first
		s.state.Store(int32(SegConnecting))
	}

	start := s.Offset + s.Downloaded()
	end := s.Offset + s.Size() - 1
	if s.Downloaded() >= s.Size() {
		return nil
	}
	rng := transport.ByteRange{Start: start, End: end}

	// next is the file offset the following chunk lands at. It is kept
	// locally because a Flush (here or from the supervisor's saveMeta)
	// advances s.downloaded for bytes this attempt already placed;
	// s.downloaded only advances once Flush confirms bytes are durable,
	// so a resumed attempt never skips unflushed data.
	next := s.FileOffset + s.Downloaded()
	firstByte := true
	streamErr := s.client.GetStream(ctx, s.url, rng, s.bufSize, func(chunk []byte) (int, error) {
		if firstByte {
			s.casState(SegConnecting, SegDownloading)
			firstByte = false
		}
		// A steal or split may have shrunk Size since this request was
		// issued; bytes past the new end belong to another segment.
		limit := s.FileOffset + s.Size()
		if next+int64(len(chunk)) > limit {
			chunk = chunk[:max(limit-next, 0)]
		}
		if len(chunk) > 0 {
			s.coalescer.Enqueue(next, chunk)
		}
		n := len(chunk)
		next += int64(n)
		s.accumulator.Add(int64(n))
		s.lastProgress.Store(time.Now().UnixNano())
		if s.coalescer.Full() {
			flushed, ferr := s.coalescer.Flush(s.file)
			s.downloaded.Add(flushed)
			s.writeOffset.Add(flushed)
			if ferr != nil {
				return 0, ferr
			}
		}
		if next >= limit {
			return n, errRangeEnd
		}
		return n, nil
	}, s.isCancelled)

	flushed, ferr := s.coalescer.Flush(s.file)
	s.downloaded.Add(flushed)
	s.writeOffset.Add(flushed)
	if streamErr != nil && !errors.Is(streamErr, errRangeEnd) {
		return streamErr
	}
	if ferr != nil {
		return ferr
	}
	return nil
}

// Flush durably persists any bytes this segment has buffered but not
// yet written; the supervisor calls it before every meta save so the
// saved counters never claim progress that was only ever in the
// coalescer.
func (s *Segment) Flush() error {
	flushed, err := s.coalescer.Flush(s.file)
	s.downloaded.Add(flushed)
	s.writeOffset.Add(flushed)
	return err
}

func (s *Segment) setErr(err error) {
	var de *dlerr.Error
	if e, ok := err.(*dlerr.Error); ok {
		de = e
	} else {
		de = dlerr.New(dlerr.KindNetworkError, "engine/segment", err)
	}
	s.lastErr.Store(de)
}
