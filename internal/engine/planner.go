package engine

const (
	DefaultMinSegmentSize int64 = 256 * 1024
	DefaultMaxSegmentSize int64 = 50 * 1024 * 1024
	DefaultMinSegments          = 2
	DefaultMaxSegments          = 32
)

// PlannerConfig carries the bounds an engine was configured with; zero
// values fall back to the spec defaults in Plan.
type PlannerConfig struct {
	MinSegmentSize int64
	MaxSegmentSize int64
	MinSegments    int
	MaxSegments    int
	// Pinned, when non-zero, overrides the table below entirely (a
	// user-supplied -n/--segments count).
	Pinned int
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.MinSegmentSize <= 0 {
		c.MinSegmentSize = DefaultMinSegmentSize
	}
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.MinSegments <= 0 {
		c.MinSegments = DefaultMinSegments
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = DefaultMaxSegments
	}
	return c
}

const mib = 1024 * 1024

// PlanCount chooses an initial segment count for fileSize bytes. It
// bypasses the [MinSegments, MaxSegments] clamp entirely when ranges
// are unsupported or the size is unknown, since exactly one segment is
// the only legal plan in that case.
func PlanCount(fileSize int64, supportsRanges bool, cfg PlannerConfig) int {
	cfg = cfg.withDefaults()

	if !supportsRanges || fileSize <= 0 {
		return 1
	}
	if cfg.Pinned > 0 {
		return clampInt(cfg.Pinned, cfg.MinSegments, cfg.MaxSegments)
	}

	var count int
	switch {
	case fileSize >= 100*mib:
		count = 16
	case fileSize >= 50*mib:
		count = 12
	case fileSize >= 10*mib:
		count = 6
	case fileSize >= 1*mib:
		count = 4
	default:
		count = 2
	}
	return clampInt(count, cfg.MinSegments, cfg.MaxSegments)
}

// SegmentSize is ceil(fileSize/count), clamped to [MinSegmentSize,
// MaxSegmentSize].
func SegmentSize(fileSize int64, count int, cfg PlannerConfig) int64 {
	cfg = cfg.withDefaults()
	if count <= 0 {
		count = 1
	}
	size := (fileSize + int64(count) - 1) / int64(count)
	if size < cfg.MinSegmentSize {
		size = cfg.MinSegmentSize
	}
	if size > cfg.MaxSegmentSize {
		size = cfg.MaxSegmentSize
	}
	return size
}

// PlannedSegment is a (offset, size) pair before any worker or file
// handle is attached to it.
type PlannedSegment struct {
	Offset int64
	Size   int64
}

// Plan lays out count segments covering exactly fileSize bytes: every
// segment but the last gets the table/clamped size, and the last one
// absorbs whatever remains so the sum is exact.
func Plan(fileSize int64, supportsRanges bool, cfg PlannerConfig) []PlannedSegment {
	if !supportsRanges || fileSize <= 0 {
		return []PlannedSegment{{Offset: 0, Size: fileSize}}
	}
	count := PlanCount(fileSize, supportsRanges, cfg)
	size := SegmentSize(fileSize, count, cfg)

	segments := make([]PlannedSegment, 0, count)
	var offset int64
	for i := 0; i < count && offset < fileSize; i++ {
		remaining := fileSize - offset
		segSize := size
		if i == count-1 || segSize > remaining {
			segSize = remaining
		}
		segments = append(segments, PlannedSegment{Offset: offset, Size: segSize})
		offset += segSize
	}
	return segments
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
