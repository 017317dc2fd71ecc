package engine

// Bandwidth thresholds bracketing the linear interpolation in
// AdaptiveSegmentCount: at or above HighBandwidth a transfer is
// network-bound enough that more segments just add overhead, so it
// gets the table's minimum; at or below LowBandwidth it's latency-
// bound, so it gets the maximum instead.
const (
	HighBandwidthThreshold float64 = 100 * 1024 * 1024 // 100 MB/s
	LowBandwidthThreshold  float64 = 1 * 1024 * 1024    // 1 MB/s

	// SpeedVarianceThreshold gates StealWorthwhile: work stealing only
	// kicks in once the gap between a segment's speed and the fastest
	// sibling's speed is this significant, so ordinary jitter between
	// otherwise healthy connections doesn't trigger a reshuffle.
	SpeedVarianceThreshold = 0.5
)

// AdaptiveSegmentCount chooses a segment count from measured bandwidth
// instead of PlanCount's static file-size table: a fast link gets
// fewer, larger segments (parallelism buys nothing once the link
// itself is the bottleneck); a slow one gets more, smaller segments
// (parallel connections spend time waiting on round trips instead of
// saturating one). bandwidthBps <= 0 means "unmeasured" and falls back
// to cfg.MaxSegments, matching the original's same-direction bias
// toward caution when nothing is known about the link yet.
func AdaptiveSegmentCount(bandwidthBps float64, cfg PlannerConfig) int {
	cfg = cfg.withDefaults()

	if bandwidthBps <= 0 || bandwidthBps <= LowBandwidthThreshold {
		return cfg.MaxSegments
	}
	if bandwidthBps >= HighBandwidthThreshold {
		return cfg.MinSegments
	}

	ratio := (bandwidthBps - LowBandwidthThreshold) / (HighBandwidthThreshold - LowBandwidthThreshold)
	span := float64(cfg.MaxSegments - cfg.MinSegments)
	count := cfg.MinSegments + int(span*(1.0-ratio))
	return clampInt(count, cfg.MinSegments, cfg.MaxSegments)
}

// StealWorthwhile reports whether the spread between a donor's speed
// and a struggling segment's speed is wide enough to justify carving
// off part of the donor's tail. A motionless struggling segment
// (slowBps == 0) always justifies it.
func StealWorthwhile(fastBps, slowBps float64) bool {
	if slowBps <= 0 {
		return true
	}
	if fastBps <= 0 {
		return false
	}
	variance := (fastBps - slowBps) / fastBps
	return variance > SpeedVarianceThreshold
}
