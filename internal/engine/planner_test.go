package engine

import "testing"

func TestPlanCountTable(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		ranges  bool
		want    int
	}{
		{"unranged", 500 * mib, false, 1},
		{"unknown-size", 0, true, 1},
		{"100mib", 100 * mib, true, 16},
		{"50mib", 50 * mib, true, 12},
		{"10mib", 10 * mib, true, 6},
		{"1mib", 1 * mib, true, 4},
		{"under-1mib", 500_000, true, 2},
		{"one-byte", 1, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanCount(tt.size, tt.ranges, PlannerConfig{})
			if got != tt.want {
				t.Errorf("PlanCount(%d, %v) = %d, want %d", tt.size, tt.ranges, got, tt.want)
			}
		})
	}
}

func TestPlanCountRespectsBounds(t *testing.T) {
	cfg := PlannerConfig{MinSegments: 3, MaxSegments: 5}
	if got := PlanCount(1, true, cfg); got != 3 {
		t.Errorf("under min: got %d, want 3", got)
	}
	if got := PlanCount(1000*mib, true, cfg); got != 5 {
		t.Errorf("over max: got %d, want 5", got)
	}
}

func TestPlanCountPinned(t *testing.T) {
	cfg := PlannerConfig{Pinned: 8}
	if got := PlanCount(100*mib, true, cfg); got != 8 {
		t.Errorf("got %d, want 8", got)
	}
	// a pinned count is still clamped to [min, max]
	cfg.MaxSegments = 4
	if got := PlanCount(100*mib, true, cfg); got != 4 {
		t.Errorf("got %d, want 4 (clamped)", got)
	}
}

// TestPlanSixWaySplit exercises the 10 MiB bracket of §4.6's table: a
// 10 MiB (10,485,760 byte) file with ranges supported plans 6 segments
// of ceil(10485760/6) bytes each, with the last segment absorbing the
// remainder so the sum is exact. 10,000,000 bytes is below 10 MiB and
// plans 4, and 100,000,000 bytes falls in the 50 MiB bracket (count
// 12); see TestPlanCountTable.
func TestPlanSixWaySplit(t *testing.T) {
	const total = 10 * mib
	segs := Plan(total, true, PlannerConfig{})
	if len(segs) != 6 {
		t.Fatalf("len(segs) = %d, want 6", len(segs))
	}
	const wantSize = 1_747_627
	var sum int64
	for i, s := range segs {
		sum += s.Size
		if i < len(segs)-1 && s.Size != wantSize {
			t.Errorf("segment %d size = %d, want %d", i, s.Size, wantSize)
		}
	}
	if last := segs[len(segs)-1].Size; last != 1_747_625 {
		t.Errorf("last segment size = %d, want 1747625", last)
	}
	if sum != total {
		t.Errorf("sum of sizes = %d, want %d", sum, total)
	}
}

func TestPlanSingleSegmentWhenUnranged(t *testing.T) {
	segs := Plan(12345, false, PlannerConfig{})
	if len(segs) != 1 || segs[0].Size != 12345 || segs[0].Offset != 0 {
		t.Fatalf("unexpected plan: %+v", segs)
	}
}

func TestPlanOneByteRanged(t *testing.T) {
	segs := Plan(1, true, PlannerConfig{})
	var sum int64
	for _, s := range segs {
		sum += s.Size
	}
	if sum != 1 {
		t.Errorf("sum = %d, want 1", sum)
	}
}

func TestSegmentSizeClampedToBounds(t *testing.T) {
	cfg := PlannerConfig{MinSegmentSize: 1000, MaxSegmentSize: 2000}
	if got := SegmentSize(1, 1, cfg); got != 1000 {
		t.Errorf("got %d, want clamped to min 1000", got)
	}
	if got := SegmentSize(1_000_000, 1, cfg); got != 2000 {
		t.Errorf("got %d, want clamped to max 2000", got)
	}
}
