package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
)

func rec(durationMS int64, success bool, memoryMB, workerCount int) history.Record {
	return history.Record{
		Path:        "tests/sample.test.ts",
		DurationMS:  durationMS,
		Success:     success,
		MemoryMB:    memoryMB,
		WorkerCount: workerCount,
	}
}

func TestComputeMetricsDurations(t *testing.T) {
	records := []history.Record{
		rec(100, true, 128, 1),
		rec(200, true, 128, 1),
		rec(300, true, 128, 1),
		rec(400, true, 128, 1),
		rec(500, true, 128, 1),
	}

	m := ComputeMetrics("tests/sample.test.ts", records)
	assert.Equal(t, "tests/sample.test.ts", m.Path)
	assert.Equal(t, 5, m.Samples)
	assert.Equal(t, 300*time.Millisecond, m.AverageDuration)
	assert.Equal(t, 300*time.Millisecond, m.MedianDuration)
	assert.Equal(t, 500*time.Millisecond, m.P95Duration)
	assert.Zero(t, m.FailureRate)
	assert.Zero(t, m.Flakiness)
	assert.Equal(t, TrendFlat, m.MemoryTrend)
	assert.Equal(t, 1.0, m.SpeedupFactor)
}

func TestComputeMetricsNoRecords(t *testing.T) {
	m := ComputeMetrics("tests/sample.test.ts", nil)
	assert.Equal(t, 0, m.Samples)
	assert.Zero(t, m.AverageDuration)
	assert.Equal(t, 1.0, m.SpeedupFactor)
	assert.Equal(t, TrendFlat, m.MemoryTrend)
}

func TestComputeMetricsSingleRecord(t *testing.T) {
	m := ComputeMetrics("tests/sample.test.ts", []history.Record{rec(250, true, 64, 1)})
	assert.Equal(t, 250*time.Millisecond, m.AverageDuration)
	assert.Equal(t, 250*time.Millisecond, m.MedianDuration)
	assert.Equal(t, 250*time.Millisecond, m.P95Duration)
	assert.Zero(t, m.Flakiness)
}

func TestMedianAveragesMiddlePairForEvenCounts(t *testing.T) {
	records := []history.Record{
		rec(100, true, 128, 1),
		rec(200, true, 128, 1),
		rec(300, true, 128, 1),
		rec(400, true, 128, 1),
	}

	m := ComputeMetrics("tests/sample.test.ts", records)
	assert.Equal(t, 250*time.Millisecond, m.MedianDuration)
}

func TestFailureRate(t *testing.T) {
	records := []history.Record{
		rec(100, true, 128, 1),
		rec(100, false, 128, 1),
		rec(100, true, 128, 1),
		rec(100, true, 128, 1),
	}

	m := ComputeMetrics("tests/sample.test.ts", records)
	assert.InDelta(t, 0.25, m.FailureRate, 0.001)
}

func TestFlakiness(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     float64
	}{
		{
			name:     "alternating outcomes are maximally flaky",
			outcomes: []bool{true, false, true, false, true, false},
			want:     1.0,
		},
		{
			name:     "steady passes are not flaky",
			outcomes: []bool{true, true, true, true, true, true},
			want:     0.0,
		},
		{
			name:     "steady failures are not flaky either",
			outcomes: []bool{false, false, false, false},
			want:     0.0,
		},
		{
			name:     "single flip over four runs",
			outcomes: []bool{true, true, true, false},
			want:     1.0 / 3.0,
		},
		{
			name:     "single outcome has no flip opportunities",
			outcomes: []bool{false},
			want:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []history.Record
			for _, ok := range tt.outcomes {
				records = append(records, rec(100, ok, 128, 1))
			}
			m := ComputeMetrics("tests/sample.test.ts", records)
			assert.InDelta(t, tt.want, m.Flakiness, 0.001)
		})
	}
}

func TestFlakinessOnlyConsidersRecentWindow(t *testing.T) {
	// Five alternating outcomes followed by ten steady passes: the window
	// holds only the steady tail.
	var records []history.Record
	for i := 0; i < 5; i++ {
		records = append(records, rec(100, i%2 == 0, 128, 1))
	}
	for i := 0; i < flakinessWindow; i++ {
		records = append(records, rec(100, true, 128, 1))
	}

	m := ComputeMetrics("tests/sample.test.ts", records)
	assert.Zero(t, m.Flakiness)
}

func TestMemoryTrend(t *testing.T) {
	tests := []struct {
		name     string
		memories []int
		want     Trend
	}{
		{name: "steadily growing memory", memories: []int{100, 120, 140, 160, 180}, want: TrendRising},
		{name: "shrinking memory", memories: []int{200, 180, 160, 140}, want: TrendFalling},
		{name: "constant memory", memories: []int{128, 128, 128, 128}, want: TrendFlat},
		{name: "single sample has no trend", memories: []int{512}, want: TrendFlat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []history.Record
			for _, mem := range tt.memories {
				records = append(records, rec(100, true, mem, 1))
			}
			m := ComputeMetrics("tests/sample.test.ts", records)
			assert.Equal(t, tt.want, m.MemoryTrend)
		})
	}
}

func TestSpeedupFactor(t *testing.T) {
	tests := []struct {
		name    string
		records []history.Record
		want    float64
	}{
		{
			name: "multi-worker runs twice as fast",
			records: []history.Record{
				rec(1000, true, 128, 1),
				rec(1000, true, 128, 1),
				rec(500, true, 128, 4),
				rec(500, true, 128, 4),
			},
			want: 2.0,
		},
		{
			name: "only single-worker history",
			records: []history.Record{
				rec(1000, true, 128, 1),
				rec(1000, true, 128, 1),
			},
			want: 1.0,
		},
		{
			name: "only multi-worker history",
			records: []history.Record{
				rec(500, true, 128, 4),
			},
			want: 1.0,
		},
		{
			name: "zero worker count counts as single",
			records: []history.Record{
				rec(900, true, 128, 0),
				rec(300, true, 128, 2),
			},
			want: 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMetrics("tests/sample.test.ts", tt.records)
			assert.InDelta(t, tt.want, m.SpeedupFactor, 0.001)
		})
	}
}

func TestTrendString(t *testing.T) {
	assert.Equal(t, "rising", TrendRising.String())
	assert.Equal(t, "falling", TrendFalling.String())
	assert.Equal(t, "flat", TrendFlat.String())
	assert.Equal(t, "unknown", Trend(99).String())
}
