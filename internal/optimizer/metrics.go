package optimizer

import (
	"math"
	"sort"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
)

// flakinessWindow bounds how many recent outcomes feed the flakiness score.
const flakinessWindow = 10

// trendEpsilon absorbs float noise when reading the regression slope sign.
const trendEpsilon = 0.05

// Trend is the direction of a unit's resource usage over recent runs.
type Trend int

const (
	TrendFlat Trend = iota
	TrendRising
	TrendFalling
)

// String returns a human-readable trend name.
func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	case TrendFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// UnitMetrics aggregates one unit's execution history.
type UnitMetrics struct {
	Path            string
	Samples         int
	AverageDuration time.Duration
	MedianDuration  time.Duration
	P95Duration     time.Duration
	FailureRate     float64 // failed runs / total runs
	Flakiness       float64 // outcome flips / opportunities in the recent window
	MemoryTrend     Trend   // regression slope sign of memory usage
	SpeedupFactor   float64 // single-worker average / multi-worker average
}

// chronological flips a newest-first record slice into time order in place.
func chronological(records []history.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

// ComputeMetrics builds UnitMetrics from records in chronological order.
func ComputeMetrics(path string, records []history.Record) UnitMetrics {
	m := UnitMetrics{Path: path, Samples: len(records), SpeedupFactor: 1.0}
	if len(records) == 0 {
		return m
	}

	durations := make([]time.Duration, len(records))
	var total time.Duration
	failures := 0
	for i, r := range records {
		durations[i] = r.Duration()
		total += durations[i]
		if !r.Success {
			failures++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	m.AverageDuration = total / time.Duration(len(records))
	m.MedianDuration = median(durations)
	m.P95Duration = percentile(durations, 0.95)
	m.FailureRate = float64(failures) / float64(len(records))
	m.Flakiness = flakiness(records)
	m.MemoryTrend = memoryTrend(records)
	m.SpeedupFactor = speedupFactor(records)
	return m
}

func median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentile returns the nearest-rank percentile of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// flakiness is the ratio of pass/fail flips between consecutive runs within
// the recent window: 0 for a steady unit, 1 for one that alternates every run.
func flakiness(records []history.Record) float64 {
	window := records
	if len(window) > flakinessWindow {
		window = window[len(window)-flakinessWindow:]
	}
	if len(window) < 2 {
		return 0
	}
	flips := 0
	for i := 1; i < len(window); i++ {
		if window[i].Success != window[i-1].Success {
			flips++
		}
	}
	return float64(flips) / float64(len(window)-1)
}

// memoryTrend fits a least-squares line through memory usage over run index
// and reports the slope sign.
func memoryTrend(records []history.Record) Trend {
	n := float64(len(records))
	if n < 2 {
		return TrendFlat
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, r := range records {
		x := float64(i)
		y := float64(r.MemoryMB)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return TrendFlat
	}
	slope := (n*sumXY - sumX*sumY) / denom
	switch {
	case slope > trendEpsilon:
		return TrendRising
	case slope < -trendEpsilon:
		return TrendFalling
	default:
		return TrendFlat
	}
}

// speedupFactor compares single-worker and multi-worker run averages. 1.0
// means no observed benefit, or not enough data to compare.
func speedupFactor(records []history.Record) float64 {
	var singleTotal, multiTotal time.Duration
	singleCount, multiCount := 0, 0
	for _, r := range records {
		if r.WorkerCount <= 1 {
			singleTotal += r.Duration()
			singleCount++
		} else {
			multiTotal += r.Duration()
			multiCount++
		}
	}
	if singleCount == 0 || multiCount == 0 {
		return 1.0
	}
	singleAvg := float64(singleTotal) / float64(singleCount)
	multiAvg := float64(multiTotal) / float64(multiCount)
	if multiAvg <= 0 {
		return 1.0
	}
	return singleAvg / multiAvg
}
