package resource

import (
	"math"
	"testing"
	"time"
)

func TestRecordClampsAndBoundsWindow(t *testing.T) {
	a := &Allocation{}
	now := time.Now()

	a.record(-0.5, now)
	a.record(1.5, now)
	if a.samples[0].Utilization != 0 || a.samples[1].Utilization != 1 {
		t.Errorf("samples = %v, want clamped to [0,1]", a.samples)
	}

	for i := 0; i < 20; i++ {
		a.record(0.5, now)
	}
	if len(a.samples) != sampleWindow {
		t.Errorf("window size = %d, want %d", len(a.samples), sampleWindow)
	}
}

func TestEfficiencyWeighsRecentSamples(t *testing.T) {
	now := time.Now()

	fading := &Allocation{}
	fading.record(1.0, now)
	fading.record(0.0, now)

	ramping := &Allocation{}
	ramping.record(0.0, now)
	ramping.record(1.0, now)

	if got, want := fading.efficiency(), 1.0/3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("fading efficiency = %v, want %v", got, want)
	}
	if got, want := ramping.efficiency(), 2.0/3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("ramping efficiency = %v, want %v", got, want)
	}
	if fading.efficiency() >= ramping.efficiency() {
		t.Error("recent samples should dominate the blend")
	}
}

func TestEfficiencyWithoutSamples(t *testing.T) {
	a := &Allocation{}
	if got := a.efficiency(); got != 1.0 {
		t.Errorf("efficiency() = %v, want 1.0 for unsampled allocations", got)
	}
}

func TestFullUsageSampler(t *testing.T) {
	var s UsageSampler = FullUsageSampler{}
	if got := s.Sample(&Allocation{Amount: 100}); got != 1.0 {
		t.Errorf("Sample() = %v, want 1.0", got)
	}
}

func TestAllocationExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"no expiry", time.Time{}, false},
		{"future", now.Add(time.Minute), false},
		{"past", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Allocation{ExpiresAt: tt.expiresAt}
			if got := a.expired(now); got != tt.want {
				t.Errorf("expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
