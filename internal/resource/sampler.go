package resource

import (
	"time"
)

// sampleWindow bounds the per-allocation usage history.
const sampleWindow = 10

// UsageSample is one observation of how much of an allocation was actually
// used.
type UsageSample struct {
	Utilization float64 // 0..1 share of the allocated amount in use
	At          time.Time
}

// UsageSampler observes an allocation's current utilization. Real
// deployments plug in process or cgroup instrumentation; the default
// reports full usage so the governor never reclaims on guesswork.
type UsageSampler interface {
	Sample(a *Allocation) float64
}

// FullUsageSampler reports every allocation as fully used. It is the
// conservative stand-in until real instrumentation is wired up: efficiency
// stays at 1.0, so only expiry-based reclamation can fire.
type FullUsageSampler struct{}

func (FullUsageSampler) Sample(*Allocation) float64 { return 1.0 }

// record appends a sample, keeping the window bounded.
func (a *Allocation) record(utilization float64, at time.Time) {
	if utilization < 0 {
		utilization = 0
	}
	if utilization > 1 {
		utilization = 1
	}
	a.samples = append(a.samples, UsageSample{Utilization: utilization, At: at})
	if len(a.samples) > sampleWindow {
		a.samples = a.samples[len(a.samples)-sampleWindow:]
	}
}

// efficiency blends recent utilization samples with recency weighting:
// newer samples count more. With no samples the allocation is presumed
// fully used, which keeps it off the reclamation list.
func (a *Allocation) efficiency() float64 {
	if len(a.samples) == 0 {
		return 1.0
	}
	var weighted, weights float64
	for i, s := range a.samples {
		w := float64(i + 1)
		weighted += w * s.Utilization
		weights += w
	}
	return weighted / weights
}
