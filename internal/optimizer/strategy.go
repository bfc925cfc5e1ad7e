package optimizer

import (
	"fmt"
	"math"
	"time"
)

// Evaluation is a strategy's verdict for one unit.
type Evaluation struct {
	EstimatedSpeedup float64
	Confidence       float64
	Recommendations  []string
}

// Strategy inspects a unit's metrics and proposes a plan change. Applicable
// filters units the strategy has nothing to say about; Evaluate is only
// called for applicable units.
type Strategy interface {
	Name() string
	Applicable(m UnitMetrics) bool
	Evaluate(m UnitMetrics) Evaluation
}

// DefaultStrategies returns the built-in strategy set in evaluation order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&parallelStrategy{},
		&resourceStrategy{},
		&groupingStrategy{},
		&isolationStrategy{},
		&schedulingStrategy{},
	}
}

// parallelStrategy targets long units that have not yet benefited from
// multi-worker execution.
type parallelStrategy struct{}

func (s *parallelStrategy) Name() string { return "parallel" }

func (s *parallelStrategy) Applicable(m UnitMetrics) bool {
	return m.SpeedupFactor < 1.5 && m.AverageDuration > 5000*time.Millisecond
}

func (s *parallelStrategy) Evaluate(m UnitMetrics) Evaluation {
	// The further below 1.5x the observed speedup sits, the more headroom
	// additional parallelism has.
	speedup := 1.0 + (1.5-m.SpeedupFactor)*0.5
	return Evaluation{
		EstimatedSpeedup: speedup,
		Confidence:       0.75,
		Recommendations: []string{
			fmt.Sprintf("raise intra-group parallelism for %s (observed speedup %.2fx, average %s)",
				m.Path, m.SpeedupFactor, m.AverageDuration.Round(time.Millisecond)),
		},
	}
}

// resourceStrategy flags units whose memory footprint keeps growing; its
// confidence rises with the amount of history behind the trend.
type resourceStrategy struct{}

func (s *resourceStrategy) Name() string { return "resource" }

func (s *resourceStrategy) Applicable(m UnitMetrics) bool {
	return m.MemoryTrend == TrendRising
}

func (s *resourceStrategy) Evaluate(m UnitMetrics) Evaluation {
	confidence := 0.4 + 0.03*math.Min(float64(m.Samples), 15)
	return Evaluation{
		EstimatedSpeedup: 1.15,
		Confidence:       confidence,
		Recommendations: []string{
			fmt.Sprintf("memory usage for %s is trending up; re-profile and tighten its resource reservation", m.Path),
		},
	}
}

// groupingStrategy batches short, reliably passing units more densely.
type groupingStrategy struct{}

func (s *groupingStrategy) Name() string { return "grouping" }

func (s *groupingStrategy) Applicable(m UnitMetrics) bool {
	return m.Samples >= 3 && m.FailureRate == 0 && m.AverageDuration < time.Second
}

func (s *groupingStrategy) Evaluate(m UnitMetrics) Evaluation {
	return Evaluation{
		EstimatedSpeedup: 1.25,
		Confidence:       0.8,
		Recommendations: []string{
			fmt.Sprintf("batch %s with other short stable units to cut scheduling overhead", m.Path),
		},
	}
}

// isolationStrategy relaxes isolation for units with a spotless history.
type isolationStrategy struct{}

func (s *isolationStrategy) Name() string { return "isolation" }

func (s *isolationStrategy) Applicable(m UnitMetrics) bool {
	return m.Samples >= 5 && m.FailureRate == 0 && m.Flakiness == 0
}

func (s *isolationStrategy) Evaluate(m UnitMetrics) Evaluation {
	return Evaluation{
		EstimatedSpeedup: 1.3,
		Confidence:       0.72,
		Recommendations: []string{
			fmt.Sprintf("%s has a clean run history; consider one isolation level cheaper", m.Path),
		},
	}
}

// schedulingStrategy front-loads units with unpredictable durations so a
// straggler cannot extend the run's tail.
type schedulingStrategy struct{}

func (s *schedulingStrategy) Name() string { return "scheduling" }

func (s *schedulingStrategy) Applicable(m UnitMetrics) bool {
	return m.Samples >= 5 && m.P95Duration > 2*m.MedianDuration
}

func (s *schedulingStrategy) Evaluate(m UnitMetrics) Evaluation {
	return Evaluation{
		EstimatedSpeedup: 1.12,
		Confidence:       0.75,
		Recommendations: []string{
			fmt.Sprintf("schedule %s early: p95 %s is well above median %s",
				m.Path, m.P95Duration.Round(time.Millisecond), m.MedianDuration.Round(time.Millisecond)),
		},
	}
}
