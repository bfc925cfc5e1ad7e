// Package optimizer turns execution history into suite-level optimization
// plans. It aggregates per-unit metrics, runs a set of pluggable strategies
// over them, applies the confident ones to projected durations, and reports
// the rest as withheld recommendations.
package optimizer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
)

const (
	// confidenceGate and speedupGate decide whether an evaluation is applied
	// to the plan or withheld. Both bounds are strict.
	confidenceGate = 0.7
	speedupGate    = 1.1

	// projectionFloor caps how far optimizations may shrink a unit's
	// projected duration, as a fraction of its historical average.
	projectionFloor = 0.10

	// historyWindow bounds how many records per unit feed the analysis.
	historyWindow = 50
)

// RecordSource supplies per-unit execution history. Executions returns
// records most recent first, the order *history.Store delivers them in.
type RecordSource interface {
	Paths() ([]string, error)
	Executions(path string, limit int) ([]history.Record, error)
}

// AppliedOptimization is a strategy evaluation that cleared both gates and
// now shapes the unit's projected duration.
type AppliedOptimization struct {
	Path              string
	Strategy          string
	EstimatedSpeedup  float64
	Confidence        float64
	Recommendations   []string
	ProjectedDuration time.Duration
}

// LowConfidenceOptimization is a recommendation withheld from the plan
// because its evaluation did not clear the apply gates.
type LowConfidenceOptimization struct {
	Path             string
	Strategy         string
	EstimatedSpeedup float64
	Confidence       float64
}

// Error implements the error interface for LowConfidenceOptimization.
func (e *LowConfidenceOptimization) Error() string {
	return fmt.Sprintf("optimization %s withheld for %s: confidence %.2f, estimated speedup %.2fx",
		e.Strategy, e.Path, e.Confidence, e.EstimatedSpeedup)
}

// IsLowConfidence checks if the error is or wraps a LowConfidenceOptimization.
func IsLowConfidence(err error) bool {
	if err == nil {
		return false
	}
	var lc *LowConfidenceOptimization
	return errors.As(err, &lc)
}

// RiskLevel categorizes a risk signal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment summarizes how risky it is to trust this plan's
// optimizations, from the suite's own history.
type RiskAssessment struct {
	Stability   RiskLevel // from flakiness scores
	Performance RiskLevel // from rising resource trends
	Reliability RiskLevel // from failure rates
	Notes       []string
}

// Plan is the outcome of one analysis pass over the history store.
type Plan struct {
	GeneratedAt time.Time
	Metrics     map[string]UnitMetrics
	Applied     []AppliedOptimization
	Withheld    []*LowConfidenceOptimization
	Projections map[string]time.Duration
	Risk        RiskAssessment
}

// AverageDuration returns the plan's projected duration for a unit. It
// satisfies the classifier's duration source, so an optimization-enabled run
// estimates with projections instead of raw history.
func (p *Plan) AverageDuration(path string) (time.Duration, bool) {
	d, ok := p.Projections[path]
	return d, ok
}

// EstimatedSavings sums the projected duration reduction across all units.
func (p *Plan) EstimatedSavings() time.Duration {
	var savings time.Duration
	for path, projected := range p.Projections {
		if m, ok := p.Metrics[path]; ok && m.AverageDuration > projected {
			savings += m.AverageDuration - projected
		}
	}
	return savings
}

// Optimizer analyzes execution history and produces plans.
type Optimizer struct {
	source     RecordSource
	strategies []Strategy
	window     int
}

// NewOptimizer creates an optimizer with the default strategy set.
func NewOptimizer(source RecordSource) *Optimizer {
	return NewOptimizerWithStrategies(source, DefaultStrategies())
}

// NewOptimizerWithStrategies creates an optimizer with a caller-chosen
// strategy set.
func NewOptimizerWithStrategies(source RecordSource, strategies []Strategy) *Optimizer {
	return &Optimizer{
		source:     source,
		strategies: strategies,
		window:     historyWindow,
	}
}

// Analyze computes metrics for every unit with history, evaluates each
// strategy against them, and folds the confident evaluations into projected
// durations. Projections never drop below the floor fraction of the unit's
// historical average.
func (o *Optimizer) Analyze() (*Plan, error) {
	paths, err := o.source.Paths()
	if err != nil {
		return nil, fmt.Errorf("list recorded units: %w", err)
	}

	plan := &Plan{
		GeneratedAt: time.Now(),
		Metrics:     make(map[string]UnitMetrics),
		Projections: make(map[string]time.Duration),
	}

	for _, path := range paths {
		records, err := o.source.Executions(path, o.window)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", path, err)
		}
		if len(records) == 0 {
			continue
		}

		// Sources deliver newest first; the trend math wants time order.
		chronological(records)
		m := ComputeMetrics(path, records)
		plan.Metrics[path] = m

		projected := m.AverageDuration
		floor := time.Duration(float64(m.AverageDuration) * projectionFloor)
		for _, strategy := range o.strategies {
			if !strategy.Applicable(m) {
				continue
			}
			ev := strategy.Evaluate(m)
			if ev.Confidence > confidenceGate && ev.EstimatedSpeedup > speedupGate {
				projected = time.Duration(float64(projected) / ev.EstimatedSpeedup)
				if projected < floor {
					projected = floor
				}
				plan.Applied = append(plan.Applied, AppliedOptimization{
					Path:              path,
					Strategy:          strategy.Name(),
					EstimatedSpeedup:  ev.EstimatedSpeedup,
					Confidence:        ev.Confidence,
					Recommendations:   ev.Recommendations,
					ProjectedDuration: projected,
				})
			} else {
				plan.Withheld = append(plan.Withheld, &LowConfidenceOptimization{
					Path:             path,
					Strategy:         strategy.Name(),
					EstimatedSpeedup: ev.EstimatedSpeedup,
					Confidence:       ev.Confidence,
				})
			}
		}
		plan.Projections[path] = projected
	}

	plan.Risk = assessRisk(plan.Metrics)
	return plan, nil
}

// assessRisk rolls per-unit signals up into suite-level risk categories.
func assessRisk(metrics map[string]UnitMetrics) RiskAssessment {
	assessment := RiskAssessment{
		Stability:   RiskLow,
		Performance: RiskLow,
		Reliability: RiskLow,
	}
	if len(metrics) == 0 {
		return assessment
	}

	paths := make([]string, 0, len(metrics))
	for path := range metrics {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var maxFlakiness, maxFailureRate float64
	var flakiestPath, leastReliablePath string
	rising := 0
	for _, path := range paths {
		m := metrics[path]
		if m.Flakiness > maxFlakiness {
			maxFlakiness = m.Flakiness
			flakiestPath = path
		}
		if m.FailureRate > maxFailureRate {
			maxFailureRate = m.FailureRate
			leastReliablePath = path
		}
		if m.MemoryTrend == TrendRising {
			rising++
		}
	}
	risingShare := float64(rising) / float64(len(metrics))

	assessment.Stability = riskLevel(maxFlakiness, 0.2, 0.5)
	assessment.Performance = riskLevel(risingShare, 0.2, 0.5)
	assessment.Reliability = riskLevel(maxFailureRate, 0.1, 0.25)

	if assessment.Stability != RiskLow {
		assessment.Notes = append(assessment.Notes,
			fmt.Sprintf("flakiest unit %s flips outcome in %.0f%% of recent runs", flakiestPath, maxFlakiness*100))
	}
	if assessment.Performance != RiskLow {
		assessment.Notes = append(assessment.Notes,
			fmt.Sprintf("%d of %d units show rising memory usage", rising, len(metrics)))
	}
	if assessment.Reliability != RiskLow {
		assessment.Notes = append(assessment.Notes,
			fmt.Sprintf("unit %s fails %.0f%% of runs", leastReliablePath, maxFailureRate*100))
	}
	return assessment
}

// riskLevel converts a 0-1 signal into a category given its thresholds.
func riskLevel(value, medium, high float64) RiskLevel {
	switch {
	case value >= high:
		return RiskHigh
	case value >= medium:
		return RiskMedium
	default:
		return RiskLow
	}
}
