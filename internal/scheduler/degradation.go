package scheduler

import (
	"fmt"
	"time"
)

// DegradationAction names the posture the scheduler takes at a ladder level.
type DegradationAction int

const (
	// ActionNormal runs the full worker pool with no filtering.
	ActionNormal DegradationAction = iota
	// ActionReduceWorkersQuarter trims the pool to 75% of configured workers.
	ActionReduceWorkersQuarter
	// ActionReduceWorkersHalf trims the pool to 50% of configured workers.
	ActionReduceWorkersHalf
	// ActionCriticalOnly skips every group below critical priority.
	ActionCriticalOnly
	// ActionSequential forces a single worker.
	ActionSequential
	// ActionHalt stops dispatching entirely.
	ActionHalt
)

// String returns the string representation of DegradationAction.
func (a DegradationAction) String() string {
	switch a {
	case ActionNormal:
		return "normal"
	case ActionReduceWorkersQuarter:
		return "reduce-workers-75"
	case ActionReduceWorkersHalf:
		return "reduce-workers-50"
	case ActionCriticalOnly:
		return "critical-only"
	case ActionSequential:
		return "sequential"
	case ActionHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// HealthMetrics is the triple the ladder evaluates on each check.
type HealthMetrics struct {
	ErrorRate    float64       // failed / completed units, 0..1
	MemoryUsage  float64       // memory pool utilization, 0..1
	ResponseTime time.Duration // rolling average group duration
}

// DegradationLevel pairs a ladder rung with the thresholds that trigger it.
// A level is exceeded when any one of its thresholds is.
type DegradationLevel struct {
	Level        int
	Action       DegradationAction
	ErrorRate    float64
	MemoryUsage  float64
	ResponseTime time.Duration
}

// defaultLadder covers levels 1-5; level 0 is the implicit healthy state.
var defaultLadder = []DegradationLevel{
	{Level: 1, Action: ActionReduceWorkersQuarter, ErrorRate: 0.10, MemoryUsage: 0.70, ResponseTime: 30 * time.Second},
	{Level: 2, Action: ActionReduceWorkersHalf, ErrorRate: 0.20, MemoryUsage: 0.80, ResponseTime: 60 * time.Second},
	{Level: 3, Action: ActionCriticalOnly, ErrorRate: 0.35, MemoryUsage: 0.85, ResponseTime: 2 * time.Minute},
	{Level: 4, Action: ActionSequential, ErrorRate: 0.50, MemoryUsage: 0.90, ResponseTime: 4 * time.Minute},
	{Level: 5, Action: ActionHalt, ErrorRate: 0.75, MemoryUsage: 0.95, ResponseTime: 8 * time.Minute},
}

// exceeded reports whether the metrics trip this level's thresholds.
func (l DegradationLevel) exceeded(m HealthMetrics) bool {
	return m.ErrorRate > l.ErrorRate ||
		m.MemoryUsage > l.MemoryUsage ||
		m.ResponseTime > l.ResponseTime
}

// DegradationConfig holds ladder tuning.
type DegradationConfig struct {
	// Ladder lists the levels in ascending order (default: defaultLadder)
	Ladder []DegradationLevel

	// Cooldown is how long metrics must stay calm before stepping down one
	// level (default: 30s)
	Cooldown time.Duration
}

// DefaultDegradationConfig returns sensible defaults.
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		Ladder:   defaultLadder,
		Cooldown: 30 * time.Second,
	}
}

// DegradationController tracks the scheduler's position on the ladder.
// Escalation jumps straight to the highest exceeded level; recovery steps
// down exactly one level per cooldown of calm metrics.
//
// Not safe for concurrent use; driven from the coordinator loop only.
type DegradationController struct {
	config    DegradationConfig
	level     int
	peak      int
	calmSince time.Time // zero while metrics still justify the current level
}

// NewDegradationController creates a controller at level 0 with defaults.
func NewDegradationController() *DegradationController {
	return NewDegradationControllerWithConfig(DefaultDegradationConfig())
}

// NewDegradationControllerWithConfig creates a controller at level 0.
func NewDegradationControllerWithConfig(config DegradationConfig) *DegradationController {
	if len(config.Ladder) == 0 {
		config.Ladder = defaultLadder
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &DegradationController{config: config}
}

// Evaluate feeds current metrics into the ladder and returns the level after
// this check plus whether it changed.
func (d *DegradationController) Evaluate(m HealthMetrics, now time.Time) (level int, changed bool) {
	target := d.highestExceeded(m)

	if target > d.level {
		d.level = target
		if d.level > d.peak {
			d.peak = d.level
		}
		d.calmSince = time.Time{}
		return d.level, true
	}

	if d.level == 0 {
		return 0, false
	}

	// Metrics still trip the current level: stay put and restart the clock.
	if target == d.level {
		d.calmSince = time.Time{}
		return d.level, false
	}

	if d.calmSince.IsZero() {
		d.calmSince = now
		return d.level, false
	}
	if now.Sub(d.calmSince) >= d.config.Cooldown {
		d.level--
		d.calmSince = time.Time{}
		return d.level, true
	}
	return d.level, false
}

// Level returns the current ladder position.
func (d *DegradationController) Level() int {
	return d.level
}

// Peak returns the highest level reached since construction.
func (d *DegradationController) Peak() int {
	return d.peak
}

// Action returns the named action for the current level.
func (d *DegradationController) Action() DegradationAction {
	return d.actionFor(d.level)
}

func (d *DegradationController) actionFor(level int) DegradationAction {
	if level == 0 {
		return ActionNormal
	}
	for _, l := range d.config.Ladder {
		if l.Level == level {
			return l.Action
		}
	}
	return ActionNormal
}

// WorkerAllowance maps the current action onto an allowed worker count.
func (d *DegradationController) WorkerAllowance(maxWorkers int) int {
	allowed := maxWorkers
	switch d.Action() {
	case ActionReduceWorkersQuarter:
		allowed = (maxWorkers*3 + 3) / 4
	case ActionReduceWorkersHalf:
		allowed = (maxWorkers + 1) / 2
	case ActionSequential:
		allowed = 1
	case ActionHalt:
		allowed = 0
	}
	if allowed < 1 && d.Action() != ActionHalt {
		allowed = 1
	}
	return allowed
}

func (d *DegradationController) highestExceeded(m HealthMetrics) int {
	target := 0
	for _, l := range d.config.Ladder {
		if l.exceeded(m) && l.Level > target {
			target = l.Level
		}
	}
	return target
}

// Describe summarizes the controller state for logs.
func (d *DegradationController) Describe() string {
	return fmt.Sprintf("level %d (%s)", d.level, d.Action())
}
