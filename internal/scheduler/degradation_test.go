package scheduler

import (
	"testing"
	"time"
)

func calmMetrics() HealthMetrics {
	return HealthMetrics{ErrorRate: 0.01, MemoryUsage: 0.30, ResponseTime: time.Second}
}

func TestEscalationJumpsToHighestExceededLevel(t *testing.T) {
	d := NewDegradationController()
	now := time.Now()

	// Error rate 0.6 trips levels 1 through 4 but not 5 (0.75).
	level, changed := d.Evaluate(HealthMetrics{ErrorRate: 0.6}, now)
	if level != 4 || !changed {
		t.Fatalf("Evaluate() = (%d, %v), want (4, true)", level, changed)
	}
	if d.Action() != ActionSequential {
		t.Errorf("Action() = %s, want sequential", d.Action())
	}
	if d.Peak() != 4 {
		t.Errorf("Peak() = %d, want 4", d.Peak())
	}
}

func TestEachMetricAloneCanEscalate(t *testing.T) {
	tests := []struct {
		name    string
		metrics HealthMetrics
		want    int
	}{
		{"error rate", HealthMetrics{ErrorRate: 0.15}, 1},
		{"memory usage", HealthMetrics{MemoryUsage: 0.82}, 2},
		{"response time", HealthMetrics{ResponseTime: 3 * time.Minute}, 3},
		{"at threshold stays healthy", HealthMetrics{ErrorRate: 0.10, MemoryUsage: 0.70, ResponseTime: 30 * time.Second}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDegradationController()
			level, _ := d.Evaluate(tt.metrics, time.Now())
			if level != tt.want {
				t.Errorf("Evaluate(%+v) level = %d, want %d", tt.metrics, level, tt.want)
			}
		})
	}
}

func TestRecoveryStepsDownOneLevelPerCooldown(t *testing.T) {
	d := NewDegradationControllerWithConfig(DegradationConfig{Cooldown: 30 * time.Second})
	t0 := time.Now()

	if level, _ := d.Evaluate(HealthMetrics{ErrorRate: 0.40}, t0); level != 3 {
		t.Fatalf("setup level = %d, want 3", level)
	}

	// First calm check starts the clock; no step yet.
	if level, changed := d.Evaluate(calmMetrics(), t0); level != 3 || changed {
		t.Fatalf("first calm check = (%d, %v), want (3, false)", level, changed)
	}
	// Still inside the cooldown window.
	if level, _ := d.Evaluate(calmMetrics(), t0.Add(29*time.Second)); level != 3 {
		t.Fatalf("level before cooldown elapsed = %d, want 3", level)
	}
	// Cooldown elapsed: exactly one step down, not a jump to 0.
	level, changed := d.Evaluate(calmMetrics(), t0.Add(30*time.Second))
	if level != 2 || !changed {
		t.Fatalf("after cooldown = (%d, %v), want (2, true)", level, changed)
	}
	// The clock restarts after each step.
	if level, changed := d.Evaluate(calmMetrics(), t0.Add(31*time.Second)); level != 2 || changed {
		t.Fatalf("right after stepping = (%d, %v), want (2, false)", level, changed)
	}
	if level, _ := d.Evaluate(calmMetrics(), t0.Add(61*time.Second)); level != 1 {
		t.Fatalf("second recovery step level = %d, want 1", level)
	}
	d.Evaluate(calmMetrics(), t0.Add(62*time.Second))
	if level, _ := d.Evaluate(calmMetrics(), t0.Add(92*time.Second)); level != 0 {
		t.Fatalf("final recovery step level = %d, want 0", level)
	}
	if d.Peak() != 3 {
		t.Errorf("Peak() = %d, want 3 preserved through recovery", d.Peak())
	}
}

func TestMetricsSpikesRestartTheCalmClock(t *testing.T) {
	d := NewDegradationControllerWithConfig(DegradationConfig{Cooldown: 30 * time.Second})
	t0 := time.Now()

	d.Evaluate(HealthMetrics{ErrorRate: 0.25}, t0) // level 2
	d.Evaluate(calmMetrics(), t0)                  // clock starts

	// Metrics trip level 2 again 20s in: the calm streak is void.
	if level, changed := d.Evaluate(HealthMetrics{ErrorRate: 0.25}, t0.Add(20*time.Second)); level != 2 || changed {
		t.Fatalf("re-trip = (%d, %v), want (2, false)", level, changed)
	}
	// 30s after the original calm start is not enough anymore.
	if level, _ := d.Evaluate(calmMetrics(), t0.Add(31*time.Second)); level != 2 {
		t.Fatalf("level = %d, want 2: the spike restarted the clock", level)
	}
	// A full fresh cooldown after the spike steps down.
	if level, _ := d.Evaluate(calmMetrics(), t0.Add(62*time.Second)); level != 1 {
		t.Fatalf("level = %d, want 1 after a fresh cooldown", level)
	}
}

func TestEscalationDuringRecoveryJumpsBackUp(t *testing.T) {
	d := NewDegradationControllerWithConfig(DegradationConfig{Cooldown: time.Second})
	t0 := time.Now()

	d.Evaluate(HealthMetrics{ErrorRate: 0.40}, t0) // level 3
	d.Evaluate(calmMetrics(), t0)
	d.Evaluate(calmMetrics(), t0.Add(time.Second)) // level 2

	level, changed := d.Evaluate(HealthMetrics{MemoryUsage: 0.96}, t0.Add(2*time.Second))
	if level != 5 || !changed {
		t.Fatalf("Evaluate() = (%d, %v), want (5, true)", level, changed)
	}
	if d.Action() != ActionHalt {
		t.Errorf("Action() = %s, want halt", d.Action())
	}
	if d.Peak() != 5 {
		t.Errorf("Peak() = %d, want 5", d.Peak())
	}
}

func TestWorkerAllowance(t *testing.T) {
	tests := []struct {
		name       string
		level      int
		maxWorkers int
		want       int
	}{
		{"normal keeps the pool", 0, 4, 4},
		{"quarter reduction rounds up", 1, 4, 3},
		{"quarter reduction on small pool", 1, 2, 2},
		{"half reduction rounds up", 2, 5, 3},
		{"critical-only keeps the pool", 3, 4, 4},
		{"sequential is one worker", 4, 8, 1},
		{"halt is zero workers", 5, 8, 0},
		{"floor of one below halt", 2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDegradationController()
			d.level = tt.level
			if got := d.WorkerAllowance(tt.maxWorkers); got != tt.want {
				t.Errorf("WorkerAllowance(%d) at level %d = %d, want %d", tt.maxWorkers, tt.level, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	d := NewDegradationController()
	if got := d.Describe(); got != "level 0 (normal)" {
		t.Errorf("Describe() = %q, want %q", got, "level 0 (normal)")
	}
	d.Evaluate(HealthMetrics{ErrorRate: 0.99}, time.Now())
	if got := d.Describe(); got != "level 5 (halt)" {
		t.Errorf("Describe() = %q, want %q", got, "level 5 (halt)")
	}
}
