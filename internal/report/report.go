// Package report persists run outcomes under the configured output
// directory: results.json with per-group and per-unit verdicts, metrics.json
// with utilization and optimization impact, and a human-readable summary.md.
// All writes go through atomic temp-and-rename, serialized by a file lock so
// concurrent runs sharing an output directory cannot interleave.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/filelock"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/optimizer"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
)

const (
	resultsFileName = "results.json"
	metricsFileName = "metrics.json"
	summaryFileName = "summary.md"
	lockFileName    = ".report.lock"
)

// RunReport bundles everything one run produces for persistence.
type RunReport struct {
	Result     *models.RunResult
	Pools      []resource.PoolSnapshot
	Plan       *optimizer.Plan // nil when historical optimization is off
	StartedAt  time.Time
	FinishedAt time.Time
	Workers    int
}

// Writer persists run reports into one output directory.
type Writer struct {
	dir  string
	lock *filelock.FileLock
}

// NewWriter creates a report writer for outputDir. The directory is created
// on first write.
func NewWriter(outputDir string) *Writer {
	return &Writer{
		dir:  outputDir,
		lock: filelock.NewFileLock(filepath.Join(outputDir, lockFileName)),
	}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write persists results.json, metrics.json and summary.md under the output
// directory, holding the directory lock for the duration.
func (w *Writer) Write(report RunReport) error {
	if report.Result == nil {
		return fmt.Errorf("write report: no run result")
	}

	// The lock file's parent must exist before flock can create it.
	if err := filelock.EnsureDir(w.dir); err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock output directory: %w", err)
	}
	defer w.lock.Unlock()

	results, err := json.MarshalIndent(buildResults(report), "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(w.dir, resultsFileName), results); err != nil {
		return fmt.Errorf("write %s: %w", resultsFileName, err)
	}

	metrics, err := json.MarshalIndent(buildMetrics(report), "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(w.dir, metricsFileName), metrics); err != nil {
		return fmt.Errorf("write %s: %w", metricsFileName, err)
	}

	summary := []byte(buildSummary(report))
	if err := filelock.AtomicWrite(filepath.Join(w.dir, summaryFileName), summary); err != nil {
		return fmt.Errorf("write %s: %w", summaryFileName, err)
	}
	return nil
}

// resultsFile is the wire shape of results.json.
type resultsFile struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DurationMS int64        `json:"duration_ms"`
	Workers    int          `json:"workers"`
	Success    bool         `json:"success"`
	Totals     resultTotals `json:"totals"`
	Groups     []groupEntry `json:"groups"`
}

type resultTotals struct {
	Groups  int `json:"groups"`
	Units   int `json:"units"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type groupEntry struct {
	ID          string      `json:"id"`
	WorkerID    string      `json:"worker_id"`
	Status      string      `json:"status"`
	DurationMS  int64       `json:"duration_ms"`
	Parallelism int         `json:"parallelism"`
	Warnings    []string    `json:"warnings,omitempty"`
	Units       []unitEntry `json:"units"`
}

type unitEntry struct {
	Path          string `json:"path"`
	Status        string `json:"status"`
	DurationMS    int64  `json:"duration_ms"`
	MemoryMB      int    `json:"memory_mb,omitempty"`
	DBConnections int    `json:"db_connections,omitempty"`
	Retries       int    `json:"retries,omitempty"`
	Error         string `json:"error,omitempty"`
}

func buildResults(report RunReport) resultsFile {
	result := report.Result
	file := resultsFile{
		RunID:      result.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		DurationMS: result.Duration.Milliseconds(),
		Workers:    report.Workers,
		Success:    result.Success(),
		Totals: resultTotals{
			Groups:  result.TotalGroups,
			Units:   result.TotalUnits,
			Passed:  result.Passed,
			Failed:  result.Failed,
			Skipped: result.Skipped,
		},
	}
	for i := range result.Groups {
		group := &result.Groups[i]
		entry := groupEntry{
			ID:          group.GroupID,
			WorkerID:    group.WorkerID,
			Status:      group.Status,
			DurationMS:  group.Duration.Milliseconds(),
			Parallelism: group.Parallelism,
			Warnings:    group.Warnings,
		}
		for _, unit := range group.Units {
			ue := unitEntry{
				Path:          unit.Path,
				Status:        unit.Status,
				DurationMS:    unit.Duration.Milliseconds(),
				MemoryMB:      unit.MemoryMB,
				DBConnections: unit.DBConnections,
				Retries:       unit.RetryCount,
			}
			if unit.Error != nil {
				ue.Error = unit.Error.Error()
			}
			entry.Units = append(entry.Units, ue)
		}
		file.Groups = append(file.Groups, entry)
	}
	return file
}

// metricsFile is the wire shape of metrics.json.
type metricsFile struct {
	RunID             string             `json:"run_id"`
	DegradationPeak   int                `json:"degradation_peak"`
	WorkerRestarts    int                `json:"worker_restarts"`
	DeadlocksFound    int                `json:"deadlocks_found"`
	AllocationDenials int                `json:"allocation_denials"`
	Pools             []poolEntry        `json:"pools"`
	Optimization      *optimizationEntry `json:"optimization,omitempty"`
}

type poolEntry struct {
	Type               string  `json:"type"`
	Total              int64   `json:"total"`
	Reserved           int64   `json:"reserved"`
	Allocated          int64   `json:"allocated"`
	Available          int64   `json:"available"`
	ActiveAllocations  int     `json:"active_allocations"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

type optimizationEntry struct {
	AppliedCount       int             `json:"applied_count"`
	WithheldCount      int             `json:"withheld_count"`
	EstimatedSavingsMS int64           `json:"estimated_savings_ms"`
	Applied            []appliedEntry  `json:"applied,omitempty"`
	Withheld           []withheldEntry `json:"withheld,omitempty"`
	Risk               riskEntry       `json:"risk"`
}

type appliedEntry struct {
	Path             string   `json:"path"`
	Strategy         string   `json:"strategy"`
	EstimatedSpeedup float64  `json:"estimated_speedup"`
	Confidence       float64  `json:"confidence"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

type withheldEntry struct {
	Path       string  `json:"path"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
}

type riskEntry struct {
	Stability   string   `json:"stability"`
	Performance string   `json:"performance"`
	Reliability string   `json:"reliability"`
	Notes       []string `json:"notes,omitempty"`
}

func buildMetrics(report RunReport) metricsFile {
	result := report.Result
	file := metricsFile{
		RunID:             result.RunID,
		DegradationPeak:   result.DegradationPeak,
		WorkerRestarts:    result.WorkerRestarts,
		DeadlocksFound:    result.DeadlocksFound,
		AllocationDenials: result.AllocationDenials,
	}
	for _, snap := range report.Pools {
		entry := poolEntry{
			Type:              string(snap.Type),
			Total:             snap.Total,
			Reserved:          snap.Reserved,
			Allocated:         snap.Allocated,
			Available:         snap.Available,
			ActiveAllocations: snap.ActiveAllocations,
		}
		if snap.Total > 0 {
			entry.UtilizationPercent = 100 * float64(snap.Allocated) / float64(snap.Total)
		}
		file.Pools = append(file.Pools, entry)
	}
	if report.Plan != nil {
		file.Optimization = buildOptimization(report.Plan)
	}
	return file
}

func buildOptimization(plan *optimizer.Plan) *optimizationEntry {
	entry := &optimizationEntry{
		AppliedCount:       len(plan.Applied),
		WithheldCount:      len(plan.Withheld),
		EstimatedSavingsMS: plan.EstimatedSavings().Milliseconds(),
		Risk: riskEntry{
			Stability:   string(plan.Risk.Stability),
			Performance: string(plan.Risk.Performance),
			Reliability: string(plan.Risk.Reliability),
			Notes:       plan.Risk.Notes,
		},
	}
	for _, applied := range plan.Applied {
		entry.Applied = append(entry.Applied, appliedEntry{
			Path:             applied.Path,
			Strategy:         applied.Strategy,
			EstimatedSpeedup: applied.EstimatedSpeedup,
			Confidence:       applied.Confidence,
			Recommendations:  applied.Recommendations,
		})
	}
	for _, withheld := range plan.Withheld {
		entry.Withheld = append(entry.Withheld, withheldEntry{
			Path:       withheld.Path,
			Strategy:   withheld.Strategy,
			Confidence: withheld.Confidence,
		})
	}
	return entry
}

// buildSummary renders the human-readable summary.md.
func buildSummary(report RunReport) string {
	result := report.Result
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Test Run %s\n\n", result.RunID)
	fmt.Fprintf(&sb, "- Started: %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "- Workers: %d\n", report.Workers)
	fmt.Fprintf(&sb, "- Groups: %d, units: %d\n\n", result.TotalGroups, result.TotalUnits)

	if result.Success() {
		fmt.Fprintf(&sb, "**PASSED**: %d passed", result.Passed)
	} else {
		fmt.Fprintf(&sb, "**FAILED**: %d passed, %d failed", result.Passed, result.Failed)
	}
	if result.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", result.Skipped)
	}
	sb.WriteString("\n")

	writeFailureSection(&sb, result)
	writeIncidentSection(&sb, result)
	writeUtilizationSection(&sb, report.Pools)
	if report.Plan != nil {
		writeOptimizationSection(&sb, report.Plan)
	}
	return sb.String()
}

func writeFailureSection(sb *strings.Builder, result *models.RunResult) {
	var lines []string
	for i := range result.Groups {
		group := &result.Groups[i]
		for _, unit := range group.Units {
			if unit.Status == models.StatusPassed || unit.Status == models.StatusSkipped {
				continue
			}
			line := fmt.Sprintf("- `%s` (%s, group %s)", unit.Path, unit.Status, group.GroupID)
			if unit.Error != nil {
				line += ": " + unit.Error.Error()
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("\n## Failures\n\n")
	for _, line := range lines {
		sb.WriteString(line + "\n")
	}
}

func writeIncidentSection(sb *strings.Builder, result *models.RunResult) {
	var lines []string
	if result.DegradationPeak > 0 {
		lines = append(lines, fmt.Sprintf("- Degradation peaked at level %d", result.DegradationPeak))
	}
	if result.WorkerRestarts > 0 {
		lines = append(lines, fmt.Sprintf("- %d worker restart(s)", result.WorkerRestarts))
	}
	if result.DeadlocksFound > 0 {
		lines = append(lines, fmt.Sprintf("- %d deadlock cycle(s) detected", result.DeadlocksFound))
	}
	if result.AllocationDenials > 0 {
		lines = append(lines, fmt.Sprintf("- %d allocation request(s) denied after reclamation", result.AllocationDenials))
	}
	for i := range result.Groups {
		for _, warning := range result.Groups[i].Warnings {
			lines = append(lines, fmt.Sprintf("- Group %s: %s", result.Groups[i].GroupID, warning))
		}
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("\n## Incidents\n\n")
	for _, line := range lines {
		sb.WriteString(line + "\n")
	}
}

func writeUtilizationSection(sb *strings.Builder, pools []resource.PoolSnapshot) {
	if len(pools) == 0 {
		return
	}
	sb.WriteString("\n## Resource Utilization\n\n")
	for _, snap := range pools {
		percent := 0.0
		if snap.Total > 0 {
			percent = 100 * float64(snap.Allocated) / float64(snap.Total)
		}
		fmt.Fprintf(sb, "- %s: %d/%d allocated (%.0f%%), %d reserved\n",
			snap.Type, snap.Allocated, snap.Total, percent, snap.Reserved)
	}
}

func writeOptimizationSection(sb *strings.Builder, plan *optimizer.Plan) {
	sb.WriteString("\n## Optimization\n\n")
	fmt.Fprintf(sb, "- Applied: %d, withheld (low confidence): %d\n", len(plan.Applied), len(plan.Withheld))
	if savings := plan.EstimatedSavings(); savings > 0 {
		fmt.Fprintf(sb, "- Estimated savings: %s\n", savings.Round(time.Millisecond))
	}

	for _, applied := range plan.Applied {
		for _, rec := range applied.Recommendations {
			fmt.Fprintf(sb, "- [%s] %s\n", applied.Strategy, rec)
		}
	}

	withheld := make([]string, 0, len(plan.Withheld))
	for _, w := range plan.Withheld {
		withheld = append(withheld, fmt.Sprintf("- %s for `%s` (confidence %.2f)", w.Strategy, w.Path, w.Confidence))
	}
	if len(withheld) > 0 {
		sort.Strings(withheld)
		sb.WriteString("\n### Withheld\n\n")
		for _, line := range withheld {
			sb.WriteString(line + "\n")
		}
	}

	if len(plan.Applied) > 0 {
		sb.WriteString("\n### Risk Assessment\n\n")
		fmt.Fprintf(sb, "- Stability: %s, performance: %s, reliability: %s\n",
			plan.Risk.Stability, plan.Risk.Performance, plan.Risk.Reliability)
		for _, note := range plan.Risk.Notes {
			fmt.Fprintf(sb, "- %s\n", note)
		}
	}
}
