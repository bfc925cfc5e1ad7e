package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// colorScheme defines consistent colors for different metric types.
// Green: success/positive metrics
// Red: failure/error metrics
// Yellow: warning/threshold metrics
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme for metrics.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// colorizeLevel colors a log level tag for console output.
func colorizeLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// colorizeStatus colors a unit or group status string.
func colorizeStatus(status string) string {
	switch status {
	case models.StatusPassed:
		return color.New(color.FgGreen).Sprint(status)
	case models.StatusFailed, models.StatusTimeout:
		return color.New(color.FgRed).Sprint(status)
	case models.StatusSkipped:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return status
	}
}

// formatColorizedMetric formats a single metric with colorized label and value.
// Label is colored cyan, value is colored white.
// Format: "label: value"
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	labelColored := scheme.label.Sprint(label)
	valueColored := scheme.value.Sprintf("%v", value)
	return fmt.Sprintf("%s: %s", labelColored, valueColored)
}

// formatUsageMetrics formats a unit's resource usage with color coding.
// Returns empty string if no usage data is available.
// Format: "mem: 120MB, db: 2, retries: 1"
// Ordinary metrics (mem, db) use cyan labels; retries are colored yellow
// because they mean the unit cost a worker restart.
func formatUsageMetrics(result *models.UnitResult, colorOutput bool) string {
	if result == nil {
		return ""
	}

	var parts []string

	if !colorOutput {
		if result.MemoryMB > 0 {
			parts = append(parts, fmt.Sprintf("mem: %dMB", result.MemoryMB))
		}
		if result.DBConnections > 0 {
			parts = append(parts, fmt.Sprintf("db: %d", result.DBConnections))
		}
		if result.RetryCount > 0 {
			parts = append(parts, fmt.Sprintf("retries: %d", result.RetryCount))
		}
		return strings.Join(parts, ", ")
	}

	scheme := newColorScheme()

	if result.MemoryMB > 0 {
		parts = append(parts, formatColorizedMetric("mem", fmt.Sprintf("%dMB", result.MemoryMB), scheme))
	}
	if result.DBConnections > 0 {
		parts = append(parts, formatColorizedMetric("db", result.DBConnections, scheme))
	}
	if result.RetryCount > 0 {
		labelColored := scheme.warn.Sprint("retries")
		valueColored := scheme.warn.Sprintf("%d", result.RetryCount)
		parts = append(parts, fmt.Sprintf("%s: %s", labelColored, valueColored))
	}

	if len(parts) == 0 {
		return ""
	}

	return strings.Join(parts, ", ")
}
