package logger

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// forceColor enables ANSI output for the duration of a test. The color
// package disables itself when stdout is not a TTY, which is always the
// case under go test.
func forceColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })
}

func TestColorizeStatus(t *testing.T) {
	forceColor(t)

	cases := []struct {
		status   string
		wantCode string
	}{
		{models.StatusPassed, "\x1b[32m"},
		{models.StatusFailed, "\x1b[31m"},
		{models.StatusTimeout, "\x1b[31m"},
		{models.StatusSkipped, "\x1b[33m"},
	}

	for _, tc := range cases {
		got := colorizeStatus(tc.status)
		if !strings.Contains(got, tc.wantCode) {
			t.Errorf("colorizeStatus(%q) = %q, want code %q", tc.status, got, tc.wantCode)
		}
		if !strings.Contains(got, tc.status) {
			t.Errorf("colorizeStatus(%q) lost the status text: %q", tc.status, got)
		}
	}

	if got := colorizeStatus("UNKNOWN"); got != "UNKNOWN" {
		t.Errorf("unknown status should pass through: %q", got)
	}
}

func TestColorizeLevel(t *testing.T) {
	forceColor(t)

	cases := []struct {
		level    string
		wantCode string
	}{
		{"TRACE", "\x1b[90m"},
		{"DEBUG", "\x1b[36m"},
		{"INFO", "\x1b[34m"},
		{"WARN", "\x1b[33m"},
		{"ERROR", "\x1b[31m"},
	}

	for _, tc := range cases {
		got := colorizeLevel(tc.level)
		if !strings.Contains(got, tc.wantCode) {
			t.Errorf("colorizeLevel(%q) = %q, want code %q", tc.level, got, tc.wantCode)
		}
	}

	if got := colorizeLevel("FATAL"); got != "FATAL" {
		t.Errorf("unknown level should pass through: %q", got)
	}
}

func TestFormatUsageMetricsPlain(t *testing.T) {
	result := &models.UnitResult{MemoryMB: 120, DBConnections: 2, RetryCount: 1}

	if got := formatUsageMetrics(result, false); got != "mem: 120MB, db: 2, retries: 1" {
		t.Errorf("unexpected metrics: %q", got)
	}
}

func TestFormatUsageMetricsPartial(t *testing.T) {
	result := &models.UnitResult{DBConnections: 3}

	if got := formatUsageMetrics(result, false); got != "db: 3" {
		t.Errorf("unexpected metrics: %q", got)
	}
}

func TestFormatUsageMetricsEmpty(t *testing.T) {
	if got := formatUsageMetrics(&models.UnitResult{}, false); got != "" {
		t.Errorf("zero usage should format as empty, got %q", got)
	}
	if got := formatUsageMetrics(nil, false); got != "" {
		t.Errorf("nil result should format as empty, got %q", got)
	}
	if got := formatUsageMetrics(&models.UnitResult{}, true); got != "" {
		t.Errorf("zero usage should format as empty in color mode, got %q", got)
	}
}

func TestFormatUsageMetricsColorized(t *testing.T) {
	forceColor(t)

	result := &models.UnitResult{MemoryMB: 120, RetryCount: 2}
	got := formatUsageMetrics(result, true)

	if !strings.Contains(got, "mem") || !strings.Contains(got, "120MB") {
		t.Errorf("memory metric missing: %q", got)
	}
	// Retries render in the warning color
	if !strings.Contains(got, "\x1b[33m") {
		t.Errorf("retries should use the warn color: %q", got)
	}
}

func TestFormatColorizedMetric(t *testing.T) {
	forceColor(t)

	got := formatColorizedMetric("db", 4, newColorScheme())
	if !strings.Contains(got, "db") || !strings.Contains(got, "4") {
		t.Errorf("metric lost content: %q", got)
	}
	if !strings.Contains(got, ": ") {
		t.Errorf("metric separator missing: %q", got)
	}
}
