// Package logger provides logging implementations for test run execution.
//
// The logger package offers structured logging of run progress at the
// group and summary levels. Implementations are thread-safe and support
// various output destinations (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
// Color output is automatically enabled when writing to a TTY, unless NO_COLOR is set.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		mutex:       sync.Mutex{},
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// NO_COLOR disables color regardless of TTY state.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info" // Default level
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo // Default to info if unknown
	}
}

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}

	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string

	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, colorizeLevel(level), message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// LogGroupStart logs the dispatch of a test group at INFO level.
// Format: "[HH:MM:SS] Starting group <id> on <worker>: <n> units (parallelism <p>)"
func (cl *ConsoleLogger) LogGroupStart(group *models.TestGroup, workerID string) {
	if cl.writer == nil || group == nil {
		return
	}

	// Group logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	unitCount := len(group.Units)

	var message string
	if cl.colorOutput {
		// Bold for group identifiers
		groupID := color.New(color.Bold).Sprint(group.ID)
		message = fmt.Sprintf("[%s] Starting group %s on %s: %d units (parallelism %d)\n",
			ts, groupID, workerID, unitCount, group.MaxParallelism)
	} else {
		message = fmt.Sprintf("[%s] Starting group %s on %s: %d units (parallelism %d)\n",
			ts, group.ID, workerID, unitCount, group.MaxParallelism)
	}

	cl.writer.Write([]byte(message))
}

// LogGroupComplete logs the completion of a test group at INFO level.
// Format: "[HH:MM:SS] Group <id> <status> (<duration>)"
func (cl *ConsoleLogger) LogGroupComplete(result *models.GroupResult) {
	if cl.writer == nil || result == nil {
		return
	}

	// Group logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(result.Duration)

	var message string
	if cl.colorOutput {
		groupID := color.New(color.Bold).Sprint(result.GroupID)
		statusText := colorizeStatus(result.Status)
		message = fmt.Sprintf("[%s] Group %s %s (%s)\n", ts, groupID, statusText, durationStr)
	} else {
		message = fmt.Sprintf("[%s] Group %s %s (%s)\n", ts, result.GroupID, result.Status, durationStr)
	}

	for _, warning := range result.Warnings {
		message += fmt.Sprintf("[%s]   warning: %s\n", ts, warning)
	}

	cl.writer.Write([]byte(message))
}

// LogUnitComplete logs a passed unit at DEBUG level.
// Format: "[HH:MM:SS] <path>: PASSED (<duration>) [mem: 120MB, db: 2]"
func (cl *ConsoleLogger) LogUnitComplete(result *models.UnitResult) {
	cl.logUnit(result, "debug")
}

// LogUnitFail logs a failed unit at INFO level so failures surface without
// debug verbosity.
// Format: "[HH:MM:SS] <path>: FAILED (<duration>): <error>"
func (cl *ConsoleLogger) LogUnitFail(result *models.UnitResult) {
	cl.logUnit(result, "info")
}

func (cl *ConsoleLogger) logUnit(result *models.UnitResult, level string) {
	if cl.writer == nil || result == nil {
		return
	}

	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(result.Duration)

	statusText := result.Status
	if cl.colorOutput {
		statusText = colorizeStatus(result.Status)
	}

	message := fmt.Sprintf("[%s] %s: %s (%s)", ts, result.Path, statusText, durationStr)
	if usage := formatUsageMetrics(result, cl.colorOutput); usage != "" {
		message += fmt.Sprintf(" [%s]", usage)
	}
	if result.Error != nil {
		message += fmt.Sprintf(": %v", result.Error)
	}
	message += "\n"

	cl.writer.Write([]byte(message))
}

// LogRunSummary logs the run summary with completion statistics at INFO level.
func (cl *ConsoleLogger) LogRunSummary(result *models.RunResult) {
	if cl.writer == nil || result == nil {
		return
	}

	// Summary logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(result.Duration)

	var output string

	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Run Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Groups: %d, units: %d\n", ts, result.TotalGroups, result.TotalUnits)

		passedText := color.New(color.FgGreen).Sprintf("Passed: %d", result.Passed)
		output += fmt.Sprintf("[%s] %s\n", ts, passedText)

		if result.Failed > 0 {
			failedText := color.New(color.FgRed).Sprintf("Failed: %d", result.Failed)
			output += fmt.Sprintf("[%s] %s\n", ts, failedText)
		} else {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, result.Failed)
		}
		if result.Skipped > 0 {
			skippedText := color.New(color.FgYellow).Sprintf("Skipped: %d", result.Skipped)
			output += fmt.Sprintf("[%s] %s\n", ts, skippedText)
		}

		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if result.Failed > 0 {
			failedHeader := color.New(color.FgRed).Sprint("Failed units:")
			output += fmt.Sprintf("[%s] %s\n", ts, failedHeader)
			for _, group := range result.Groups {
				for _, unit := range group.Failed() {
					unitPath := color.New(color.FgRed).Sprint(unit.Path)
					output += fmt.Sprintf("[%s]   - %s: %s\n", ts, unitPath, unit.Status)
				}
			}
		}
	} else {
		output = fmt.Sprintf("[%s] === Run Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Groups: %d, units: %d\n", ts, result.TotalGroups, result.TotalUnits)
		output += fmt.Sprintf("[%s] Passed: %d\n", ts, result.Passed)
		output += fmt.Sprintf("[%s] Failed: %d\n", ts, result.Failed)
		if result.Skipped > 0 {
			output += fmt.Sprintf("[%s] Skipped: %d\n", ts, result.Skipped)
		}
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if result.Failed > 0 {
			output += fmt.Sprintf("[%s] Failed units:\n", ts)
			for _, group := range result.Groups {
				for _, unit := range group.Failed() {
					output += fmt.Sprintf("[%s]   - %s: %s\n", ts, unit.Path, unit.Status)
				}
			}
		}
	}

	if result.WorkerRestarts > 0 || result.DeadlocksFound > 0 || result.AllocationDenials > 0 {
		output += fmt.Sprintf("[%s] Incidents: %d worker restarts, %d deadlocks, %d allocation denials\n",
			ts, result.WorkerRestarts, result.DeadlocksFound, result.AllocationDenials)
	}

	cl.writer.Write([]byte(output))
}

// LogProgress logs real-time progress of group execution with a bar, counts,
// and running average duration.
// Format: "[HH:MM:SS] Progress: [=====     ] 4/8 (50%) - Avg: 3.2s/group"
func (cl *ConsoleLogger) LogProgress(completed, failed, total int, avgPerGroup time.Duration) {
	if cl.writer == nil {
		return
	}

	// Progress logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()

	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(completed)
	pb.MarkFailed(failed)

	var avgStr string
	if completed > 0 && avgPerGroup > 0 {
		avgStr = fmt.Sprintf(" - Avg: %s/group", formatDuration(avgPerGroup))
	}

	output := fmt.Sprintf("[%s] Progress: %s%s\n", ts, pb.Render(), avgStr)
	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogTrace is a no-op implementation.
func (n *NoOpLogger) LogTrace(message string) {
}

// LogDebug is a no-op implementation.
func (n *NoOpLogger) LogDebug(message string) {
}

// LogInfo is a no-op implementation.
func (n *NoOpLogger) LogInfo(message string) {
}

// LogWarn is a no-op implementation.
func (n *NoOpLogger) LogWarn(message string) {
}

// LogError is a no-op implementation.
func (n *NoOpLogger) LogError(message string) {
}

// LogGroupStart is a no-op implementation.
func (n *NoOpLogger) LogGroupStart(group *models.TestGroup, workerID string) {
}

// LogGroupComplete is a no-op implementation.
func (n *NoOpLogger) LogGroupComplete(result *models.GroupResult) {
}

// LogUnitComplete is a no-op implementation.
func (n *NoOpLogger) LogUnitComplete(result *models.UnitResult) {
}

// LogUnitFail is a no-op implementation.
func (n *NoOpLogger) LogUnitFail(result *models.UnitResult) {
}

// LogRunSummary is a no-op implementation.
func (n *NoOpLogger) LogRunSummary(result *models.RunResult) {
}
