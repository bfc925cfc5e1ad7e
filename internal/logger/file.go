package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// FileLogger logs run events to files in the configured log directory.
// It creates timestamped per-run log files, per-group detailed logs,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and implements the scheduler.Logger interface.
// It supports log level filtering to control message verbosity.
type FileLogger struct {
	logDir    string
	runLog    *os.File
	runFile   string
	groupsDir string
	logLevel  string
	mu        sync.Mutex
}

// NewFileLogger creates a new FileLogger writing into logDir.
// It creates the log directory if it doesn't exist, opens a timestamped
// run log file, and creates/updates the latest.log symlink.
// Uses default log level "info".
func NewFileLogger(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithLevel(logDir, "info")
}

// NewFileLoggerWithLevel creates a new FileLogger with a custom log level.
func NewFileLoggerWithLevel(logDir string, logLevel string) (*FileLogger, error) {
	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create groups subdirectory for per-group detail logs
	groupsDir := filepath.Join(logDir, "groups")
	if err := os.MkdirAll(groupsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create groups directory: %w", err)
	}

	// Generate timestamped filename: run-YYYYMMDD-HHMMSS.log
	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	// Open run log file for writing
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	// Create/update latest.log symlink
	symlinkPath := filepath.Join(logDir, "latest.log")

	// Remove existing symlink if it exists
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}

	// Create new symlink pointing to current run log
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:    logDir,
		runLog:    file,
		runFile:   runFile,
		groupsDir: groupsDir,
		logLevel:  normalizeLogLevel(logLevel),
		mu:        sync.Mutex{},
	}

	// Write header to run log
	logger.writeRunLog("=== Test Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message)
	fl.writeRunLog(formatted)
}

// LogGroupStart logs the dispatch of a test group at INFO level.
func (fl *FileLogger) LogGroupStart(group *models.TestGroup, workerID string) {
	if group == nil {
		return
	}

	// Group logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	unitCount := len(group.Units)
	unitLabel := "unit"
	if unitCount != 1 {
		unitLabel = "units"
	}

	message := fmt.Sprintf(
		"[%s] Starting group %s on %s: %d %s (parallelism %d, estimated %.1fs)\n",
		time.Now().Format("15:04:05"),
		group.ID,
		workerID,
		unitCount,
		unitLabel,
		group.MaxParallelism,
		group.EstimatedDuration.Seconds(),
	)

	fl.writeRunLog(message)
}

// LogGroupComplete logs the completion of a test group at INFO level and
// writes a detail file for the group under groups/.
func (fl *FileLogger) LogGroupComplete(result *models.GroupResult) {
	if result == nil {
		return
	}

	// Group logging is at INFO level
	if fl.shouldLog("info") {
		message := fmt.Sprintf(
			"[%s] Group %s %s: duration %.1fs\n",
			time.Now().Format("15:04:05"),
			result.GroupID,
			result.Status,
			result.Duration.Seconds(),
		)
		fl.writeRunLog(message)
	}

	// Detail files are written regardless of level; they are the record a
	// failure investigation starts from
	if err := fl.writeGroupLog(result); err != nil {
		fl.logWithLevel("WARN", err.Error())
	}
}

// LogUnitComplete logs a passed unit at DEBUG level.
func (fl *FileLogger) LogUnitComplete(result *models.UnitResult) {
	fl.logUnit(result, "debug")
}

// LogUnitFail logs a failed unit at INFO level.
func (fl *FileLogger) LogUnitFail(result *models.UnitResult) {
	fl.logUnit(result, "info")
}

func (fl *FileLogger) logUnit(result *models.UnitResult, level string) {
	if result == nil {
		return
	}

	if !fl.shouldLog(level) {
		return
	}

	message := fmt.Sprintf("[%s] %s: %s (%.1fs)",
		time.Now().Format("15:04:05"), result.Path, result.Status, result.Duration.Seconds())
	if result.Error != nil {
		message += fmt.Sprintf(": %v", result.Error)
	}
	message += "\n"

	fl.writeRunLog(message)
}

// LogRunSummary logs the run summary with final statistics at INFO level.
func (fl *FileLogger) LogRunSummary(result *models.RunResult) {
	if result == nil {
		return
	}

	// Summary logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	timestamp := time.Now().Format("15:04:05")

	// Determine status
	status := "SUCCESS"
	if result.Failed > 0 {
		if result.Passed == 0 {
			status = "FAILED"
		} else {
			status = "PARTIAL"
		}
	}

	message := fmt.Sprintf(
		"\n[%s] === RUN SUMMARY ===\n"+
			"[%s] Run ID:       %s\n"+
			"[%s] Groups:       %d\n"+
			"[%s] Total units:  %d\n"+
			"[%s] Passed:       %d\n"+
			"[%s] Failed:       %d\n"+
			"[%s] Skipped:      %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s (%d/%d units passed)\n"+
			"[%s] Completed at: %s\n",
		timestamp,
		timestamp,
		result.RunID,
		timestamp,
		result.TotalGroups,
		timestamp,
		result.TotalUnits,
		timestamp,
		result.Passed,
		timestamp,
		result.Failed,
		timestamp,
		result.Skipped,
		timestamp,
		result.Duration.Seconds(),
		timestamp,
		status,
		result.Passed,
		result.TotalUnits,
		timestamp,
		time.Now().Format(time.RFC3339),
	)

	if result.WorkerRestarts > 0 || result.DeadlocksFound > 0 || result.AllocationDenials > 0 {
		message += fmt.Sprintf("[%s] Incidents:    %d worker restarts, %d deadlocks, %d allocation denials\n",
			timestamp, result.WorkerRestarts, result.DeadlocksFound, result.AllocationDenials)
	}

	fl.writeRunLog(message)
}

// writeGroupLog writes detailed information about a group execution.
// It creates a separate log file for each group in the groups/ subdirectory.
func (fl *FileLogger) writeGroupLog(result *models.GroupResult) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// Create group log file: groups/<group-id>.log
	groupLogPath := filepath.Join(fl.groupsDir, fmt.Sprintf("%s.log", result.GroupID))

	file, err := os.OpenFile(groupLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create group log file: %w", err)
	}
	defer file.Close()

	// Write group details
	content := fmt.Sprintf("=== Group %s (worker %s) ===\n", result.GroupID, result.WorkerID)
	content += fmt.Sprintf("Status: %s\n", result.Status)
	content += fmt.Sprintf("Duration: %.1fs\n", result.Duration.Seconds())
	content += fmt.Sprintf("Parallelism: %d\n", result.Parallelism)
	content += "\n"

	for _, unit := range result.Units {
		content += fmt.Sprintf("--- %s: %s (%.1fs) ---\n", unit.Path, unit.Status, unit.Duration.Seconds())
		if unit.RetryCount > 0 {
			content += fmt.Sprintf("Retries: %d\n", unit.RetryCount)
		}
		if unit.MemoryMB > 0 || unit.DBConnections > 0 {
			content += fmt.Sprintf("Usage: %dMB memory, %d DB connections\n", unit.MemoryMB, unit.DBConnections)
		}
		if unit.Error != nil {
			content += fmt.Sprintf("Error: %v\n", unit.Error)
		}
		if unit.Output != "" {
			content += fmt.Sprintf("Output:\n%s\n", unit.Output)
		}
		content += "\n"
	}

	if len(result.Warnings) > 0 {
		content += "Warnings:\n"
		for _, warning := range result.Warnings {
			content += fmt.Sprintf("- %s\n", warning)
		}
		content += "\n"
	}

	content += fmt.Sprintf("Completed at: %s\n", time.Now().Format(time.RFC3339))

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write group log: %w", err)
	}

	return nil
}

// Close flushes and closes the run log file.
// It should be called when the logger is no longer needed.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}
