package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

func newTestFileLogger(t *testing.T, level string) (*FileLogger, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "logs")
	fl, err := NewFileLoggerWithLevel(dir, level)
	if err != nil {
		t.Fatalf("NewFileLoggerWithLevel: %v", err)
	}
	t.Cleanup(func() { fl.Close() })
	return fl, dir
}

func readRunLog(t *testing.T, fl *FileLogger) string {
	t.Helper()
	data, err := os.ReadFile(fl.RunFile())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	return string(data)
}

func TestNewFileLogger(t *testing.T) {
	fl, dir := newTestFileLogger(t, "info")

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log directory not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "groups")); err != nil {
		t.Fatalf("groups directory not created: %v", err)
	}

	base := filepath.Base(fl.RunFile())
	if !strings.HasPrefix(base, "run-") || !strings.HasSuffix(base, ".log") {
		t.Errorf("unexpected run log name: %q", base)
	}

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	if err != nil {
		t.Fatalf("latest.log symlink missing: %v", err)
	}
	if target != base {
		t.Errorf("latest.log points at %q, want %q", target, base)
	}

	content := readRunLog(t, fl)
	if !strings.Contains(content, "=== Test Run Log ===") {
		t.Errorf("header missing:\n%s", content)
	}
	if !strings.Contains(content, "Started at:") {
		t.Errorf("start timestamp missing:\n%s", content)
	}
}

func TestFileLoggerSymlinkReplaced(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	first, err := NewFileLogger(dir)
	if err != nil {
		t.Fatalf("first logger: %v", err)
	}
	first.Close()

	second, err := NewFileLogger(dir)
	if err != nil {
		t.Fatalf("second logger: %v", err)
	}
	defer second.Close()

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	if err != nil {
		t.Fatalf("latest.log symlink missing: %v", err)
	}
	if target != filepath.Base(second.RunFile()) {
		t.Errorf("latest.log points at %q, want %q", target, filepath.Base(second.RunFile()))
	}
}

func TestFileLoggerGroupStart(t *testing.T) {
	fl, _ := newTestFileLogger(t, "info")

	fl.LogGroupStart(sampleGroup(), "worker-1")
	fl.LogGroupStart(&models.TestGroup{
		ID:                "group-solo",
		Units:             []*models.UnitAnalysis{{Path: "tests/fire.test.ts"}},
		MaxParallelism:    1,
		EstimatedDuration: 30 * time.Second,
	}, "worker-2")

	content := readRunLog(t, fl)
	if !strings.Contains(content, "Starting group group-1 on worker-1: 2 units (parallelism 2, estimated 8.0s)") {
		t.Errorf("group start line missing:\n%s", content)
	}
	if !strings.Contains(content, "Starting group group-solo on worker-2: 1 unit (parallelism 1, estimated 30.0s)") {
		t.Errorf("singular unit label missing:\n%s", content)
	}
}

func TestFileLoggerGroupDetailFile(t *testing.T) {
	fl, dir := newTestFileLogger(t, "info")

	result := sampleGroupResult()
	result.Units[1].Status = models.StatusFailed
	result.Units[1].Error = errors.New("exit status 1")
	result.Units[1].Output = "FAIL tests/budgets.test.ts"
	result.Units[1].RetryCount = 1
	result.Units[1].MemoryMB = 256
	result.Status = models.StatusFailed
	result.Warnings = []string{"heartbeat stale for 12s"}
	fl.LogGroupComplete(result)

	data, err := os.ReadFile(filepath.Join(dir, "groups", "group-1.log"))
	if err != nil {
		t.Fatalf("group detail file missing: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"=== Group group-1 (worker worker-1) ===",
		"Status: FAILED",
		"Duration: 7.0s",
		"Parallelism: 2",
		"--- tests/accounts.test.ts: PASSED (3.0s) ---",
		"--- tests/budgets.test.ts: FAILED (4.0s) ---",
		"Retries: 1",
		"Usage: 256MB memory, 0 DB connections",
		"Error: exit status 1",
		"Output:\nFAIL tests/budgets.test.ts",
		"Warnings:\n- heartbeat stale for 12s",
		"Completed at:",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("detail file missing %q:\n%s", want, content)
		}
	}

	content2 := readRunLog(t, fl)
	if !strings.Contains(content2, "Group group-1 FAILED: duration 7.0s") {
		t.Errorf("run log group line missing:\n%s", content2)
	}
}

func TestFileLoggerDetailFileWrittenAboveLevel(t *testing.T) {
	fl, dir := newTestFileLogger(t, "error")

	fl.LogGroupComplete(sampleGroupResult())

	content := readRunLog(t, fl)
	if strings.Contains(content, "Group group-1") {
		t.Errorf("group line should be filtered at error level:\n%s", content)
	}

	if _, err := os.Stat(filepath.Join(dir, "groups", "group-1.log")); err != nil {
		t.Errorf("detail file should be written regardless of level: %v", err)
	}
}

func TestFileLoggerUnitLevels(t *testing.T) {
	fl, _ := newTestFileLogger(t, "info")

	fl.LogUnitComplete(&models.UnitResult{
		Path: "tests/accounts.test.ts", Status: models.StatusPassed, Duration: 3 * time.Second,
	})
	fl.LogUnitFail(&models.UnitResult{
		Path: "tests/transfers.test.ts", Status: models.StatusFailed,
		Error: errors.New("exit status 1"), Duration: 2 * time.Second,
	})

	content := readRunLog(t, fl)
	if strings.Contains(content, "tests/accounts.test.ts") {
		t.Errorf("passed unit should be hidden at info level:\n%s", content)
	}
	if !strings.Contains(content, "tests/transfers.test.ts: FAILED (2.0s): exit status 1") {
		t.Errorf("failed unit line missing:\n%s", content)
	}

	debugLogger, _ := newTestFileLogger(t, "debug")
	debugLogger.LogUnitComplete(&models.UnitResult{
		Path: "tests/accounts.test.ts", Status: models.StatusPassed, Duration: 3 * time.Second,
	})
	if !strings.Contains(readRunLog(t, debugLogger), "tests/accounts.test.ts: PASSED (3.0s)") {
		t.Error("passed unit should be visible at debug level")
	}
}

func TestFileLoggerRunSummary(t *testing.T) {
	fl, _ := newTestFileLogger(t, "info")

	fl.LogRunSummary(sampleRunResult())

	content := readRunLog(t, fl)
	for _, want := range []string{
		"=== RUN SUMMARY ===",
		"Run ID:       a3f1c2d4",
		"Groups:       2",
		"Total units:  3",
		"Passed:       2",
		"Failed:       1",
		"Total time:   90.0s",
		"PARTIAL (2/3 units passed)",
		"Completed at:",
		"Incidents:    1 worker restarts, 0 deadlocks, 0 allocation denials",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("summary missing %q:\n%s", want, content)
		}
	}
}

func TestFileLoggerRunSummaryStatus(t *testing.T) {
	cases := []struct {
		name   string
		passed int
		failed int
		want   string
	}{
		{"all passed", 3, 0, "SUCCESS (3/3 units passed)"},
		{"some passed", 2, 1, "PARTIAL (2/3 units passed)"},
		{"none passed", 0, 3, "FAILED (0/3 units passed)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fl, _ := newTestFileLogger(t, "info")
			fl.LogRunSummary(&models.RunResult{
				RunID:      "r1",
				TotalUnits: 3,
				Passed:     tc.passed,
				Failed:     tc.failed,
			})
			content := readRunLog(t, fl)
			if !strings.Contains(content, tc.want) {
				t.Errorf("summary missing %q:\n%s", tc.want, content)
			}
			if tc.failed == 0 && strings.Contains(content, "Incidents:") {
				t.Errorf("clean run should have no incidents line:\n%s", content)
			}
		})
	}
}

func TestFileLoggerLevelFiltering(t *testing.T) {
	fl, _ := newTestFileLogger(t, "warn")

	fl.LogDebug("debug message")
	fl.LogInfo("info message")
	fl.LogWarn("warn message")
	fl.LogError("error message")

	content := readRunLog(t, fl)
	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Errorf("messages below warn should be filtered:\n%s", content)
	}
	if !strings.Contains(content, "[WARN] warn message") {
		t.Errorf("warn message missing:\n%s", content)
	}
	if !strings.Contains(content, "[ERROR] error message") {
		t.Errorf("error message missing:\n%s", content)
	}
}

func TestFileLoggerClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	fl, err := NewFileLogger(dir)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}

	// Writes after close are silently dropped
	fl.LogInfo("after close")
}
