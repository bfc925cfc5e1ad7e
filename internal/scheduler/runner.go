package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// UnitRunner abstracts test-unit execution for testability. A returned
// error means the runner itself broke (worker failure); a unit that ran
// and failed comes back as a result with StatusFailed and a nil error.
type UnitRunner interface {
	Run(ctx context.Context, unit *models.UnitAnalysis) (*models.UnitResult, error)
}

// ShellUnitRunner executes test units through the system shell. The command
// template's {path} placeholder is replaced with the unit's source path.
type ShellUnitRunner struct {
	Command string // e.g. "npx vitest run {path}"
	WorkDir string // Working directory for commands (empty = current dir)
}

// NewShellUnitRunner creates a UnitRunner that shells out for real runs.
func NewShellUnitRunner(command, workDir string) *ShellUnitRunner {
	return &ShellUnitRunner{Command: command, WorkDir: workDir}
}

// Run executes the unit via sh -c and returns combined stdout/stderr. A
// non-zero exit is a failed unit, not a runner error; a command that could
// not start at all is a runner error.
func (r *ShellUnitRunner) Run(ctx context.Context, unit *models.UnitAnalysis) (*models.UnitResult, error) {
	if r.Command == "" {
		return nil, fmt.Errorf("unit runner has no command configured")
	}
	command := strings.ReplaceAll(r.Command, "{path}", unit.Path)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)

	result := &models.UnitResult{
		Path:          unit.Path,
		Output:        string(output),
		Duration:      duration,
		MemoryMB:      unit.Profile.MemoryMB,
		DBConnections: unit.Profile.DBConnections,
	}

	switch {
	case err == nil:
		result.Status = models.StatusPassed
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = models.StatusTimeout
		result.Error = ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = models.StatusFailed
			result.Error = err
		} else {
			// The shell never started: that is a runner problem, not a
			// verdict on the unit.
			return nil, fmt.Errorf("starting unit %s: %w", unit.Path, err)
		}
	}

	return result, nil
}
