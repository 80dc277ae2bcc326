package runner

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command does not complete within its timeout.
var ErrTimeout = errors.New("command timed out")

// Runner executes an external command and reports its exit status and
// captured output. Implementations never judge success; callers inspect
// the exit status themselves.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (int, string, error)
	RunWithRetry(ctx context.Context, command string, maxRetry int, timeout time.Duration) (int, string, error)
}

// ExecRunner runs commands through os/exec. It holds no state between calls.
type ExecRunner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run spawns the command, waits up to timeout and returns the exit status
// and combined stdout/stderr. A timeout returns ErrTimeout; the process is
// killed through the context.
func (r *ExecRunner) Run(ctx context.Context, command string, timeout time.Duration) (int, string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := buildCommand(runCtx, command)
	out, err := cmd.CombinedOutput()
	output := string(out)

	if runCtx.Err() != nil {
		r.logger.Warn("command timed out", "command", command, "timeout", timeout)
		return -1, output, ErrTimeout
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			// Completed with a non-zero exit: not an execution error.
			return ee.ExitCode(), output, nil
		}
		return -1, output, err
	}
	return 0, output, nil
}

// RunWithRetry repeats the whole command up to maxRetry times, but only
// while it fails to complete within the timeout. The first completed
// result, success or failure, is returned immediately.
func (r *ExecRunner) RunWithRetry(ctx context.Context, command string, maxRetry int, timeout time.Duration) (int, string, error) {
	if maxRetry < 1 {
		maxRetry = 1
	}
	var (
		status int
		output string
		err    error
	)
	for attempt := 1; attempt <= maxRetry; attempt++ {
		status, output, err = r.Run(ctx, command, timeout)
		if !errors.Is(err, ErrTimeout) {
			return status, output, err
		}
		r.logger.Warn("retrying timed out command", "command", command, "attempt", attempt, "max_retry", maxRetry)
	}
	return status, output, err
}

// buildCommand constructs an *exec.Cmd for a command line. It avoids
// invoking a shell unless shell metacharacters are present (G204 mitigation).
func buildCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.CommandContext(ctx, name, args...)
}
