package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charithmadhuranga/fledge/internal/runner"
)

// State is a polled snapshot of the service lifecycle. There is no
// "transitioning" state: only what the status command reported.
type State int

const (
	StateUnknown State = iota
	StateStopped
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

var (
	ErrStopFailed  = errors.New("service did not reach the stopped state")
	ErrStartFailed = errors.New("service did not reach the running state")
)

// Stabilization parameters for Status. The status probe is unreliable under
// load, so a reading is only trusted after sameStatusOK identical decodes
// in a row.
const (
	maxExec      = 10
	sameStatusOK = 3
)

// exitAlreadyStopped is the stop script's secondary success code, emitted
// when the service is already down. The script documents it as "no-op,
// already in target state", so it counts as success.
const exitAlreadyStopped = 123

// Controller stops and starts the managed service through its control
// script and derives the lifecycle state from the script's status output.
type Controller struct {
	ServiceName string
	ServiceRoot string

	MaxRetry          int
	Timeout           time.Duration
	RestartMaxRetries int
	RestartSleep      time.Duration

	// Sleep between unstable status reads; overridable in tests.
	PollSleep time.Duration

	Runner runner.Runner
	Logger *slog.Logger
}

func (c *Controller) command(action string) string {
	return fmt.Sprintf("%s/scripts/%s %s", c.ServiceRoot, c.ServiceName, action)
}

func (c *Controller) pollSleep() time.Duration {
	if c.PollSleep > 0 {
		return c.PollSleep
	}
	return time.Second
}

func (c *Controller) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// decodeState maps the status command's stdout onto a state. The literal
// substrings are the only documented interface of the control script; any
// other output is indeterminate.
func (c *Controller) decodeState(output string) State {
	switch {
	case strings.Contains(output, c.ServiceName+" running."):
		return StateRunning
	case strings.Contains(output, c.ServiceName+" not running."):
		return StateStopped
	default:
		return StateUnknown
	}
}

// Status runs the status command until the same decoded state has been
// observed sameStatusOK times in a row, or the attempt budget runs out.
// An exhausted budget reports StateUnknown: an unstable read is
// indeterminate, never a guess.
func (c *Controller) Status(ctx context.Context) (State, error) {
	state := StateUnknown
	numExec := 0
	sameStatus := 0

	for sameStatus < sameStatusOK && numExec <= maxExec {
		status, output, err := c.Runner.Run(ctx, c.command("status"), c.Timeout)
		if err != nil {
			c.log().Error("cannot probe service status", "command", c.command("status"), "error", err)
			return StateUnknown, fmt.Errorf("status probe: %w", err)
		}
		numExec++

		newState := c.decodeState(output)
		c.log().Debug("status probe", "exit_status", status, "decoded", newState, "attempt", numExec)

		if newState == state {
			sameStatus++
		} else {
			state = newState
			sameStatus = 0
			time.Sleep(c.pollSleep())
		}
	}

	if numExec >= maxExec {
		c.log().Error("cannot identify service status, attempt budget exhausted", "attempts", numExec)
		return StateUnknown, nil
	}
	return state, nil
}

// Stop invokes the stop command with retry and then confirms via Status
// that the service actually reached STOPPED. The command's exit code alone
// is not trusted.
func (c *Controller) Stop(ctx context.Context) error {
	cmd := c.command("stop")
	status, output, err := c.Runner.RunWithRetry(ctx, cmd, c.MaxRetry, c.Timeout)
	c.log().Debug("stop command finished", "command", cmd, "exit_status", status, "output", output)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStopFailed, err)
	}
	if status != 0 && status != exitAlreadyStopped {
		c.log().Error("stop command failed", "command", cmd, "exit_status", status, "output", output)
		return fmt.Errorf("%w: exit status %d", ErrStopFailed, status)
	}

	state, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStopFailed, err)
	}
	if state != StateStopped {
		c.log().Error("service still not stopped after stop command", "state", state.String())
		return fmt.Errorf("%w: state %s", ErrStopFailed, state)
	}
	return nil
}

// Start invokes the start command with retry and waits, up to
// RestartMaxRetries attempts spaced RestartSleep apart, for the service to
// report RUNNING.
func (c *Controller) Start(ctx context.Context) error {
	cmd := c.command("start")
	status, output, err := c.Runner.RunWithRetry(ctx, cmd, c.MaxRetry, c.Timeout)
	c.log().Debug("start command finished", "command", cmd, "exit_status", status, "output", output)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStartFailed, err)
	}
	if status != 0 {
		c.log().Error("start command failed", "command", cmd, "exit_status", status, "output", output)
		return fmt.Errorf("%w: exit status %d", ErrStartFailed, status)
	}

	if c.waitRunning(ctx) != StateRunning {
		return fmt.Errorf("%w: not running after %d checks", ErrStartFailed, c.RestartMaxRetries)
	}
	return nil
}

// waitRunning polls Status until RUNNING or the restart retry budget is
// spent, sleeping RestartSleep between checks.
func (c *Controller) waitRunning(ctx context.Context) State {
	state := StateUnknown
	for n := 0; n < c.RestartMaxRetries; n++ {
		s, err := c.Status(ctx)
		if err == nil {
			state = s
		}
		if state == StateRunning {
			break
		}
		time.Sleep(c.RestartSleep)
	}
	return state
}
