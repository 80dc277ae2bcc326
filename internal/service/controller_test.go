package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// scriptedRunner feeds canned results per command action, in order.
// Results for an action repeat their last entry once exhausted.
type scriptedRunner struct {
	results map[string][]result
	calls   map[string]int
}

type result struct {
	status int
	output string
	err    error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: map[string][]result{}, calls: map[string]int{}}
}

func (r *scriptedRunner) on(action string, res ...result) { r.results[action] = res }

func (r *scriptedRunner) next(command string) (result, error) {
	for action, seq := range r.results {
		if strings.HasSuffix(command, " "+action) {
			r.calls[action]++
			i := r.calls[action] - 1
			if i >= len(seq) {
				i = len(seq) - 1
			}
			return seq[i], nil
		}
	}
	return result{}, fmt.Errorf("unscripted command %q", command)
}

func (r *scriptedRunner) Run(_ context.Context, command string, _ time.Duration) (int, string, error) {
	res, err := r.next(command)
	if err != nil {
		return -1, "", err
	}
	return res.status, res.output, res.err
}

func (r *scriptedRunner) RunWithRetry(ctx context.Context, command string, _ int, timeout time.Duration) (int, string, error) {
	return r.Run(ctx, command, timeout)
}

func newController(r *scriptedRunner) *Controller {
	return &Controller{
		ServiceName:       "foglamp",
		ServiceRoot:       "/usr/local/fledge",
		MaxRetry:          3,
		Timeout:           time.Second,
		RestartMaxRetries: 3,
		RestartSleep:      time.Millisecond,
		PollSleep:         time.Millisecond,
		Runner:            r,
	}
}

const (
	outRunning    = "foglamp running.\n"
	outNotRunning = "foglamp not running.\n"
)

func TestStatusStabilizes(t *testing.T) {
	r := newScriptedRunner()
	r.on("status", result{0, outRunning, nil})

	state, err := newController(r).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state != StateRunning {
		t.Fatalf("expected running, got %v", state)
	}
	// One read to latch plus three identical confirmations.
	if r.calls["status"] != 4 {
		t.Fatalf("expected 4 probes, got %d", r.calls["status"])
	}
}

func TestStatusUnstableReportsUnknown(t *testing.T) {
	r := newScriptedRunner()
	// Alternating reads never produce 3 identical in a row.
	var seq []result
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			seq = append(seq, result{0, outRunning, nil})
		} else {
			seq = append(seq, result{0, outNotRunning, nil})
		}
	}
	r.on("status", seq...)

	state, err := newController(r).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state != StateUnknown {
		t.Fatalf("unstable reads must report unknown, got %v", state)
	}
}

func TestStatusUndecodableOutput(t *testing.T) {
	r := newScriptedRunner()
	r.on("status", result{0, "some unrelated noise", nil})

	state, err := newController(r).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state != StateUnknown {
		t.Fatalf("expected unknown for undecodable output, got %v", state)
	}
}

func TestStopConfirmsViaStatus(t *testing.T) {
	r := newScriptedRunner()
	r.on("stop", result{0, "", nil})
	r.on("status", result{0, outNotRunning, nil})

	if err := newController(r).Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopAcceptsAlreadyStoppedCode(t *testing.T) {
	r := newScriptedRunner()
	r.on("stop", result{123, "", nil})
	r.on("status", result{0, outNotRunning, nil})

	if err := newController(r).Stop(context.Background()); err != nil {
		t.Fatalf("exit 123 means already stopped, got %v", err)
	}
}

func TestStopExitZeroButStillRunning(t *testing.T) {
	r := newScriptedRunner()
	r.on("stop", result{0, "", nil})
	r.on("status", result{0, outRunning, nil})

	err := newController(r).Stop(context.Background())
	if !errors.Is(err, ErrStopFailed) {
		t.Fatalf("command exit alone must not be trusted, got %v", err)
	}
}

func TestStopCommandFails(t *testing.T) {
	r := newScriptedRunner()
	r.on("stop", result{1, "boom", nil})

	err := newController(r).Stop(context.Background())
	if !errors.Is(err, ErrStopFailed) {
		t.Fatalf("expected ErrStopFailed, got %v", err)
	}
	if r.calls["status"] != 0 {
		t.Fatalf("failed stop must not bother confirming state")
	}
}

func TestStartWaitsForRunning(t *testing.T) {
	r := newScriptedRunner()
	r.on("start", result{0, "", nil})
	// First stabilized read says stopped, later reads say running.
	var seq []result
	for i := 0; i < 4; i++ {
		seq = append(seq, result{0, outNotRunning, nil})
	}
	for i := 0; i < 8; i++ {
		seq = append(seq, result{0, outRunning, nil})
	}
	r.on("status", seq...)

	if err := newController(r).Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestStartNeverReachesRunning(t *testing.T) {
	r := newScriptedRunner()
	r.on("start", result{0, "", nil})
	r.on("status", result{0, outNotRunning, nil})

	err := newController(r).Start(context.Background())
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
}

func TestStartCommandFails(t *testing.T) {
	r := newScriptedRunner()
	r.on("start", result{2, "cannot start", nil})

	err := newController(r).Start(context.Background())
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
}

func TestDecodeStateUsesServiceName(t *testing.T) {
	c := newController(newScriptedRunner())
	if s := c.decodeState("FogLAMP running."); s != StateUnknown {
		t.Fatalf("substring match is exact per the script contract, got %v", s)
	}
	if s := c.decodeState("x foglamp running. y"); s != StateRunning {
		t.Fatalf("expected running, got %v", s)
	}
}
