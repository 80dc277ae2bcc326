package main

import (
	"fmt"
	"testing"

	"github.com/charithmadhuranga/fledge/internal/restore"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already running", &restore.AlreadyRunningError{PID: 42}, exitAlreadyRunning},
		{"already running wrapped", fmt.Errorf("run: %w", &restore.AlreadyRunningError{PID: 42}), exitAlreadyRunning},
		{"file missing", fmt.Errorf("resolve: %w", restore.ErrBackupFileMissing), exitFileMissing},
		{"bad arguments", fmt.Errorf("flags: %w", restore.ErrInvalidArguments), exitBadArguments},
		{"restore failed", restore.ErrRestoreFailed, exitFailure},
		{"plain error", fmt.Errorf("boom"), exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("%s: exitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}
