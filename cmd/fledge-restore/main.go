package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charithmadhuranga/fledge/internal/restore"
)

// Exit codes. Zero only on full success: service confirmed running again
// and the backup record marked RESTORED.
const (
	exitOK             = 0
	exitFailure        = 1
	exitBadArguments   = 2
	exitAlreadyRunning = 3
	exitFileMissing    = 4
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode maps the classified error kinds onto distinct process exit
// codes; callers react differently to "already running" and "file missing"
// than to a failed restore.
func exitCode(err error) int {
	var already *restore.AlreadyRunningError
	switch {
	case errors.As(err, &already):
		return exitAlreadyRunning
	case errors.Is(err, restore.ErrBackupFileMissing):
		return exitFileMissing
	case errors.Is(err, restore.ErrInvalidArguments):
		return exitBadArguments
	default:
		return exitFailure
	}
}
