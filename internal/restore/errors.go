package restore

import (
	"errors"
	"fmt"
)

var (
	// ErrRestoreFailed wraps the restore tool's non-zero exit and every
	// unclassified failure past lock acquisition.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrBackupFileMissing: the resolved backup artifact is absent on disk.
	ErrBackupFileMissing = errors.New("backup file does not exist on disk")
	// ErrInvalidArguments: bad or conflicting command line input.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// AlreadyRunningError reports that another backup or restore job holds the
// lock. Callers may choose not to alert on it, so it stays a distinct kind
// carrying the owning pid.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("a backup or restore job is already running (pid %d)", e.PID)
}
