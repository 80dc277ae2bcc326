package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charithmadhuranga/fledge/internal/audit"
	"github.com/charithmadhuranga/fledge/internal/catalog"
	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/metrics"
	"github.com/charithmadhuranga/fledge/internal/runner"
	"github.com/charithmadhuranga/fledge/internal/service"
)

// restoreToolOptions is the fixed option set of the dump-restore utility.
// Only its exit status is consulted.
const restoreToolOptions = "--verbose --clean --no-acl --no-owner"

// Request selects which backup to restore. Zero values mean "latest
// eligible backup"; BackupID and FileName are mutually exclusive, enforced
// by the CLI before a Request is built.
type Request struct {
	BackupID int64
	FileName string
}

// Orchestrator drives one cold restore run:
//
//	init      -> acquire configuration and the job lock
//	execute   -> resolve backup, stop service, run restore tool, mark record
//	shutdown  -> release the lock
//
// The service is restarted on every exit path once it has been stopped; a
// failed restore never leaves the service down on purpose.
type Orchestrator struct {
	Catalog    catalog.Catalog
	Lock       *joblock.Guard
	Service    *service.Controller
	Runner     runner.Runner
	Audit      audit.Sink // optional
	Logger     *slog.Logger
	Database   string
	Timeout    time.Duration
	OwnPID     int
	RestoreCmd string // defaults to pg_restore

	lease *joblock.Lease
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) pid() int {
	if o.OwnPID != 0 {
		return o.OwnPID
	}
	return os.Getpid()
}

// Init checks that no backup or restore job is running and takes the
// restore lock. The lock is never force-acquired: a reported owner pid
// fails the run with AlreadyRunningError.
func (o *Orchestrator) Init() error {
	if pid := o.Lock.IsRunning(); pid != 0 {
		o.log().Warn("cannot restore, a backup or restore job is already running", "owner_pid", pid)
		metrics.ObserveLockContention()
		return &AlreadyRunningError{PID: pid}
	}
	lease, err := o.Lock.Acquire(joblock.KindRestore, o.pid())
	if err != nil {
		// Lost the acquisition race after the pre-check.
		metrics.ObserveLockContention()
		return &AlreadyRunningError{PID: o.Lock.IsRunning()}
	}
	o.lease = lease
	return nil
}

// Shutdown releases the job lock. Safe to call whether or not the run
// succeeded, and more than once.
func (o *Orchestrator) Shutdown() {
	if o.lease != nil {
		o.lease.Release()
	}
}

// Run executes a full restore: Init, ExecuteRestore, Shutdown. Every error
// past lock acquisition is classified; the lock is always released.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	start := time.Now()
	if err := o.Init(); err != nil {
		return err
	}
	defer o.Shutdown()

	o.emit(ctx, audit.Event{Type: audit.EventJobStarted, JobKind: string(joblock.KindRestore), PID: o.pid()})

	err := o.ExecuteRestore(ctx, req)
	if err != nil {
		o.emit(ctx, audit.Event{Type: audit.EventJobFailed, JobKind: string(joblock.KindRestore), PID: o.pid(), Detail: err.Error()})
		metrics.ObserveRun("failure", time.Since(start).Seconds())
		return classify(err)
	}

	o.emit(ctx, audit.Event{Type: audit.EventJobCompleted, JobKind: string(joblock.KindRestore), PID: o.pid()})
	metrics.ObserveRun("success", time.Since(start).Seconds())
	return nil
}

// classify wraps any failure into ErrRestoreFailed, preserving the cause in
// the detail, except the kinds callers react to differently.
func classify(err error) error {
	var already *AlreadyRunningError
	switch {
	case errors.As(err, &already),
		errors.Is(err, ErrBackupFileMissing),
		errors.Is(err, ErrInvalidArguments):
		return err
	case errors.Is(err, ErrRestoreFailed):
		return err
	default:
		return fmt.Errorf("%w: %s", ErrRestoreFailed, err)
	}
}

// ExecuteRestore resolves the backup, cold-stops the service, runs the
// restore tool and marks the record RESTORED. The deferred start keeps the
// service from staying down when the restore step fails; a start failure
// becomes the final reported error.
func (o *Orchestrator) ExecuteRestore(ctx context.Context, req Request) (err error) {
	backup, err := o.resolveBackup(ctx, req)
	if err != nil {
		return err
	}
	o.log().Info("backup to restore identified", "backup_id", backup.ID, "file_name", backup.FileName)

	state, err := o.Service.Status(ctx)
	if err != nil {
		return fmt.Errorf("cannot determine service state: %w", err)
	}
	if state == service.StateRunning {
		if err := o.Service.Stop(ctx); err != nil {
			return err
		}
	}
	o.log().Info("service is down, starting restore", "file_name", backup.FileName)

	defer func() {
		if startErr := o.Service.Start(ctx); startErr != nil {
			o.log().Error("cannot start the service after the restore", "error", startErr)
			metrics.ObserveServiceRestart("failure")
			// The start failure is the final reported error, chained after
			// any restore failure.
			if err != nil {
				err = fmt.Errorf("%w (after: %s)", startErr, err)
			} else {
				err = startErr
			}
			return
		}
		metrics.ObserveServiceRestart("success")
	}()

	if err := o.runRestoreTool(ctx, backup.FileName); err != nil {
		return err
	}
	if err := o.Catalog.MarkRestored(ctx, backup.ID); err != nil {
		return fmt.Errorf("restore succeeded but marking record %d failed: %w", backup.ID, err)
	}
	o.emit(ctx, audit.Event{
		Type: audit.EventJobCompleted, JobKind: "restore-tool", PID: o.pid(),
		BackupID: backup.ID, FileName: backup.FileName,
	})
	return nil
}

// resolveBackup applies the selection policy: latest eligible backup when
// the request names neither an id nor a file; otherwise by id, otherwise by
// file name. Whatever path resolved it, the artifact must exist on disk.
func (o *Orchestrator) resolveBackup(ctx context.Context, req Request) (catalog.Backup, error) {
	var (
		backup catalog.Backup
		err    error
	)
	switch {
	case req.BackupID == 0 && req.FileName == "":
		backup, err = o.Catalog.IdentifyLastBackup(ctx)
	case req.BackupID != 0:
		backup, err = o.Catalog.GetBackupDetails(ctx, req.BackupID)
	default:
		backup, err = o.Catalog.GetBackupDetailsFromFile(ctx, req.FileName)
	}
	if err != nil {
		o.log().Error("cannot identify the backup to restore", "backup_id", req.BackupID, "file_name", req.FileName, "error", err)
		return catalog.Backup{}, err
	}
	// An explicitly named record wins even in an unexpected status; the
	// operator asked for it.
	if !backup.Restorable() {
		o.log().Warn("selected backup record is not in a restorable status", "backup_id", backup.ID, "status", backup.Status.String())
	}

	if _, statErr := os.Stat(backup.FileName); statErr != nil {
		o.log().Error("cannot restore the backup, file does not exist", "file_name", backup.FileName)
		return catalog.Backup{}, fmt.Errorf("%s: %w", backup.FileName, ErrBackupFileMissing)
	}
	return backup, nil
}

// runRestoreTool invokes the dump-restore utility once, without retry: a
// partially applied restore cannot be safely repeated in place.
func (o *Orchestrator) runRestoreTool(ctx context.Context, fileName string) error {
	tool := o.RestoreCmd
	if tool == "" {
		tool = "pg_restore"
	}
	cmd := fmt.Sprintf("%s %s -d %s %s", tool, restoreToolOptions, o.Database, fileName)

	status, output, err := o.Runner.Run(ctx, cmd, o.Timeout)
	o.log().Debug("restore tool finished", "command", cmd, "exit_status", status, "output", truncateOutput(output))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRestoreFailed, err)
	}
	if status != 0 {
		o.log().Error("restore tool failed", "command", cmd, "exit_status", status, "output", truncateOutput(output))
		return fmt.Errorf("%w: %s exited with status %d", ErrRestoreFailed, tool, status)
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, e audit.Event) {
	if o.Audit == nil {
		return
	}
	e.OccurredAt = time.Now().UTC()
	if err := o.Audit.Send(ctx, e); err != nil {
		o.log().Warn("cannot write audit event", "type", e.Type, "error", err)
	}
}

// truncateOutput keeps logged tool output readable; pg_restore is chatty in
// verbose mode.
func truncateOutput(out string) string {
	const maxLines = 10
	lines := strings.Split(out, "\n")
	if len(lines) <= maxLines {
		return out
	}
	return strings.Join(lines[:maxLines], "\n") + " ..."
}
