package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charithmadhuranga/fledge/internal/catalog"
	catsqlite "github.com/charithmadhuranga/fledge/internal/catalog/sqlite"
	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/service"
)

// fakeRunner routes commands by substring: the service script actions and
// the restore tool. It tracks invocation counts per route.
type fakeRunner struct {
	statusOutput  string
	stopStatus    int
	startStatus   int
	restoreStatus int

	stoppedAfterStop bool // emit "not running" once stop ran
	stopped          bool

	calls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		statusOutput: "foglamp running.\n",
		calls:        map[string]int{},
	}
}

func (f *fakeRunner) Run(_ context.Context, command string, _ time.Duration) (int, string, error) {
	switch {
	case strings.HasSuffix(command, " status"):
		f.calls["status"]++
		if f.stopped {
			return 0, "foglamp not running.\n", nil
		}
		return 0, f.statusOutput, nil
	case strings.HasSuffix(command, " stop"):
		f.calls["stop"]++
		if f.stoppedAfterStop {
			f.stopped = true
		}
		return f.stopStatus, "", nil
	case strings.HasSuffix(command, " start"):
		f.calls["start"]++
		if f.startStatus == 0 {
			f.stopped = false
		}
		return f.startStatus, "", nil
	case strings.HasPrefix(command, "pg_restore"):
		f.calls["pg_restore"]++
		return f.restoreStatus, "pg_restore output", nil
	default:
		return -1, "", fmt.Errorf("unexpected command %q", command)
	}
}

func (f *fakeRunner) RunWithRetry(ctx context.Context, command string, _ int, timeout time.Duration) (int, string, error) {
	return f.Run(ctx, command, timeout)
}

type fixture struct {
	orch   *Orchestrator
	runner *fakeRunner
	cat    *catsqlite.DB
	lock   *joblock.Guard
	file   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catsqlite.New(":memory:")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	dir := t.TempDir()
	file := filepath.Join(dir, "foglamp_2017_09_25_15_10_22.dump")
	if err := os.WriteFile(file, []byte("dump"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newFakeRunner()
	r.stoppedAfterStop = true

	lock := joblock.New(dir, nil)
	orch := &Orchestrator{
		Catalog: cat,
		Lock:    lock,
		Service: &service.Controller{
			ServiceName:       "foglamp",
			ServiceRoot:       "/usr/local/fledge",
			MaxRetry:          2,
			Timeout:           time.Second,
			RestartMaxRetries: 2,
			RestartSleep:      time.Millisecond,
			PollSleep:         time.Millisecond,
			Runner:            r,
		},
		Runner:   r,
		Database: "foglamp",
		Timeout:  time.Second,
		OwnPID:   111,
	}
	return &fixture{orch: orch, runner: r, cat: cat, lock: lock, file: file}
}

func (fx *fixture) insertBackup(t *testing.T, file string) int64 {
	t.Helper()
	id, err := fx.cat.Insert(context.Background(), catalog.Backup{
		FileName: file, TS: time.Now().UTC(), Status: catalog.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestRunHappyPath(t *testing.T) {
	fx := newFixture(t)
	id := fx.insertBackup(t, fx.file)

	if err := fx.orch.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	b, err := fx.cat.GetBackupDetails(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != catalog.StatusRestored {
		t.Fatalf("record not marked restored: %+v", b)
	}
	if fx.runner.calls["pg_restore"] != 1 {
		t.Fatalf("restore tool must run exactly once, ran %d times", fx.runner.calls["pg_restore"])
	}
	if fx.runner.calls["start"] != 1 {
		t.Fatalf("service start must run exactly once, ran %d times", fx.runner.calls["start"])
	}
	if pid := fx.lock.IsRunning(); pid != 0 {
		t.Fatalf("lock must be released after the run, owner %d", pid)
	}
}

func TestRunFailsFastWhenJobAlreadyRunning(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, fx.file)
	if _, err := fx.lock.Acquire(joblock.KindBackup, 31337); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := fx.orch.Run(context.Background(), Request{})
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRunningError, got %v", err)
	}
	if already.PID != 31337 {
		t.Fatalf("expected owning pid in error, got %d", already.PID)
	}
	// Nothing past the lock check may have run.
	if len(fx.runner.calls) != 0 {
		t.Fatalf("no command may run while locked, got %v", fx.runner.calls)
	}
}

func TestRunBackupFileMissing(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, "/tmp/definitely_missing_foglamp.dump")

	err := fx.orch.Run(context.Background(), Request{})
	if !errors.Is(err, ErrBackupFileMissing) {
		t.Fatalf("expected ErrBackupFileMissing, got %v", err)
	}
	// Raised before any service-stop attempt.
	if fx.runner.calls["stop"] != 0 || fx.runner.calls["start"] != 0 {
		t.Fatalf("lifecycle must not be touched, got %v", fx.runner.calls)
	}
	if pid := fx.lock.IsRunning(); pid != 0 {
		t.Fatalf("lock must be released, owner %d", pid)
	}
}

func TestRunRestoreToolFailureStillRestartsService(t *testing.T) {
	fx := newFixture(t)
	id := fx.insertBackup(t, fx.file)
	fx.runner.restoreStatus = 1

	err := fx.orch.Run(context.Background(), Request{})
	if !errors.Is(err, ErrRestoreFailed) {
		t.Fatalf("expected ErrRestoreFailed, got %v", err)
	}
	if fx.runner.calls["start"] != 1 {
		t.Fatalf("service start must still be attempted, ran %d times", fx.runner.calls["start"])
	}
	// The record stays un-restored.
	b, _ := fx.cat.GetBackupDetails(context.Background(), id)
	if b.Status != catalog.StatusCompleted {
		t.Fatalf("failed restore must not mark the record, got %+v", b)
	}
	if pid := fx.lock.IsRunning(); pid != 0 {
		t.Fatalf("lock must be released, owner %d", pid)
	}
}

func TestRunStopFailureAbortsBeforeRestoreTool(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, fx.file)
	// Stop exits 0 but the service keeps reporting running.
	fx.runner.stoppedAfterStop = false

	err := fx.orch.Run(context.Background(), Request{})
	if !errors.Is(err, ErrRestoreFailed) {
		t.Fatalf("expected classified failure, got %v", err)
	}
	if !errors.Is(err, service.ErrStopFailed) && !strings.Contains(err.Error(), "stopped state") {
		t.Fatalf("stop failure should be the cause, got %v", err)
	}
	if fx.runner.calls["pg_restore"] != 0 {
		t.Fatalf("restore tool must never run after a failed stop")
	}
	if pid := fx.lock.IsRunning(); pid != 0 {
		t.Fatalf("lock must be released, owner %d", pid)
	}
}

func TestRunStartFailureIsFinalError(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, fx.file)
	fx.runner.startStatus = 1

	err := fx.orch.Run(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected failure when the service cannot restart")
	}
	if !strings.Contains(err.Error(), "running state") {
		t.Fatalf("start failure must be the final reported error, got %v", err)
	}
}

func TestResolveBackupByID(t *testing.T) {
	fx := newFixture(t)
	id := fx.insertBackup(t, fx.file)

	b, err := fx.orch.resolveBackup(context.Background(), Request{BackupID: id})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.ID != id {
		t.Fatalf("wrong record: %+v", b)
	}

	_, err = fx.orch.resolveBackup(context.Background(), Request{BackupID: 29})
	if !errors.Is(err, catalog.ErrBackupNotFound) {
		t.Fatalf("expected ErrBackupNotFound for id 29, got %v", err)
	}
}

func TestResolveBackupByFile(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, fx.file)

	b, err := fx.orch.resolveBackup(context.Background(), Request{FileName: fx.file})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.FileName != fx.file {
		t.Fatalf("wrong record: %+v", b)
	}
}

func TestRunServiceAlreadyStoppedSkipsStop(t *testing.T) {
	fx := newFixture(t)
	fx.insertBackup(t, fx.file)
	fx.runner.stopped = true

	if err := fx.orch.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fx.runner.calls["stop"] != 0 {
		t.Fatalf("stop must be skipped when not running, ran %d times", fx.runner.calls["stop"])
	}
	if fx.runner.calls["start"] != 1 {
		t.Fatalf("start still runs exactly once, ran %d times", fx.runner.calls["start"])
	}
}
