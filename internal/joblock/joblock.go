package joblock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind identifies which job type owns a lock marker.
type Kind string

const (
	KindBackup  Kind = "backup"
	KindRestore Kind = "restore"
)

var kinds = []Kind{KindBackup, KindRestore}

// Guard is the file-backed mutual exclusion between backup and restore jobs.
// One marker file per kind lives under Dir, holding the owner pid as text.
// Backups and restores exclude each other, not only themselves: the presence
// of either kind's marker means "busy".
//
// A process that dies before releasing its lease leaks the marker; clearing
// it is an operator action (see SetAsCompleted), not something done silently.
type Guard struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{dir: dir, logger: logger}
}

func (g *Guard) markerPath(k Kind) string {
	return filepath.Join(g.dir, "fledge_"+string(k)+".sem")
}

// IsRunning returns the owner pid of any existing lock marker, backup or
// restore, or 0 when none exists. An unreadable or malformed marker is
// treated as "no job running" rather than failing the caller.
func (g *Guard) IsRunning() int {
	for _, k := range kinds {
		data, err := os.ReadFile(g.markerPath(k))
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			g.logger.Warn("ignoring malformed lock marker", "path", g.markerPath(k))
			continue
		}
		return pid
	}
	return 0
}

// Lease is an acquired lock for one job kind. Release is idempotent and
// only removes a marker that still records the lease's own pid.
type Lease struct {
	guard *Guard
	kind  Kind
	pid   int
}

// Acquire creates the marker for kind atomically (exclusive create), so two
// processes racing for the same kind cannot both win. It does not check the
// other kind's marker; callers gate on IsRunning first so they can report
// the owning pid.
func (g *Guard) Acquire(kind Kind, pid int) (*Lease, error) {
	if err := os.MkdirAll(g.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir %s: %w", g.dir, err)
	}
	path := g.markerPath(kind)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", kind, err)
	}
	_, werr := f.WriteString(strconv.Itoa(pid) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr == nil {
			werr = cerr
		}
		return nil, fmt.Errorf("write %s lock: %w", kind, werr)
	}
	g.logger.Debug("job lock acquired", "kind", kind, "pid", pid)
	return &Lease{guard: g, kind: kind, pid: pid}, nil
}

// Release removes the marker while it still holds this lease's pid.
// A missing marker or one overwritten by another owner is left alone;
// neither case is an error, so double release is safe.
func (l *Lease) Release() {
	path := l.guard.markerPath(l.kind)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid != l.pid {
		l.guard.logger.Warn("lock marker owned by another pid, leaving it", "kind", l.kind, "owner", pid, "self", l.pid)
		return
	}
	_ = os.Remove(path)
	l.guard.logger.Debug("job lock released", "kind", l.kind, "pid", l.pid)
}

// SetAsCompleted unconditionally removes the marker for kind regardless of
// owner. It exists for operator cleanup of leaked locks; a missing marker
// is not an error.
func (g *Guard) SetAsCompleted(kind Kind) {
	_ = os.Remove(g.markerPath(kind))
}
