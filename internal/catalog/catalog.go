package catalog

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a backup record, stored as a numeric
// code in the backups table.
type Status int

const (
	StatusPending   Status = 1
	StatusRunning   Status = 2
	StatusCompleted Status = 3
	StatusFailed    Status = 4
	StatusRestored  Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Backup is one row of the backup catalog. Only records with status
// COMPLETED or RESTORED are eligible restore candidates.
type Backup struct {
	ID       int64
	FileName string
	TS       time.Time
	Status   Status
}

// Restorable reports whether the record may serve as a restore source.
func (b Backup) Restorable() bool {
	return b.Status == StatusCompleted || b.Status == StatusRestored
}

var (
	// ErrNoBackupAvailable: no COMPLETED or RESTORED record exists.
	ErrNoBackupAvailable = errors.New("no backup available to restore")
	// ErrAmbiguousBackup: more than one record ties for the maximum (ts,id),
	// which means the catalog data itself is inconsistent.
	ErrAmbiguousBackup = errors.New("cannot identify a unique backup to restore")
	// ErrBackupNotFound: the requested id or file name has no record.
	ErrBackupNotFound = errors.New("backup not found")
)

// Catalog resolves backup identifiers to records and records the single
// status transition the restore path owns: restorable -> RESTORED.
type Catalog interface {
	// IdentifyLastBackup returns the record with the maximum (ts, id) among
	// restorable records. ErrNoBackupAvailable when none exist,
	// ErrAmbiguousBackup when two records tie for the maximum.
	IdentifyLastBackup(ctx context.Context) (Backup, error)
	// GetBackupDetails resolves by id; ErrBackupNotFound when absent.
	GetBackupDetails(ctx context.Context, id int64) (Backup, error)
	// GetBackupDetailsFromFile resolves by file name; ErrBackupNotFound when absent.
	GetBackupDetailsFromFile(ctx context.Context, fileName string) (Backup, error)
	// MarkRestored sets the record's status to RESTORED. Called exactly once,
	// only after the restore tool reported success.
	MarkRestored(ctx context.Context, id int64) error
	Close() error
}
