package audit

import (
	"context"
	"time"
)

// EventType marks a restore job milestone.
type EventType string

const (
	EventJobStarted   EventType = "started"
	EventJobCompleted EventType = "completed"
	EventJobFailed    EventType = "failed"
)

// Event is one audit trail entry for a backup/restore job.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	JobKind    string    `json:"job_kind"` // backup or restore
	PID        int       `json:"pid"`
	BackupID   int64     `json:"backup_id,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for audit events. Implementations must be safe for
// concurrent use. A nil or absent sink disables auditing; audit failures
// never fail the restore itself.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
