package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/charithmadhuranga/fledge/internal/audit"
)

// Sink writes audit events to a SQLite file (modernc.org/sqlite, CGO-free).
type Sink struct {
	db *sql.DB
}

func New(path string) (*Sink, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Sink{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS restore_audit(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		type TEXT NOT NULL,
		job_kind TEXT NOT NULL,
		pid INTEGER NOT NULL,
		backup_id INTEGER NULL,
		file_name TEXT NULL,
		detail TEXT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restore_audit(occurred_at, type, job_kind, pid, backup_id, file_name, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.JobKind, e.PID, e.BackupID, e.FileName, e.Detail)
	return err
}

func (s *Sink) Close() error { return s.db.Close() }

// Events returns the most recent entries, newest first; used by tests and
// the status API.
func (s *Sink) Events(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, type, job_kind, pid, backup_id, file_name, detail
		FROM restore_audit ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var typ string
		if err := rows.Scan(&e.OccurredAt, &typ, &e.JobKind, &e.PID, &e.BackupID, &e.FileName, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = audit.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
