package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/charithmadhuranga/fledge/internal/catalog"
)

// DB implements catalog.Catalog for SQLite (modernc.org/sqlite driver,
// CGO-free). Path is a filesystem path; use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens (and schema-initializes) a SQLite backup catalog at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	c := &DB{db: d}
	if err := c.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return c, nil
}

func (c *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		// id carries the catalog sequence value, not a local PK; the source
		// catalog does not constrain it, which is why the ambiguity check
		// below has to exist at all.
		`CREATE TABLE IF NOT EXISTS backups(
			id INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			status INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backups_id ON backups(id);`,
		`CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);`,
	}
	for _, q := range stmts {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (c *DB) Close() error { return c.db.Close() }

// Insert adds a record; used by the backup side of the house and by tests.
// A zero ID takes the next sequence value.
func (c *DB) Insert(ctx context.Context, b catalog.Backup) (int64, error) {
	id := b.ID
	if id == 0 {
		row := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM backups;`)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO backups(id, file_name, ts, status) VALUES(?, ?, ?, ?);`,
		id, b.FileName, b.TS.UTC(), int(b.Status))
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *DB) IdentifyLastBackup(ctx context.Context) (catalog.Backup, error) {
	// Two rows at the maximum (ts,id) are a data integrity problem; select
	// one extra row so the tie is observable.
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, file_name, ts, status FROM backups
		WHERE (ts, id) = (SELECT MAX(ts), MAX(id) FROM backups WHERE status IN (?, ?))
		LIMIT 2;`,
		int(catalog.StatusCompleted), int(catalog.StatusRestored))
	if err != nil {
		return catalog.Backup{}, err
	}
	defer func() { _ = rows.Close() }()
	return collectSingle(rows)
}

func (c *DB) GetBackupDetails(ctx context.Context, id int64) (catalog.Backup, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, file_name, ts, status FROM backups WHERE id = ?;`, id)
	return scanOne(row, fmt.Sprintf("%d", id))
}

func (c *DB) GetBackupDetailsFromFile(ctx context.Context, fileName string) (catalog.Backup, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, file_name, ts, status FROM backups WHERE file_name = ? ORDER BY id DESC LIMIT 1;`, fileName)
	return scanOne(row, fileName)
}

func (c *DB) MarkRestored(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE backups SET status = ? WHERE id = ?;`, int(catalog.StatusRestored), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark restored %d: %w", id, catalog.ErrBackupNotFound)
	}
	return nil
}

func collectSingle(rows *sql.Rows) (catalog.Backup, error) {
	var found []catalog.Backup
	for rows.Next() {
		var b catalog.Backup
		var status int
		var ts time.Time
		if err := rows.Scan(&b.ID, &b.FileName, &ts, &status); err != nil {
			return catalog.Backup{}, err
		}
		b.TS = ts
		b.Status = catalog.Status(status)
		found = append(found, b)
	}
	if err := rows.Err(); err != nil {
		return catalog.Backup{}, err
	}
	switch len(found) {
	case 0:
		return catalog.Backup{}, catalog.ErrNoBackupAvailable
	case 1:
		return found[0], nil
	default:
		return catalog.Backup{}, catalog.ErrAmbiguousBackup
	}
}

func scanOne(row *sql.Row, key string) (catalog.Backup, error) {
	var b catalog.Backup
	var status int
	var ts time.Time
	err := row.Scan(&b.ID, &b.FileName, &ts, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Backup{}, fmt.Errorf("%s: %w", key, catalog.ErrBackupNotFound)
	}
	if err != nil {
		return catalog.Backup{}, err
	}
	b.TS = ts
	b.Status = catalog.Status(status)
	return b, nil
}
