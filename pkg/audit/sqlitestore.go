package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasktide/pkg/task"
)

// SQLiteStore is the embedded audit Store used by the single-binary setup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore on an open connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS task_audit (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	task_id    INTEGER NOT NULL,
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	source     TEXT NOT NULL,
	timestamp  DATETIME NOT NULL,
	hash       TEXT NOT NULL,
	prev_hash  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit(task_id);
`

// EnsureTable creates the audit table if it doesn't exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteAuditSchema)
	return err
}

// Record appends e to the chain.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) (*Entry, error) {
	prepare(&e)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM task_audit ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	e.PrevHash = prevHash
	e.Hash = computeHash(prevHash, &e)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_audit (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, string(e.OldStatus), string(e.NewStatus), e.Source, e.Timestamp, e.Hash, e.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}
	return &e, nil
}

// Get retrieves a single entry by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	entries, err := s.scanMany(ctx, `SELECT `+columns+` FROM task_audit WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("get audit entry %s: %w", id, ErrNotFound)
	}
	return &entries[0], nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit ORDER BY seq DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) ByTask(ctx context.Context, taskID int64, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit WHERE task_id = ? ORDER BY seq ASC LIMIT ?`, taskID, limit)
}

func (s *SQLiteStore) Since(ctx context.Context, afterID string, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit WHERE seq > (SELECT seq FROM task_audit WHERE id = ?)
		ORDER BY seq ASC LIMIT ?`, afterID, limit)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_audit`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// VerifyChain walks the entire chain in append order and verifies hash integrity.
func (s *SQLiteStore) VerifyChain(ctx context.Context) error {
	entries, err := s.scanMany(ctx, `SELECT `+columns+` FROM task_audit ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("verify chain query: %w", err)
	}
	return verify(entries)
}

func (s *SQLiteStore) scanMany(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldStatus, newStatus string
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.TaskID, &oldStatus, &newStatus, &e.Source, &ts, &e.Hash, &e.PrevHash); err != nil {
			return nil, err
		}
		e.OldStatus = task.Status(oldStatus)
		e.NewStatus = task.Status(newStatus)
		e.Timestamp = ts.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return entries, nil
}

var _ Store = (*SQLiteStore)(nil)
