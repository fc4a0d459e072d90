package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	short_name     TEXT NOT NULL,
	description    TEXT NOT NULL,
	start_time     DATETIME,
	duration_hours INTEGER,
	location       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'recorded',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const sqliteColumns = `id, short_name, description, start_time, duration_hours, location, status, created_at, updated_at`

// SQLiteStore persists tasks in a SQLite database. The *sql.DB is owned by
// the caller; see internal/db.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create tasks schema: %w", err)
	}
	return nil
}

// Insert stores a new task with status recorded.
func (s *SQLiteStore) Insert(ctx context.Context, t *Task) (int64, error) {
	if err := validateNew(t); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	t.Status = StatusRecorded
	t.StartTime = t.StartTime.UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (short_name, description, start_time, duration_hours, location, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ShortName, t.Description, t.StartTime, t.DurationHours, t.Location, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return id, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanSQLiteTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ListNonTerminal returns non-completed tasks, most urgent status first.
func (s *SQLiteStore) ListNonTerminal(ctx context.Context) ([]Task, error) {
	return s.query(ctx, `
		SELECT `+sqliteColumns+`
		FROM tasks WHERE status != 'completed'
		ORDER BY CASE status
			WHEN 'expired' THEN 1
			WHEN 'in-progress' THEN 2
			WHEN 'recorded' THEN 3
			ELSE 4 END,
			start_time ASC NULLS LAST, id ASC`)
}

// List returns tasks filtered by status (empty = all), ordered by start time.
func (s *SQLiteStore) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	if status != "" {
		return s.query(ctx, `SELECT `+sqliteColumns+`
			FROM tasks WHERE status = ? ORDER BY start_time ASC NULLS LAST, id ASC LIMIT ?`, string(status), limit)
	}
	return s.query(ctx, `SELECT `+sqliteColumns+`
		FROM tasks ORDER BY start_time ASC NULLS LAST, id ASC LIMIT ?`, limit)
}

// UpdateStatus performs the old-status-gated write.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, expected, next Status) (int64, error) {
	if !next.Valid() {
		return 0, fmt.Errorf("update task %d: %w: %q", id, ErrInvalidStatus, next)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC(), id, string(expected))
	if err != nil {
		return 0, fmt.Errorf("update task %d status: %w", id, err)
	}
	return res.RowsAffected()
}

// UpdateDetails rewrites short name, description and location.
func (s *SQLiteStore) UpdateDetails(ctx context.Context, id int64, d Details) (*Task, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET short_name = ?, description = ?, location = ?, updated_at = ?
		WHERE id = ?`,
		d.ShortName, d.Description, d.Location, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update task %d: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

// Delete removes a task regardless of status.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete task %d: %w", id, err)
	}
	return res.RowsAffected()
}

// Count returns the number of tasks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(s scanner) (*Task, error) {
	var (
		t        Task
		status   string
		start    sql.NullTime
		duration sql.NullInt64
	)
	err := s.Scan(&t.ID, &t.ShortName, &t.Description, &start, &duration, &t.Location, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if start.Valid {
		t.StartTime = start.Time
	}
	if duration.Valid {
		t.DurationHours = int(duration.Int64)
	}
	return &t, nil
}

var _ Store = (*SQLiteStore)(nil)
