package task

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const pgColumns = `id, short_name, description, start_time, duration_hours, location, status, created_at, updated_at`

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id             BIGSERIAL PRIMARY KEY,
			short_name     TEXT NOT NULL,
			description    TEXT NOT NULL,
			start_time     TIMESTAMPTZ,
			duration_hours INTEGER,
			location       TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'recorded',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`)
	return err
}

// Insert stores a new task with status recorded.
func (s *PgStore) Insert(ctx context.Context, t *Task) (int64, error) {
	if err := validateNew(t); err != nil {
		return 0, err
	}
	now := time.Now().Truncate(time.Microsecond)
	t.Status = StatusRecorded
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (short_name, description, start_time, duration_hours, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		t.ShortName, t.Description, t.StartTime, t.DurationHours, t.Location, string(t.Status), t.CreatedAt, t.UpdatedAt).
		Scan(&t.ID)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a single task by ID.
func (s *PgStore) Get(ctx context.Context, id int64) (*Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	defer rows.Close()
	tasks, err := scanPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("get task %d: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

// ListNonTerminal returns non-completed tasks, most urgent status first.
func (s *PgStore) ListNonTerminal(ctx context.Context) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgColumns+`
		FROM tasks WHERE status != 'completed'
		ORDER BY CASE status
			WHEN 'expired' THEN 1
			WHEN 'in-progress' THEN 2
			WHEN 'recorded' THEN 3
			ELSE 4 END,
			start_time ASC NULLS LAST, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal tasks: %w", err)
	}
	defer rows.Close()
	return scanPgRows(rows)
}

// List returns tasks filtered by status (empty = all), ordered by start time.
func (s *PgStore) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+pgColumns+`
			FROM tasks WHERE status = $1 ORDER BY start_time ASC NULLS LAST, id ASC LIMIT $2`, string(status), limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+pgColumns+`
			FROM tasks ORDER BY start_time ASC NULLS LAST, id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanPgRows(rows)
}

// UpdateStatus performs the old-status-gated write.
func (s *PgStore) UpdateStatus(ctx context.Context, id int64, expected, next Status) (int64, error) {
	if !next.Valid() {
		return 0, fmt.Errorf("update task %d: %w: %q", id, ErrInvalidStatus, next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(next), time.Now().Truncate(time.Microsecond), id, string(expected))
	if err != nil {
		return 0, fmt.Errorf("update task %d status: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateDetails rewrites short name, description and location.
func (s *PgStore) UpdateDetails(ctx context.Context, id int64, d Details) (*Task, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE tasks SET short_name = $1, description = $2, location = $3, updated_at = $4
		WHERE id = $5
		RETURNING `+pgColumns,
		d.ShortName, d.Description, d.Location, time.Now().Truncate(time.Microsecond), id)
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	defer rows.Close()
	tasks, err := scanPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("update task %d: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

// Delete removes a task regardless of status.
func (s *PgStore) Delete(ctx context.Context, id int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete task %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// Count returns total task count.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

func scanPgRows(rows pgx.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var (
			t        Task
			status   string
			start    *time.Time
			duration *int32
		)
		if err := rows.Scan(&t.ID, &t.ShortName, &t.Description, &start, &duration, &t.Location, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = Status(status)
		if start != nil {
			t.StartTime = *start
		}
		if duration != nil {
			t.DurationHours = int(*duration)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}

// compile-time check
var _ Store = (*PgStore)(nil)
