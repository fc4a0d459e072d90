package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tasktide/pkg/task"
)

// PgStore is a PostgreSQL-backed audit Store with hash-chained integrity.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const columns = `id, task_id, old_status, new_status, source, timestamp, hash, prev_hash`

// EnsureTable creates the audit table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_audit (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			task_id     BIGINT NOT NULL,
			old_status  TEXT NOT NULL,
			new_status  TEXT NOT NULL,
			source      TEXT NOT NULL,
			timestamp   TIMESTAMPTZ NOT NULL,
			hash        TEXT NOT NULL,
			prev_hash   TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit(task_id)`)
	return err
}

// Record appends e to the chain.
func (s *PgStore) Record(ctx context.Context, e Entry) (*Entry, error) {
	prepare(&e)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appenders on the chain head.
	if _, err := tx.Exec(ctx, `LOCK TABLE task_audit IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("lock audit chain: %w", err)
	}
	var prevHash string
	err = tx.QueryRow(ctx, `SELECT hash FROM task_audit ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	e.PrevHash = prevHash
	e.Hash = computeHash(prevHash, &e)

	_, err = tx.Exec(ctx, `
		INSERT INTO task_audit (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TaskID, string(e.OldStatus), string(e.NewStatus), e.Source, e.Timestamp, e.Hash, e.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}
	return &e, nil
}

// Get retrieves a single entry by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Entry, error) {
	entries, err := s.scanMany(ctx, `SELECT `+columns+` FROM task_audit WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("get audit entry %s: %w", id, ErrNotFound)
	}
	return &entries[0], nil
}

// Recent returns the most recent entries in reverse chronological order.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit ORDER BY seq DESC LIMIT $1`, limit)
}

// ByTask returns the history of one task in chronological order.
func (s *PgStore) ByTask(ctx context.Context, taskID int64, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit WHERE task_id = $1 ORDER BY seq ASC LIMIT $2`, taskID, limit)
}

// Since returns entries recorded after the given ID, for polling.
func (s *PgStore) Since(ctx context.Context, afterID string, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `SELECT `+columns+`
		FROM task_audit WHERE seq > (SELECT seq FROM task_audit WHERE id = $1)
		ORDER BY seq ASC LIMIT $2`, afterID, limit)
}

// Count returns the total number of entries.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_audit`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// VerifyChain walks the entire chain chronologically and verifies hash integrity.
func (s *PgStore) VerifyChain(ctx context.Context) error {
	entries, err := s.scanMany(ctx, `SELECT `+columns+` FROM task_audit ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("verify chain query: %w", err)
	}
	return verify(entries)
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldStatus, newStatus string
		if err := rows.Scan(&e.ID, &e.TaskID, &oldStatus, &newStatus, &e.Source, &e.Timestamp, &e.Hash, &e.PrevHash); err != nil {
			return nil, err
		}
		e.OldStatus = task.Status(oldStatus)
		e.NewStatus = task.Status(newStatus)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return entries, nil
}

var _ Store = (*PgStore)(nil)
