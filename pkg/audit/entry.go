// Package audit records every applied status transition in an append-only,
// hash-chained log.
package audit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tasktide/pkg/task"
)

// Sources of a transition.
const (
	SourceSweep    = "sweep"
	SourceEvaluate = "evaluate"
	SourceManual   = "manual"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("audit entry not found")

// Entry is one applied transition.
type Entry struct {
	ID        string      `json:"id"` // UUID v7 (time-ordered)
	TaskID    int64       `json:"task_id"`
	OldStatus task.Status `json:"old_status"`
	NewStatus task.Status `json:"new_status"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Hash      string      `json:"hash"`
	PrevHash  string      `json:"prev_hash"`
}

// Sink receives transition records. Callers treat it as fire-and-forget.
type Sink interface {
	Record(ctx context.Context, e Entry) (*Entry, error)
}

// Store is the contract for audit persistence.
type Store interface {
	Sink
	Get(ctx context.Context, id string) (*Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	ByTask(ctx context.Context, taskID int64, limit int) ([]Entry, error)
	Since(ctx context.Context, afterID string, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	VerifyChain(ctx context.Context) error
	EnsureTable(ctx context.Context) error
}

// prepare fills ID and Timestamp when the caller left them empty.
func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
}

// computeHash computes a SHA-256 hash for chain integrity.
func computeHash(prevHash string, e *Entry) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%d", prevHash, e.ID, e.TaskID, e.OldStatus, e.NewStatus, e.Source, e.Timestamp.UnixNano())
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h)
}

// verify walks entries in chain order and checks every link.
func verify(entries []Entry) error {
	prevHash := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prevHash {
			return fmt.Errorf("entry %d (%s): prev_hash mismatch: got %s, want %s", i, e.ID, e.PrevHash, prevHash)
		}
		if want := computeHash(prevHash, e); e.Hash != want {
			return fmt.Errorf("entry %d (%s): hash mismatch: got %s, want %s", i, e.ID, e.Hash, want)
		}
		prevHash = e.Hash
	}
	return nil
}
