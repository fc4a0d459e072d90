// Package task defines the task record, its lifecycle statuses, the status
// resolver and transition policy, and the persistence contract.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRecorded   Status = "recorded"
	StatusInProgress Status = "in-progress"
	StatusExpired    Status = "expired"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusRecorded, StatusInProgress, StatusExpired, StatusCompleted}
}

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRecorded, StatusInProgress, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool { return s == StatusCompleted }

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

var (
	// ErrNotFound is returned when no task has the requested id.
	ErrNotFound = errors.New("task not found")

	ErrMissingName        = errors.New("short name is required")
	ErrMissingDescription = errors.New("description is required")
	ErrMissingStartTime   = errors.New("start time is required")
	ErrInvalidDuration    = fmt.Errorf("duration must be between 1 and %d hours", MaxDurationHours)
	ErrInvalidStatus      = errors.New("invalid status")
)

// MaxDurationHours caps DurationHours at 100 years. It keeps EndTime well
// inside time.Duration and the INTEGER column.
const MaxDurationHours = 100 * 365 * 24

func validDuration(hours int) bool {
	return hours > 0 && hours <= MaxDurationHours
}

// Task is a single scheduled item of work.
type Task struct {
	ID            int64     `json:"id"`
	ShortName     string    `json:"short_name"`
	Description   string    `json:"description"`
	StartTime     time.Time `json:"start_time"`
	DurationHours int       `json:"duration_hours"`
	Location      string    `json:"location,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EndTime is StartTime plus DurationHours. It is derived, never stored.
func (t *Task) EndTime() time.Time {
	return t.StartTime.Add(time.Duration(t.DurationHours) * time.Hour)
}

// Validate checks the fields the resolver depends on. A task that fails
// validation must not be evaluated.
func (t *Task) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("task %d: %w: %q", t.ID, ErrInvalidStatus, t.Status)
	}
	if t.StartTime.IsZero() {
		return fmt.Errorf("task %d: %w", t.ID, ErrMissingStartTime)
	}
	if !validDuration(t.DurationHours) {
		return fmt.Errorf("task %d: %w", t.ID, ErrInvalidDuration)
	}
	return nil
}

// validateNew checks a task before it is first inserted.
func validateNew(t *Task) error {
	if strings.TrimSpace(t.ShortName) == "" {
		return ErrMissingName
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrMissingDescription
	}
	if t.StartTime.IsZero() {
		return ErrMissingStartTime
	}
	if !validDuration(t.DurationHours) {
		return ErrInvalidDuration
	}
	return nil
}

// Details holds the descriptive fields a user may change after insert.
// Start time, duration and status are fixed once a task is recorded.
type Details struct {
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Validate checks the required descriptive fields.
func (d Details) Validate() error {
	if strings.TrimSpace(d.ShortName) == "" {
		return ErrMissingName
	}
	if strings.TrimSpace(d.Description) == "" {
		return ErrMissingDescription
	}
	return nil
}

// Details returns the editable fields of t.
func (t *Task) Details() Details {
	return Details{ShortName: t.ShortName, Description: t.Description, Location: t.Location}
}

// IsValidationError reports whether err came from input validation rather
// than from the store.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingName) ||
		errors.Is(err, ErrMissingDescription) ||
		errors.Is(err, ErrMissingStartTime) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidStatus)
}

// Store is the contract for task persistence.
type Store interface {
	// ListNonTerminal returns every task whose status is not completed.
	ListNonTerminal(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id int64) (*Task, error)
	// Insert validates t, forces its status to recorded and returns the new id.
	Insert(ctx context.Context, t *Task) (int64, error)
	// UpdateStatus sets the status to next only if it currently equals
	// expected, and returns the number of rows affected.
	UpdateStatus(ctx context.Context, id int64, expected, next Status) (int64, error)
	// UpdateDetails replaces the descriptive fields of a task and returns
	// the stored row. It never writes status.
	UpdateDetails(ctx context.Context, id int64, d Details) (*Task, error)
	Delete(ctx context.Context, id int64) (int64, error)
	List(ctx context.Context, status Status, limit int) ([]Task, error)
	Count(ctx context.Context) (int, error)
	EnsureTable(ctx context.Context) error
}
