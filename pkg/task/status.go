package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransitionNotAllowed is returned by ValidateTransition for edges
// missing from the policy table.
var ErrTransitionNotAllowed = errors.New("transition not allowed")

// Resolve returns the status t should hold at now. Completed is sticky;
// otherwise the task is in progress over the half-open interval
// [StartTime, EndTime). t must have passed Validate.
func Resolve(t Task, now time.Time) Status {
	if t.Status == StatusCompleted {
		return StatusCompleted
	}
	if now.Before(t.StartTime) {
		return StatusRecorded
	}
	if now.Before(t.EndTime()) {
		return StatusInProgress
	}
	return StatusExpired
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusRecorded: {
		StatusInProgress: {},
		StatusCompleted:  {},
	},
	StatusInProgress: {
		StatusExpired:   {},
		StatusCompleted: {},
	},
	StatusExpired: {
		StatusCompleted: {},
	},
	StatusCompleted: {},
}

// CanTransition reports whether the policy allows moving from one status to
// another. Self-edges are not in the table.
func CanTransition(from, to Status) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ValidateTransition is CanTransition returning an error.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrTransitionNotAllowed, from, to)
	}
	return nil
}
