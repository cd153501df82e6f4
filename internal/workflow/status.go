// Package workflow defines the job state machine and the stage graph that drives the
// content pipeline. Nothing else in the system decides which stage follows which.
package workflow

import (
	"errors"
	"fmt"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses
const (
	StatusPending          JobStatus = "pending"
	StatusRunning          JobStatus = "running"
	StatusAwaitingApproval JobStatus = "awaiting_approval"
	StatusApproved         JobStatus = "approved"
	StatusRejected         JobStatus = "rejected"
	StatusFailed           JobStatus = "failed"
)

// ErrInvalidTransition is returned when a status change does not follow the job graph.
var ErrInvalidTransition = errors.New("invalid job status transition")

var allStatuses = []JobStatus{
	StatusPending,
	StatusRunning,
	StatusAwaitingApproval,
	StatusApproved,
	StatusRejected,
	StatusFailed,
}

// transitions lists the allowed successors of every status.
// Terminal statuses have no entry.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:          {StatusRunning, StatusFailed},
	StatusRunning:          {StatusAwaitingApproval, StatusFailed},
	StatusAwaitingApproval: {StatusApproved, StatusRejected, StatusFailed},
}

// AllStatuses returns every defined status in lifecycle order.
func AllStatuses() []JobStatus {
	out := make([]JobStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is one of the defined statuses.
func (s JobStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFailed
}

// ParseJobStatus converts a raw string into a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses from which to is reachable in one step.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range allStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CheckTransition returns a *TransitionError when from -> to is not an edge of the graph.
func CheckTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
