// Package store persists task records. It defines the TaskStore
// contract the orchestrator runs against and ships four backends:
// in-memory, SQLite, MongoDB and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

var (
	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskFilter selects tasks. Zero values mean "no filter" for that field.
type TaskFilter struct {
	// Status, if non-empty, limits results to tasks with the given status.
	Status api.Status

	// Type, if non-empty, limits results to tasks of the given type.
	Type string

	// Limit caps the number of results; 0 means no cap.
	Limit int

	// OldestFirst orders results by ascending creation time. The default
	// is newest first, which is what the listing API wants; recovery
	// sweeps set it so re-enqueued tasks keep their submission order.
	OldestFirst bool
}

// TaskUpdate is a partial update. Nil fields are left untouched; every
// applied update bumps the task's UpdatedAt.
type TaskUpdate struct {
	Status          *api.Status
	CurrentStep     *api.Step
	Progress        *int
	RestartFromStep *api.Step
	OwnerPID        *int
	ErrorMessage    *string
}

// Ptr is a convenience for building TaskUpdate literals.
func Ptr[T any](v T) *T { return &v }

// TaskStore is durable storage for task records. All operations are
// atomic at the single-document level; the orchestrator never relies on
// multi-document transactions.
//
// An unreachable store is a retryable, loggable condition for callers,
// never a process-fatal one.
type TaskStore interface {
	// CreateTask persists a new task in status pending with a fresh id.
	CreateTask(ctx context.Context, taskType string, params api.Params) (*api.Task, error)

	// GetTask returns the task with the given id, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*api.Task, error)

	// UpdateTask applies a partial update, or returns ErrTaskNotFound.
	UpdateTask(ctx context.Context, id string, upd TaskUpdate) error

	// AppendLog appends one entry to the task's log. A zero entry
	// timestamp is filled with the current time.
	AppendLog(ctx context.Context, id string, entry api.LogEntry) error

	// ListTasks returns tasks matching the filter, newest first unless
	// the filter says otherwise.
	ListTasks(ctx context.Context, f TaskFilter) ([]*api.Task, error)

	// DeleteTasksBefore removes tasks in one of the given statuses whose
	// UpdatedAt is before cutoff, returning how many were removed.
	// Retention cleanup is the only caller.
	DeleteTasksBefore(ctx context.Context, cutoff time.Time, statuses []api.Status) (int, error)
}

// now returns the store-layer timestamp: UTC, millisecond precision, so
// round-trips through every backend compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// stampEntry fills a zero log-entry timestamp.
func stampEntry(entry api.LogEntry) api.LogEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	} else {
		entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Millisecond)
	}
	return entry
}
