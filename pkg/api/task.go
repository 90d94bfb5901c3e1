package api

import (
	"context"
	"encoding/gob"
	"time"
)

func init() {
	// Params is persisted as an opaque payload by blob-backed stores;
	// register the container types so nested values survive the codec.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the status is an end state: the task is not
// running and will not run again without an explicit restart.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// Restartable reports whether a task in this status may be restarted
// from a chosen step.
func (s Status) Restartable() bool {
	return s.Terminal()
}

// LogLevel classifies a task log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of a task's append-only execution log.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// Params is the opaque key/value input payload handed to pipeline steps,
// for example the source-file path and a display name. Values should be
// plain data (strings, numbers, nested maps/slices) so every store
// backend can persist them.
type Params map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (p Params) String(key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Task is one unit of work: a single run of a typed step pipeline.
type Task struct {
	// ID is an opaque unique identifier assigned at creation.
	ID string

	// Type selects which registered pipeline definition applies.
	Type string

	Status      Status
	CurrentStep Step

	// Progress is a 0-100 percentage, assigned per step position.
	// It is monotonic within a run but resets on restart.
	Progress int

	Params Params

	// RestartFromStep, when non-empty, tells the runner to treat every
	// step before it as already satisfied on the next run.
	RestartFromStep Step

	// OwnerPID is the process id of the worker executing the task.
	// It is meaningful only while Status is processing; 0 means unset.
	OwnerPID int

	// ErrorMessage holds the last fatal error, set when the task fails
	// or is marked interrupted.
	ErrorMessage string

	// Logs is the append-only execution log. It is preserved across
	// restarts and pruned only by retention cleanup.
	Logs []LogEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the task. Log entries are copied; Params
// is copied one level deep (values are assumed to be plain data).
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Params != nil {
		c.Params = make(Params, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	if t.Logs != nil {
		c.Logs = make([]LogEntry, len(t.Logs))
		copy(c.Logs, t.Logs)
	}
	return &c
}

// TailLogs returns at most the last n log entries (a copy).
// n <= 0 returns an empty slice.
func (t *Task) TailLogs(n int) []LogEntry {
	if n <= 0 || len(t.Logs) == 0 {
		return nil
	}
	start := len(t.Logs) - n
	if start < 0 {
		start = 0
	}
	out := make([]LogEntry, len(t.Logs)-start)
	copy(out, t.Logs[start:])
	return out
}

// QueueStatus is a snapshot of the scheduler's queue.
type QueueStatus struct {
	Running       int
	Queued        int
	MaxConcurrent int
}

// Orchestrator is the control surface for submitting and steering tasks.
// It is implemented by the scheduler and consumed by whatever front end
// the embedding application provides.
type Orchestrator interface {
	// CreateTask persists a new pending task and enqueues it.
	CreateTask(ctx context.Context, taskType string, params Params) (string, error)

	// GetTask returns the full task record, including all logs.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns up to limit tasks, newest first. Each returned
	// task carries only the tail of its log; use GetTask for the rest.
	// limit <= 0 applies the default.
	ListTasks(ctx context.Context, limit int) ([]*Task, error)

	// RestartFromStep marks a finished task pending again, to be re-run
	// from the given step. The step must belong to the task's pipeline
	// and the task must be in a restartable status.
	RestartFromStep(ctx context.Context, id string, step Step) error

	// StartPendingTask enqueues a pending task that is not already
	// queued or running.
	StartPendingTask(ctx context.Context, id string) error

	// QueueStatus reports the current queue depth and worker count.
	QueueStatus() QueueStatus
}
