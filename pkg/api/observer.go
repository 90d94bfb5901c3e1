package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the scheduler and runner for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay task execution.
type Observer interface {
	// OnTaskStart is called when a worker picks a task up, before the
	// first step of the run executes.
	OnTaskStart(ctx context.Context, t *Task)

	// OnTaskCompleted is called when a task reaches StatusCompleted.
	OnTaskCompleted(ctx context.Context, t *Task)

	// OnTaskFailed is called when a task transitions to StatusFailed.
	OnTaskFailed(ctx context.Context, t *Task, err error)

	// OnTaskInterrupted is called when the recovery sweep marks a task
	// interrupted because its owning process is gone.
	OnTaskInterrupted(ctx context.Context, t *Task, reason string)

	// OnStepStart is called before invoking a step handler.
	// stepIndex is the 0-based position in the pipeline definition.
	OnStepStart(ctx context.Context, t *Task, step Step, stepIndex int)

	// OnStepCompleted is called after a step handler returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, t *Task, step Step, stepIndex int, err error, duration time.Duration)

	// OnQueueChanged is called after the scheduler drains or reaps,
	// with a fresh snapshot of queue depth and running workers.
	OnQueueChanged(ctx context.Context, qs QueueStatus)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTaskStart(ctx context.Context, t *Task)                         {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, t *Task)                     {}
func (NoopObserver) OnTaskFailed(ctx context.Context, t *Task, err error)             {}
func (NoopObserver) OnTaskInterrupted(ctx context.Context, t *Task, reason string)    {}
func (NoopObserver) OnStepStart(ctx context.Context, t *Task, step Step, idx int)     {}
func (NoopObserver) OnStepCompleted(ctx context.Context, t *Task, step Step, idx int, err error, d time.Duration) {
}
func (NoopObserver) OnQueueChanged(ctx context.Context, qs QueueStatus) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, t *Task) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, t)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, t *Task) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, t)
	}
}

func (c *CompositeObserver) OnTaskFailed(ctx context.Context, t *Task, err error) {
	for _, o := range c.observers {
		o.OnTaskFailed(ctx, t, err)
	}
}

func (c *CompositeObserver) OnTaskInterrupted(ctx context.Context, t *Task, reason string) {
	for _, o := range c.observers {
		o.OnTaskInterrupted(ctx, t, reason)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, t *Task, step Step, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, t, step, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, t *Task, step Step, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, t, step, idx, err, d)
	}
}

func (c *CompositeObserver) OnQueueChanged(ctx context.Context, qs QueueStatus) {
	for _, o := range c.observers {
		o.OnQueueChanged(ctx, qs)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs task / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, t *Task) {
	o.Logger.InfoContext(ctx, "task_start",
		slog.String("task_id", t.ID),
		slog.String("task_type", t.Type),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, t *Task) {
	o.Logger.InfoContext(ctx, "task_completed",
		slog.String("task_id", t.ID),
		slog.String("task_type", t.Type),
	)
}

func (o *LoggingObserver) OnTaskFailed(ctx context.Context, t *Task, err error) {
	o.Logger.ErrorContext(ctx, "task_failed",
		slog.String("task_id", t.ID),
		slog.String("task_type", t.Type),
		slog.String("step", t.CurrentStep.String()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskInterrupted(ctx context.Context, t *Task, reason string) {
	o.Logger.WarnContext(ctx, "task_interrupted",
		slog.String("task_id", t.ID),
		slog.Int("owner_pid", t.OwnerPID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, t *Task, step Step, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("task_id", t.ID),
		slog.String("step", step.String()),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, t *Task, step Step, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("task_id", t.ID),
		slog.String("step", step.String()),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnQueueChanged(ctx context.Context, qs QueueStatus) {
	o.Logger.DebugContext(ctx, "queue_changed",
		slog.Int("running", qs.Running),
		slog.Int("queued", qs.Queued),
		slog.Int("max_concurrent", qs.MaxConcurrent),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	tasksStarted     atomic.Int64
	tasksCompleted   atomic.Int64
	tasksFailed      atomic.Int64
	tasksInterrupted atomic.Int64
	stepsCompleted   atomic.Int64
	totalStepDur     atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	TasksStarted     int64
	TasksCompleted   int64
	TasksFailed      int64
	TasksInterrupted int64
	TasksInFlight    int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnTaskStart(ctx context.Context, t *Task) {
	m.tasksStarted.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, t *Task) {
	m.tasksCompleted.Add(1)
}

func (m *BasicMetrics) OnTaskFailed(ctx context.Context, t *Task, err error) {
	m.tasksFailed.Add(1)
}

func (m *BasicMetrics) OnTaskInterrupted(ctx context.Context, t *Task, reason string) {
	m.tasksInterrupted.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, t *Task, step Step, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDur.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.tasksStarted.Load()
	completed := m.tasksCompleted.Load()
	failed := m.tasksFailed.Load()
	interrupted := m.tasksInterrupted.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDur.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		TasksStarted:     started,
		TasksCompleted:   completed,
		TasksFailed:      failed,
		TasksInterrupted: interrupted,
		TasksInFlight:    started - completed - failed - interrupted,
		StepsCompleted:   steps,
		AvgStepDuration:  avg,
	}
}
