package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/internal/scheduler"
	"github.com/wengzhiwen/runjplib-pipeline/internal/store"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Orchestrator         = api.Orchestrator
	Task                 = api.Task
	Params               = api.Params
	Status               = api.Status
	Step                 = api.Step
	LogEntry             = api.LogEntry
	LogLevel             = api.LogLevel
	QueueStatus          = api.QueueStatus
	PipelineDefinition   = api.PipelineDefinition
	StepDefinition       = api.StepDefinition
	StepFunc             = api.StepFunc
	Execution            = api.Execution
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ProgressForStep      = api.ProgressForStep
)

// Re-export status values for convenience.

const (
	StatusPending     = api.StatusPending
	StatusProcessing  = api.StatusProcessing
	StatusCompleted   = api.StatusCompleted
	StatusFailed      = api.StatusFailed
	StatusInterrupted = api.StatusInterrupted
)

// The bundled pdf_processing pipeline and its step names.

const (
	TypePDFProcessing = api.TypePDFProcessing

	StepToImages      = api.StepToImages
	StepOCR           = api.StepOCR
	StepTranslate     = api.StepTranslate
	StepAnalyze       = api.StepAnalyze
	StepPersistOutput = api.StepPersistOutput
)

// Sentinel errors the orchestrator returns. Match with errors.Is.

var (
	ErrTaskNotFound   = store.ErrTaskNotFound
	ErrInvalidStep    = scheduler.ErrInvalidStep
	ErrNotRestartable = scheduler.ErrNotRestartable
	ErrNotPending     = scheduler.ErrNotPending
	ErrAlreadyQueued  = scheduler.ErrAlreadyQueued
)

// ErrWaitCancelled is returned by WaitForTask when the context ends
// before the task reaches a terminal status.
var ErrWaitCancelled = errors.New("wait cancelled before task finished")

// WaitForTask polls the orchestrator until the task reaches a terminal
// status (completed, failed or interrupted) and returns the final
// record. poll <= 0 means 200ms. The context bounds the wait.
func WaitForTask(ctx context.Context, o Orchestrator, id string, poll time.Duration) (*Task, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		task, err := o.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ErrWaitCancelled
		case <-ticker.C:
		}
	}
}
