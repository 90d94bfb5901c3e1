// Package runner executes one task's step pipeline against the store.
// It owns per-step persistence, restart handling and the staging
// directory of a single run; concurrency and queueing belong to the
// scheduler.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/internal/store"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// Config describes how to construct a Runner.
type Config struct {
	Store    store.TaskStore
	Registry *Registry

	// WorkDir is the root under which per-task staging directories are
	// created.
	WorkDir string

	Observer api.Observer
	Logger   *slog.Logger
}

// Runner executes tasks end to end. It holds no per-run state and is
// safe for concurrent use; the scheduler calls Run from its worker
// goroutines.
type Runner struct {
	store    store.TaskStore
	registry *Registry
	workDir  string
	observer api.Observer
	logger   *slog.Logger
	pid      int
}

// New builds a Runner. Store, registry and work dir are required.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("runner: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("runner: registry is required")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("runner: work dir is required")
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    cfg.Store,
		registry: cfg.Registry,
		workDir:  cfg.WorkDir,
		observer: obs,
		logger:   logger,
		pid:      os.Getpid(),
	}, nil
}

// StagingDir returns the task's staging directory under the work dir.
// The directory survives failed runs so a restart can reload artifacts.
func (r *Runner) StagingDir(taskID string) string {
	return filepath.Join(r.workDir, "task_"+taskID)
}

// Run executes the task with the given id. The caller is trusted to
// hand over only tasks it owns; the scheduler serializes each id.
//
// Every failure path ends in a persisted task state. The returned error
// mirrors what was persisted and exists for the caller's logging only;
// notify, if non-nil, is invoked whenever a step reports it is about to
// block on a slow external call.
func (r *Runner) Run(ctx context.Context, taskID string, notify func()) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	def, err := r.registry.Get(task.Type)
	if err != nil {
		return r.failTask(ctx, task, err)
	}

	start := 0
	if task.RestartFromStep != "" {
		start = def.StepIndex(task.RestartFromStep)
		if start < 0 {
			return r.failTask(ctx, task, fmt.Errorf("restart step %q is not part of pipeline %q", task.RestartFromStep, def.Type))
		}
	}

	dir := r.StagingDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return r.failTask(ctx, task, fmt.Errorf("create staging dir: %w", err))
	}

	// Claim the task: processing, owned by this process, restart marker
	// consumed, stale error cleared.
	claim := store.TaskUpdate{
		Status:          store.Ptr(api.StatusProcessing),
		OwnerPID:        store.Ptr(r.pid),
		RestartFromStep: store.Ptr(api.Step("")),
		ErrorMessage:    store.Ptr(""),
	}
	if err := r.store.UpdateTask(ctx, taskID, claim); err != nil {
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	task.Status = api.StatusProcessing
	task.OwnerPID = r.pid
	task.RestartFromStep = ""
	task.ErrorMessage = ""

	r.observer.OnTaskStart(ctx, task)
	if start > 0 {
		r.appendLog(ctx, taskID, api.LogInfo,
			fmt.Sprintf("restarting from step %s, earlier steps satisfied from staged artifacts", def.Steps[start].Name))
	}

	exec := api.NewExecution(task, dir, api.ExecutionHooks{
		Log: func(level api.LogLevel, msg string) {
			r.appendLog(ctx, taskID, level, msg)
		},
		Notify: notify,
	})

	total := len(def.Steps)
	for i := start; i < total; i++ {
		step := def.Steps[i]

		// The step position and its progress are persisted before the
		// handler runs, so a crash mid-step leaves a record naming the
		// step it died in.
		progress := api.ProgressForStep(i, total)
		pos := store.TaskUpdate{
			CurrentStep: store.Ptr(step.Name),
			Progress:    store.Ptr(progress),
		}
		if err := r.store.UpdateTask(ctx, taskID, pos); err != nil {
			return fmt.Errorf("persist step position for %s: %w", taskID, err)
		}
		task.CurrentStep = step.Name
		task.Progress = progress

		r.observer.OnStepStart(ctx, task, step.Name, i)
		started := time.Now()
		err := runStep(ctx, step, exec)
		r.observer.OnStepCompleted(ctx, task, step.Name, i, err, time.Since(started))

		if err != nil {
			r.appendLog(ctx, taskID, api.LogError, fmt.Sprintf("step %s failed: %v", step.Name, err))
			return r.failTask(ctx, task, err)
		}
	}

	done := store.TaskUpdate{
		Status:   store.Ptr(api.StatusCompleted),
		Progress: store.Ptr(100),
		OwnerPID: store.Ptr(0),
	}
	if err := r.store.UpdateTask(ctx, taskID, done); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	task.Status = api.StatusCompleted
	task.Progress = 100
	task.OwnerPID = 0

	// Artifacts are only needed again by a restart, and a completed
	// task has nothing to restart into.
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("removing staging dir failed", "task_id", taskID, "dir", dir, "error", err)
	}

	r.observer.OnTaskCompleted(ctx, task)
	return nil
}

// runStep invokes the handler, converting a panic into a step error so
// one broken step body cannot take the worker goroutine down.
func runStep(ctx context.Context, step api.StepDefinition, exec *api.Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, rec)
		}
	}()
	return step.Run(ctx, exec)
}

func (r *Runner) failTask(ctx context.Context, task *api.Task, cause error) error {
	upd := store.TaskUpdate{
		Status:       store.Ptr(api.StatusFailed),
		ErrorMessage: store.Ptr(cause.Error()),
		OwnerPID:     store.Ptr(0),
	}
	if err := r.store.UpdateTask(ctx, task.ID, upd); err != nil {
		r.logger.Error("persisting task failure failed", "task_id", task.ID, "error", err)
	}
	task.Status = api.StatusFailed
	task.ErrorMessage = cause.Error()
	task.OwnerPID = 0
	r.observer.OnTaskFailed(ctx, task, cause)
	return cause
}

func (r *Runner) appendLog(ctx context.Context, taskID string, level api.LogLevel, msg string) {
	if err := r.store.AppendLog(ctx, taskID, api.LogEntry{Level: level, Message: msg}); err != nil {
		r.logger.Warn("appending task log failed", "task_id", taskID, "error", err)
	}
}
