// Package scheduler owns task admission and concurrency: the FIFO
// queue, the bounded worker pool, startup recovery, the orphan sweep
// and retention cleanup. It implements api.Orchestrator; actual step
// execution is delegated to the runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/internal/liveness"
	"github.com/wengzhiwen/runjplib-pipeline/internal/runner"
	"github.com/wengzhiwen/runjplib-pipeline/internal/store"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// Input errors returned by the control surface. All of them leave task
// state untouched.
var (
	// ErrInvalidStep is returned when a restart names a step that is
	// not part of the task's pipeline.
	ErrInvalidStep = errors.New("step is not part of the task's pipeline")

	// ErrNotRestartable is returned when a restart targets a task that
	// is not in a terminal status.
	ErrNotRestartable = errors.New("task is not in a restartable status")

	// ErrNotPending is returned when StartPendingTask targets a task
	// that is not pending.
	ErrNotPending = errors.New("task is not pending")

	// ErrAlreadyQueued is returned when StartPendingTask targets a task
	// that is already queued or running.
	ErrAlreadyQueued = errors.New("task is already queued or running")
)

const (
	defaultBusyInterval = 30 * time.Second
	defaultIdleInterval = 5 * time.Minute
	defaultRetention    = 7 * 24 * time.Hour
	retentionInterval   = time.Hour

	backoffBase = 30 * time.Second
	backoffCap  = 10 * time.Minute

	defaultListLimit = 50
	logTailLimit     = 10
)

// Config describes how to construct a Scheduler.
type Config struct {
	Store    store.TaskStore
	Runner   *runner.Runner
	Registry *runner.Registry

	// MaxConcurrent caps simultaneously running workers; default 1.
	MaxConcurrent int

	// Retention is how long completed and failed tasks are kept.
	// Zero means the 7-day default; negative disables cleanup.
	Retention time.Duration

	Prober   liveness.Prober
	Observer api.Observer
	Logger   *slog.Logger

	// Loop intervals, overridable for tests. Zero means the defaults
	// (30s while busy, 5min when idle).
	BusyInterval time.Duration
	IdleInterval time.Duration
}

// workerHandle tracks one spawned worker. Its done channel is closed
// when the worker returns; processQueue reaps by receiving from it.
type workerHandle struct {
	done chan struct{}
}

// Scheduler is the single orchestrating object of the module. Workers
// run only between Start and Stop; submissions outside that window are
// accepted and sit queued.
type Scheduler struct {
	store    store.TaskStore
	runner   *runner.Runner
	registry *runner.Registry
	prober   liveness.Prober
	observer api.Observer
	logger   *slog.Logger

	maxConcurrent int
	retention     time.Duration
	busyInterval  time.Duration
	idleInterval  time.Duration

	mu          sync.Mutex
	queue       []string
	queued      map[string]struct{}
	running     map[string]*workerHandle
	started     bool
	stop        chan struct{}
	lastCleanup time.Time

	wake chan struct{}
	wg   sync.WaitGroup
}

var _ api.Orchestrator = (*Scheduler)(nil)

// New builds a Scheduler. Store, runner and registry are required.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	retention := cfg.Retention
	if retention == 0 {
		retention = defaultRetention
	}
	prober := cfg.Prober
	if prober == nil {
		prober = liveness.NewProcessProber()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	busy := cfg.BusyInterval
	if busy <= 0 {
		busy = defaultBusyInterval
	}
	idle := cfg.IdleInterval
	if idle <= 0 {
		idle = defaultIdleInterval
	}

	return &Scheduler{
		store:         cfg.Store,
		runner:        cfg.Runner,
		registry:      cfg.Registry,
		prober:        prober,
		observer:      obs,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		retention:     retention,
		busyInterval:  busy,
		idleInterval:  idle,
		queued:        make(map[string]struct{}),
		running:       make(map[string]*workerHandle),
		wake:          make(chan struct{}, 1),
	}, nil
}

// Start runs the recovery sweep and spawns the background loop. It
// returns an error only on misuse; an unreachable store at startup is
// logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	if err := s.tick(ctx); err != nil {
		s.logger.Warn("startup sweep incomplete, will retry", "error", err)
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started", "max_concurrent", s.maxConcurrent)
	return nil
}

// Stop halts the background loop and waits for running workers to
// finish. Tasks are never cancelled mid-run; the context bounds only
// how long Stop waits for the drain.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

// CreateTask persists a new pending task and enqueues it. The task type
// must have a registered pipeline.
func (s *Scheduler) CreateTask(ctx context.Context, taskType string, params api.Params) (string, error) {
	if _, err := s.registry.Get(taskType); err != nil {
		return "", err
	}
	task, err := s.store.CreateTask(ctx, taskType, params)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created", "task_id", task.ID, "task_type", taskType)
	s.enqueue(task.ID)
	s.processQueue(ctx)
	return task.ID, nil
}

// GetTask returns the full task record, including all logs.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*api.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns up to limit tasks, newest first, each carrying only
// the tail of its log. limit <= 0 applies the default of 50.
func (s *Scheduler) ListTasks(ctx context.Context, limit int) ([]*api.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.Logs = t.TailLogs(logTailLimit)
	}
	return tasks, nil
}

// RestartFromStep marks a finished task pending again, to be re-run
// from the given step with earlier steps satisfied from staged
// artifacts.
func (s *Scheduler) RestartFromStep(ctx context.Context, id string, step api.Step) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	def, err := s.registry.Get(task.Type)
	if err != nil {
		return err
	}
	if def.StepIndex(step) < 0 {
		return fmt.Errorf("%w: %q is not a step of pipeline %q", ErrInvalidStep, step, def.Type)
	}
	if !task.Status.Restartable() {
		return fmt.Errorf("%w: task %s is %s", ErrNotRestartable, id, task.Status)
	}

	upd := store.TaskUpdate{
		Status:          store.Ptr(api.StatusPending),
		RestartFromStep: store.Ptr(step),
		Progress:        store.Ptr(0),
		ErrorMessage:    store.Ptr(""),
	}
	if err := s.store.UpdateTask(ctx, id, upd); err != nil {
		return fmt.Errorf("mark task for restart: %w", err)
	}
	s.appendLog(ctx, id, api.LogInfo, fmt.Sprintf("restart requested from step %s", step))
	s.logger.Info("task restart requested", "task_id", id, "step", step.String())

	s.enqueue(id)
	s.processQueue(ctx)
	return nil
}

// StartPendingTask enqueues a pending task that is not already queued
// or running.
func (s *Scheduler) StartPendingTask(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != api.StatusPending {
		return fmt.Errorf("%w: task %s is %s", ErrNotPending, id, task.Status)
	}
	if !s.enqueue(id) {
		return fmt.Errorf("%w: task %s", ErrAlreadyQueued, id)
	}
	s.processQueue(ctx)
	return nil
}

// QueueStatus reports the current queue depth and worker count.
func (s *Scheduler) QueueStatus() api.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.queueStatusLocked()
}

func (s *Scheduler) queueStatusLocked() api.QueueStatus {
	return api.QueueStatus{
		Running:       len(s.running),
		Queued:        len(s.queue),
		MaxConcurrent: s.maxConcurrent,
	}
}

// enqueue appends id to the queue unless it is already queued or
// running. It reports whether the id was added.
func (s *Scheduler) enqueue(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	if _, ok := s.queued[id]; ok {
		return false
	}
	if _, ok := s.running[id]; ok {
		return false
	}
	s.queue = append(s.queue, id)
	s.queued[id] = struct{}{}
	return true
}

// processQueue reaps finished workers and fills free slots from the
// queue head. Workers spawn only while the scheduler is started.
func (s *Scheduler) processQueue(ctx context.Context) {
	s.mu.Lock()
	s.reapLocked()
	if s.started {
		for len(s.queue) > 0 && len(s.running) < s.maxConcurrent {
			id := s.queue[0]
			s.queue = s.queue[1:]
			delete(s.queued, id)

			h := &workerHandle{done: make(chan struct{})}
			s.running[id] = h
			s.wg.Add(1)
			go s.runTask(id, h)
		}
	}
	qs := s.queueStatusLocked()
	s.mu.Unlock()

	s.observer.OnQueueChanged(ctx, qs)
}

// reapLocked removes workers whose done channel is closed. Callers hold
// the mutex.
func (s *Scheduler) reapLocked() {
	for id, h := range s.running {
		select {
		case <-h.done:
			delete(s.running, id)
		default:
		}
	}
}

// runTask is the worker goroutine body: one task end to end. The run
// context is deliberately detached from Start's; a task in flight is
// never cancelled, only waited for.
func (s *Scheduler) runTask(id string, h *workerHandle) {
	defer s.wg.Done()
	defer func() {
		close(h.done)
		s.poke()
	}()

	ctx := context.Background()
	notify := func() {
		s.logger.Debug("task waiting on external call", "task_id", id)
		s.processQueue(ctx)
	}
	if err := s.runner.Run(ctx, id, notify); err != nil {
		s.logger.Error("task run ended with error", "task_id", id, "error", err)
	}
}

// poke wakes the background loop without blocking.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop drives periodic sweeps and drains: every busyInterval while
// tasks are queued or running, every idleInterval otherwise. A failing
// tick backs off exponentially, 30s doubling up to 10min.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	failures := 0
	for {
		interval := s.tickInterval()
		if failures > 0 {
			interval = backoffFor(failures)
		}

		timer := time.NewTimer(interval)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		if err := s.tick(context.Background()); err != nil {
			failures++
			s.logger.Warn("scheduler tick failed", "consecutive", failures, "backoff", backoffFor(failures).String(), "error", err)
		} else {
			failures = 0
		}
	}
}

func (s *Scheduler) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	if len(s.queue) > 0 || len(s.running) > 0 {
		return s.busyInterval
	}
	return s.idleInterval
}

func backoffFor(failures int) time.Duration {
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// tick runs one maintenance pass: pending and orphan sweeps, retention
// cleanup, then a queue drain. The first error is reported after every
// part has had its chance to run.
func (s *Scheduler) tick(ctx context.Context) error {
	var firstErr error
	if err := s.recoverPending(ctx); err != nil {
		firstErr = err
	}
	if err := s.sweepOrphans(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.cleanupRetention(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.processQueue(ctx)
	return firstErr
}

func (s *Scheduler) appendLog(ctx context.Context, taskID string, level api.LogLevel, msg string) {
	if err := s.store.AppendLog(ctx, taskID, api.LogEntry{Level: level, Message: msg}); err != nil {
		s.logger.Warn("appending task log failed", "task_id", taskID, "error", err)
	}
}
