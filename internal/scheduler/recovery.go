package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/internal/store"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// interruptedReason is the error message recorded on tasks orphaned by
// a dead owner process. Operators grep for it, so keep it stable.
const interruptedReason = "task process was interrupted by a service restart or crash"

// recoverPending re-enqueues every pending task, oldest first, so work
// submitted before a restart keeps its submission order. Tasks already
// queued or running are left alone.
func (s *Scheduler) recoverPending(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{
		Status:      api.StatusPending,
		OldestFirst: true,
	})
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}

	enqueued := 0
	for _, t := range tasks {
		if s.enqueue(t.ID) {
			enqueued++
		}
	}
	if enqueued > 0 {
		s.logger.Info("pending tasks enqueued", "count", enqueued)
	}
	return nil
}

// sweepOrphans marks processing tasks whose owner process no longer
// exists as interrupted. A task with no recorded owner pid is an orphan
// by definition. Probe errors leave the task untouched until a later
// sweep can decide.
func (s *Scheduler) sweepOrphans(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{Status: api.StatusProcessing})
	if err != nil {
		return fmt.Errorf("list processing tasks: %w", err)
	}

	for _, t := range tasks {
		alive := false
		if t.OwnerPID > 0 {
			var probeErr error
			alive, probeErr = s.prober.Alive(t.OwnerPID)
			if probeErr != nil {
				s.logger.Warn("liveness probe failed, leaving task untouched",
					"task_id", t.ID, "owner_pid", t.OwnerPID, "error", probeErr)
				continue
			}
		}
		if alive {
			continue
		}

		upd := store.TaskUpdate{
			Status:       store.Ptr(api.StatusInterrupted),
			ErrorMessage: store.Ptr(interruptedReason),
			OwnerPID:     store.Ptr(0),
		}
		if err := s.store.UpdateTask(ctx, t.ID, upd); err != nil {
			s.logger.Warn("marking orphaned task failed", "task_id", t.ID, "error", err)
			continue
		}
		s.appendLog(ctx, t.ID, api.LogWarning, interruptedReason)

		t.Status = api.StatusInterrupted
		t.ErrorMessage = interruptedReason
		s.observer.OnTaskInterrupted(ctx, t, interruptedReason)
		s.logger.Warn("orphaned task marked interrupted", "task_id", t.ID, "owner_pid", t.OwnerPID)
	}
	return nil
}

// cleanupRetention deletes completed and failed tasks older than the
// retention window. It runs at most once per hour; interrupted tasks
// are kept until someone restarts or inspects them.
func (s *Scheduler) cleanupRetention(ctx context.Context) error {
	if s.retention < 0 {
		return nil
	}

	now := time.Now()
	s.mu.Lock()
	due := s.lastCleanup.IsZero() || now.Sub(s.lastCleanup) >= retentionInterval
	if due {
		s.lastCleanup = now
	}
	s.mu.Unlock()
	if !due {
		return nil
	}

	cutoff := now.Add(-s.retention)
	removed, err := s.store.DeleteTasksBefore(ctx, cutoff, []api.Status{api.StatusCompleted, api.StatusFailed})
	if err != nil {
		return fmt.Errorf("retention cleanup: %w", err)
	}
	if removed > 0 {
		s.logger.Info("retention cleanup removed tasks", "count", removed)
	}
	return nil
}
