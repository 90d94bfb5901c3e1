package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// MemoryStore is a goroutine-safe TaskStore backed by a map. It is not
// durable and is intended for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*api.Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*api.Task)}
}

// Ensure MemoryStore implements the interface.
var _ TaskStore = (*MemoryStore)(nil)

func (s *MemoryStore) CreateTask(ctx context.Context, taskType string, params api.Params) (*api.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	t := &api.Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    api.StatusPending,
		Params:    params,
		Logs:      []api.LogEntry{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.tasks[t.ID] = t.Clone()
	return t, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, id string, upd TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.CurrentStep != nil {
		t.CurrentStep = *upd.CurrentStep
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.RestartFromStep != nil {
		t.RestartFromStep = *upd.RestartFromStep
	}
	if upd.OwnerPID != nil {
		t.OwnerPID = *upd.OwnerPID
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = *upd.ErrorMessage
	}
	t.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, id string, entry api.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	t.Logs = append(t.Logs, stampEntry(entry))
	t.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, f TaskFilter) ([]*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		result = append(result, t.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if f.OldestFirst {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *MemoryStore) DeleteTasksBefore(ctx context.Context, cutoff time.Time, statuses []api.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := make(map[api.Status]struct{}, len(statuses))
	for _, st := range statuses {
		match[st] = struct{}{}
	}

	removed := 0
	for id, t := range s.tasks {
		if _, ok := match[t.Status]; !ok {
			continue
		}
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		removed++
	}
	return removed, nil
}
