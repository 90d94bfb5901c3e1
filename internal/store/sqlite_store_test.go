package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return s
}

func TestSQLiteStore_CreateAndGetTask(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	params := api.Params{
		"pdf_path":  "/data/in/road-law.pdf",
		"languages": []string{"ja", "zh"},
	}
	created, err := s.CreateTask(ctx, api.TypePDFProcessing, params)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != api.StatusPending {
		t.Fatalf("expected status pending, got %q", got.Status)
	}
	if got.Type != api.TypePDFProcessing {
		t.Fatalf("expected type %q, got %q", api.TypePDFProcessing, got.Type)
	}
	if !reflect.DeepEqual(got.Params, params) {
		t.Fatalf("params did not round-trip: %+v", got.Params)
	}
	// Timestamps survive the unix-millisecond column exactly.
	if !got.CreatedAt.Equal(created.CreatedAt) || !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("timestamps did not round-trip: %v vs %v", got.CreatedAt, created.CreatedAt)
	}
	if len(got.Logs) != 0 {
		t.Fatalf("expected empty logs, got %+v", got.Logs)
	}
}

func TestSQLiteStore_GetTaskNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetTask(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateTask(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	err = s.UpdateTask(ctx, created.ID, TaskUpdate{
		Status:          Ptr(api.StatusFailed),
		CurrentStep:     Ptr(api.StepOCR),
		Progress:        Ptr(40),
		RestartFromStep: Ptr(api.StepOCR),
		OwnerPID:        Ptr(777),
		ErrorMessage:    Ptr("ocr failed on every page"),
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != api.StatusFailed || got.CurrentStep != api.StepOCR || got.Progress != 40 {
		t.Fatalf("unexpected task after update: %+v", got)
	}
	if got.RestartFromStep != api.StepOCR || got.OwnerPID != 777 {
		t.Fatalf("unexpected restart/owner after update: %+v", got)
	}
	if got.ErrorMessage != "ocr failed on every page" {
		t.Fatalf("unexpected error message: %q", got.ErrorMessage)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("expected UpdatedAt to move forward, got %v <= %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestSQLiteStore_UpdateTaskNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.UpdateTask(context.Background(), "does-not-exist", TaskUpdate{Progress: Ptr(10)})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSQLiteStore_AppendLog(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	stamped := time.Date(2026, 2, 3, 4, 5, 6, 789*int(time.Millisecond), time.UTC)
	if err := s.AppendLog(ctx, created.ID, api.LogEntry{Level: api.LogInfo, Message: "step to_images started"}); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}
	if err := s.AppendLog(ctx, created.ID, api.LogEntry{Timestamp: stamped, Level: api.LogError, Message: "render crashed"}); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if len(got.Logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(got.Logs))
	}
	if got.Logs[0].Message != "step to_images started" || got.Logs[0].Timestamp.IsZero() {
		t.Fatalf("first entry wrong: %+v", got.Logs[0])
	}
	if !got.Logs[1].Timestamp.Equal(stamped) || got.Logs[1].Level != api.LogError {
		t.Fatalf("second entry wrong: %+v", got.Logs[1])
	}
}

func TestSQLiteStore_AppendLogNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.AppendLog(context.Background(), "does-not-exist", api.LogEntry{Message: "x"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListTasksFiltersAndOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	third, err := s.CreateTask(ctx, "reindex", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := s.UpdateTask(ctx, second.ID, TaskUpdate{Status: Ptr(api.StatusProcessing)}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	all, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID || all[2].ID != first.ID {
		t.Fatalf("unexpected default order: %+v", taskIDs(all))
	}

	pending, err := s.ListTasks(ctx, TaskFilter{Status: api.StatusPending, OldestFirst: true})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != third.ID {
		t.Fatalf("unexpected pending tasks: %+v", taskIDs(pending))
	}

	byType, err := s.ListTasks(ctx, TaskFilter{Type: api.TypePDFProcessing, Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != second.ID {
		t.Fatalf("expected newest pdf task only, got %+v", taskIDs(byType))
	}
}

func TestSQLiteStore_DeleteTasksBefore(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	done, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	pending, err := s.CreateTask(ctx, api.TypePDFProcessing, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := s.UpdateTask(ctx, done.ID, TaskUpdate{Status: Ptr(api.StatusCompleted)}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	// No statuses means nothing to match.
	n, err := s.DeleteTasksBefore(ctx, time.Now().Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("DeleteTasksBefore failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 removed for empty status set, got %d", n)
	}

	// A cutoff in the past removes nothing either.
	n, err = s.DeleteTasksBefore(ctx, time.Now().Add(-time.Hour), []api.Status{api.StatusCompleted})
	if err != nil {
		t.Fatalf("DeleteTasksBefore failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 removed for past cutoff, got %d", n)
	}

	n, err = s.DeleteTasksBefore(ctx, time.Now().Add(time.Hour), []api.Status{api.StatusCompleted, api.StatusFailed})
	if err != nil {
		t.Fatalf("DeleteTasksBefore failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, err := s.GetTask(ctx, done.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("completed task should be gone, got %v", err)
	}
	if _, err := s.GetTask(ctx, pending.ID); err != nil {
		t.Fatalf("pending task should survive cleanup: %v", err)
	}
}

func taskIDs(tasks []*api.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
