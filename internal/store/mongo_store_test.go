package store

import (
	"context"
	"errors"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

func (m *MongoStoreTestSuite) TestMongoStore_CreateGetUpdate() {
	ctx := context.Background()

	created, err := m.store.CreateTask(ctx, api.TypePDFProcessing, api.Params{
		"pdf_path": "/data/in/license-guide.pdf",
		"title":    "license guide",
	})
	m.NoErrorf(err, "CreateTask failed: %v", err)
	m.NotEmpty(created.ID)
	m.Equal(api.StatusPending, created.Status)

	got, err := m.store.GetTask(ctx, created.ID)
	m.NoErrorf(err, "GetTask failed: %v", err)
	m.Equal(api.TypePDFProcessing, got.Type)
	m.Equal("/data/in/license-guide.pdf", got.Params.String("pdf_path"))
	m.Equal("license guide", got.Params.String("title"))
	m.True(got.CreatedAt.Equal(created.CreatedAt), "CreatedAt did not round-trip: %v vs %v", got.CreatedAt, created.CreatedAt)

	err = m.store.UpdateTask(ctx, created.ID, TaskUpdate{
		Status:       Ptr(api.StatusProcessing),
		CurrentStep:  Ptr(api.StepTranslate),
		Progress:     Ptr(60),
		OwnerPID:     Ptr(9001),
		ErrorMessage: Ptr(""),
	})
	m.NoErrorf(err, "UpdateTask failed: %v", err)

	got2, err := m.store.GetTask(ctx, created.ID)
	m.NoErrorf(err, "GetTask after update failed: %v", err)
	m.Equal(api.StatusProcessing, got2.Status)
	m.Equal(api.StepTranslate, got2.CurrentStep)
	m.Equal(60, got2.Progress)
	m.Equal(9001, got2.OwnerPID)
	m.True(got2.UpdatedAt.After(got2.CreatedAt) || got2.UpdatedAt.Equal(got2.CreatedAt))
}

func (m *MongoStoreTestSuite) TestMongoStore_NotFound() {
	ctx := context.Background()

	_, err := m.store.GetTask(ctx, "does-not-exist")
	m.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)

	err = m.store.UpdateTask(ctx, "does-not-exist", TaskUpdate{Progress: Ptr(10)})
	m.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)

	err = m.store.AppendLog(ctx, "does-not-exist", api.LogEntry{Message: "x"})
	m.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)
}

func (m *MongoStoreTestSuite) TestMongoStore_AppendLog() {
	ctx := context.Background()

	created, err := m.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)

	err = m.store.AppendLog(ctx, created.ID, api.LogEntry{Level: api.LogInfo, Message: "step ocr started"})
	m.NoErrorf(err, "AppendLog failed: %v", err)
	err = m.store.AppendLog(ctx, created.ID, api.LogEntry{Level: api.LogWarning, Message: "page 2 used degraded recognition"})
	m.NoErrorf(err, "AppendLog failed: %v", err)

	got, err := m.store.GetTask(ctx, created.ID)
	m.NoErrorf(err, "GetTask failed: %v", err)
	m.Len(got.Logs, 2)
	m.Equal("step ocr started", got.Logs[0].Message)
	m.Equal(api.LogWarning, got.Logs[1].Level)
	m.False(got.Logs[0].Timestamp.IsZero(), "zero timestamps must be stamped")
}

func (m *MongoStoreTestSuite) TestMongoStore_ListTasksFilters() {
	ctx := context.Background()

	first, err := m.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)
	time.Sleep(5 * time.Millisecond)
	third, err := m.store.CreateTask(ctx, "reindex", nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)

	err = m.store.UpdateTask(ctx, second.ID, TaskUpdate{Status: Ptr(api.StatusCompleted)})
	m.NoErrorf(err, "UpdateTask failed: %v", err)

	all, err := m.store.ListTasks(ctx, TaskFilter{})
	m.NoErrorf(err, "ListTasks failed: %v", err)
	m.Len(all, 3)
	m.Equal(third.ID, all[0].ID, "default order is newest first")
	m.Equal(first.ID, all[2].ID)

	pending, err := m.store.ListTasks(ctx, TaskFilter{Status: api.StatusPending, OldestFirst: true})
	m.NoErrorf(err, "ListTasks failed: %v", err)
	m.Len(pending, 2)
	m.Equal(first.ID, pending[0].ID)

	byType, err := m.store.ListTasks(ctx, TaskFilter{Type: api.TypePDFProcessing, Limit: 1})
	m.NoErrorf(err, "ListTasks failed: %v", err)
	m.Len(byType, 1)
	m.Equal(second.ID, byType[0].ID)
}

func (m *MongoStoreTestSuite) TestMongoStore_DeleteTasksBefore() {
	ctx := context.Background()

	done, err := m.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)
	pending, err := m.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	m.NoErrorf(err, "CreateTask failed: %v", err)

	err = m.store.UpdateTask(ctx, done.ID, TaskUpdate{Status: Ptr(api.StatusCompleted)})
	m.NoErrorf(err, "UpdateTask failed: %v", err)

	n, err := m.store.DeleteTasksBefore(ctx, time.Now().Add(time.Hour), []api.Status{api.StatusCompleted, api.StatusFailed})
	m.NoErrorf(err, "DeleteTasksBefore failed: %v", err)
	m.Equal(1, n)

	_, err = m.store.GetTask(ctx, done.ID)
	m.True(errors.Is(err, ErrTaskNotFound), "completed task should be gone, got %v", err)
	_, err = m.store.GetTask(ctx, pending.ID)
	m.NoErrorf(err, "pending task should survive cleanup: %v", err)
}
