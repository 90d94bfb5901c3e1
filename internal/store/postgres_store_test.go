package store

import (
	"context"
	"errors"
	"time"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

func (p *PostgresStoreTestSuite) TestPostgresStore_CreateGetUpdate() {
	ctx := context.Background()

	params := api.Params{
		"pdf_path":  "/data/in/insurance-terms.pdf",
		"languages": []string{"ja", "zh"},
	}
	created, err := p.store.CreateTask(ctx, api.TypePDFProcessing, params)
	p.NoErrorf(err, "CreateTask failed: %v", err)
	p.NotEmpty(created.ID)
	p.Equal(api.StatusPending, created.Status)

	got, err := p.store.GetTask(ctx, created.ID)
	p.NoErrorf(err, "GetTask failed: %v", err)
	p.Equal(api.TypePDFProcessing, got.Type)
	p.Equal("/data/in/insurance-terms.pdf", got.Params.String("pdf_path"))
	p.Equal([]string{"ja", "zh"}, got.Params["languages"])
	p.True(got.CreatedAt.Equal(created.CreatedAt), "CreatedAt did not round-trip: %v vs %v", got.CreatedAt, created.CreatedAt)

	err = p.store.UpdateTask(ctx, created.ID, TaskUpdate{
		Status:          Ptr(api.StatusInterrupted),
		CurrentStep:     Ptr(api.StepAnalyze),
		Progress:        Ptr(80),
		RestartFromStep: Ptr(api.StepAnalyze),
		ErrorMessage:    Ptr("task process was interrupted by a service restart or crash"),
	})
	p.NoErrorf(err, "UpdateTask failed: %v", err)

	got2, err := p.store.GetTask(ctx, created.ID)
	p.NoErrorf(err, "GetTask after update failed: %v", err)
	p.Equal(api.StatusInterrupted, got2.Status)
	p.Equal(api.StepAnalyze, got2.CurrentStep)
	p.Equal(80, got2.Progress)
	p.Equal(api.StepAnalyze, got2.RestartFromStep)
	p.NotEmpty(got2.ErrorMessage)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_NotFound() {
	ctx := context.Background()

	_, err := p.store.GetTask(ctx, "does-not-exist")
	p.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)

	err = p.store.UpdateTask(ctx, "does-not-exist", TaskUpdate{Progress: Ptr(10)})
	p.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)

	err = p.store.AppendLog(ctx, "does-not-exist", api.LogEntry{Message: "x"})
	p.True(errors.Is(err, ErrTaskNotFound), "expected ErrTaskNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_AppendLog() {
	ctx := context.Background()

	created, err := p.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)

	err = p.store.AppendLog(ctx, created.ID, api.LogEntry{Level: api.LogInfo, Message: "step translate started"})
	p.NoErrorf(err, "AppendLog failed: %v", err)
	err = p.store.AppendLog(ctx, created.ID, api.LogEntry{Level: api.LogError, Message: "translation service unreachable"})
	p.NoErrorf(err, "AppendLog failed: %v", err)

	got, err := p.store.GetTask(ctx, created.ID)
	p.NoErrorf(err, "GetTask failed: %v", err)
	p.Len(got.Logs, 2)
	p.Equal("step translate started", got.Logs[0].Message)
	p.Equal(api.LogError, got.Logs[1].Level)
	p.False(got.Logs[0].Timestamp.IsZero(), "zero timestamps must be stamped")
	p.True(got.UpdatedAt.After(created.UpdatedAt) || got.UpdatedAt.Equal(created.UpdatedAt))
}

func (p *PostgresStoreTestSuite) TestPostgresStore_ListTasksFilters() {
	ctx := context.Background()

	first, err := p.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)
	time.Sleep(5 * time.Millisecond)
	second, err := p.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)
	time.Sleep(5 * time.Millisecond)
	third, err := p.store.CreateTask(ctx, "reindex", nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)

	err = p.store.UpdateTask(ctx, second.ID, TaskUpdate{Status: Ptr(api.StatusProcessing)})
	p.NoErrorf(err, "UpdateTask failed: %v", err)

	all, err := p.store.ListTasks(ctx, TaskFilter{})
	p.NoErrorf(err, "ListTasks failed: %v", err)
	p.Len(all, 3)
	p.Equal(third.ID, all[0].ID, "default order is newest first")
	p.Equal(first.ID, all[2].ID)

	pending, err := p.store.ListTasks(ctx, TaskFilter{Status: api.StatusPending, OldestFirst: true})
	p.NoErrorf(err, "ListTasks failed: %v", err)
	p.Len(pending, 2)
	p.Equal(first.ID, pending[0].ID)

	byType, err := p.store.ListTasks(ctx, TaskFilter{Type: api.TypePDFProcessing, Limit: 1})
	p.NoErrorf(err, "ListTasks failed: %v", err)
	p.Len(byType, 1)
	p.Equal(second.ID, byType[0].ID)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_DeleteTasksBefore() {
	ctx := context.Background()

	done, err := p.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)
	pending, err := p.store.CreateTask(ctx, api.TypePDFProcessing, nil)
	p.NoErrorf(err, "CreateTask failed: %v", err)

	err = p.store.UpdateTask(ctx, done.ID, TaskUpdate{Status: Ptr(api.StatusFailed)})
	p.NoErrorf(err, "UpdateTask failed: %v", err)

	n, err := p.store.DeleteTasksBefore(ctx, time.Now().Add(time.Hour), []api.Status{api.StatusCompleted, api.StatusFailed})
	p.NoErrorf(err, "DeleteTasksBefore failed: %v", err)
	p.Equal(1, n)

	_, err = p.store.GetTask(ctx, done.ID)
	p.True(errors.Is(err, ErrTaskNotFound), "failed task should be gone, got %v", err)
	_, err = p.store.GetTask(ctx, pending.ID)
	p.NoErrorf(err, "pending task should survive cleanup: %v", err)
}
