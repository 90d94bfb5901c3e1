package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// PostgresStore is a TaskStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	_ "github.com/jackc/pgx/v5/stdlib"
//
// and for providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements TaskStore.
var _ TaskStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given
// database and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL DEFAULT '',
			progress INTEGER NOT NULL DEFAULT 0,
			params BYTEA,
			restart_from_step TEXT NOT NULL DEFAULT '',
			owner_pid INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			logs BYTEA,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	`)
	return err
}

func (p *PostgresStore) CreateTask(ctx context.Context, taskType string, params api.Params) (*api.Task, error) {
	paramsBlob, err := encodeValue(params)
	if err != nil {
		return nil, err
	}
	logsBlob, err := encodeValue([]api.LogEntry{})
	if err != nil {
		return nil, err
	}

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

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID,
		t.Type,
		string(t.Status),
		"",
		0,
		paramsBlob,
		"",
		0,
		"",
		logsBlob,
		ts,
		ts,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) GetTask(ctx context.Context, id string) (*api.Task, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at
		FROM tasks
		WHERE id = $1`,
		id,
	)

	t, err := scanPostgresTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) UpdateTask(ctx context.Context, id string, upd TaskUpdate) error {
	var sets []string
	var args []any

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.CurrentStep != nil {
		add("current_step", string(*upd.CurrentStep))
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.RestartFromStep != nil {
		add("restart_from_step", string(*upd.RestartFromStep))
	}
	if upd.OwnerPID != nil {
		add("owner_pid", *upd.OwnerPID)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	add("updated_at", now())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (p *PostgresStore) AppendLog(ctx context.Context, id string, entry api.LogEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var logsBlob []byte
	err = tx.QueryRowContext(ctx,
		`SELECT logs FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&logsBlob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}

	logs, err := decodeValue[[]api.LogEntry](logsBlob)
	if err != nil {
		return err
	}
	logs = append(logs, stampEntry(entry))

	updated, err := encodeValue(logs)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET logs = $1, updated_at = $2 WHERE id = $3`,
		updated, now(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListTasks(ctx context.Context, f TaskFilter) ([]*api.Task, error) {
	query := `
		SELECT id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at
		FROM tasks`
	var args []any
	var clauses []string

	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		clauses = append(clauses, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	if f.OldestFirst {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*api.Task
	for rows.Next() {
		t, err := scanPostgresTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (p *PostgresStore) DeleteTasksBefore(ctx context.Context, cutoff time.Time, statuses []api.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	args := []any{cutoff}
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	res, err := p.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE updated_at < $1 AND status IN ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// scanPostgresTask reads one tasks row; timestamps come back as
// time.Time from TIMESTAMPTZ columns.
func scanPostgresTask(scan func(dest ...any) error) (*api.Task, error) {
	var t api.Task
	var statusStr, stepStr, restartStr string
	var paramsBlob, logsBlob []byte
	var createdAt, updatedAt time.Time

	err := scan(&t.ID, &t.Type, &statusStr, &stepStr, &t.Progress, &paramsBlob,
		&restartStr, &t.OwnerPID, &t.ErrorMessage, &logsBlob, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = api.Status(statusStr)
	t.CurrentStep = api.Step(stepStr)
	t.RestartFromStep = api.Step(restartStr)
	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = updatedAt.UTC()

	params, err := decodeValue[api.Params](paramsBlob)
	if err != nil {
		return nil, err
	}
	t.Params = params

	logs, err := decodeValue[[]api.LogEntry](logsBlob)
	if err != nil {
		return nil, err
	}
	t.Logs = logs

	return &t, nil
}
