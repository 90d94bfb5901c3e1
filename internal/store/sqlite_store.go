package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// SQLiteStore is a TaskStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Params and logs are stored as gob blobs; timestamps as unix
// milliseconds, which SQLite's type affinity handles cleanly.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements TaskStore.
var _ TaskStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL DEFAULT '',
			progress INTEGER NOT NULL DEFAULT 0,
			params BLOB,
			restart_from_step TEXT NOT NULL DEFAULT '',
			owner_pid INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			logs BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);`,
	)
	return err
}

func (s *SQLiteStore) CreateTask(ctx context.Context, taskType string, params api.Params) (*api.Task, error) {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		ts.UnixMilli(),
		ts.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*api.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at
		FROM tasks
		WHERE id = ?`,
		id,
	)

	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, upd TaskUpdate) error {
	sets, args := buildUpdateSets(upd)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
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

func (s *SQLiteStore) AppendLog(ctx context.Context, id string, entry api.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var logsBlob []byte
	err = tx.QueryRowContext(ctx, `SELECT logs FROM tasks WHERE id = ?`, id).Scan(&logsBlob)
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
		`UPDATE tasks SET logs = ?, updated_at = ? WHERE id = ?`,
		updated, now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTasks(ctx context.Context, f TaskFilter) ([]*api.Task, error) {
	query := `
		SELECT id, task_type, status, current_step, progress, params,
			restart_from_step, owner_pid, error_message, logs, created_at, updated_at
		FROM tasks`
	var args []any
	var clauses []string

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "task_type = ?")
		args = append(args, f.Type)
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
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*api.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
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

func (s *SQLiteStore) DeleteTasksBefore(ctx context.Context, cutoff time.Time, statuses []api.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(statuses))
	args := []any{cutoff.UnixMilli()}
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE updated_at < ? AND status IN ("+strings.Join(placeholders, ", ")+")",
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

// scanTask reads one tasks row in column order. It works for both
// sql.Row and sql.Rows via their shared Scan signature.
func scanTask(scan func(dest ...any) error) (*api.Task, error) {
	var t api.Task
	var statusStr, stepStr, restartStr string
	var paramsBlob, logsBlob []byte
	var createdMs, updatedMs int64

	err := scan(&t.ID, &t.Type, &statusStr, &stepStr, &t.Progress, &paramsBlob,
		&restartStr, &t.OwnerPID, &t.ErrorMessage, &logsBlob, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}

	t.Status = api.Status(statusStr)
	t.CurrentStep = api.Step(stepStr)
	t.RestartFromStep = api.Step(restartStr)
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()

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

// buildUpdateSets turns a TaskUpdate into SQLite SET clauses.
func buildUpdateSets(upd TaskUpdate) ([]string, []any) {
	var sets []string
	var args []any

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
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
	add("updated_at", now().UnixMilli())

	return sets, args
}
