package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"washplan/internal/domain"
)

type TaskFilters struct {
	ProjectID     string
	IncludeHidden bool
	Category      domain.Category
}

const taskColumns = `id,project_id,name,start_date,end_date,duration,progress,status,category,dependencies,is_hidden,sub_tasks,COALESCE(color,''),COALESCE(memo,''),created_at,updated_at`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var start, end, deps, subs string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &start, &end, &t.Duration, &t.Progress, &t.Status, &t.Category,
		&deps, &t.IsHidden, &subs, &t.Color, &t.Memo, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.StartDate, err = parseTime(start); err != nil {
		return t, err
	}
	if t.EndDate, err = parseTime(end); err != nil {
		return t, err
	}
	t.Dependencies = []string{}
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
			return t, fmt.Errorf("task %s dependencies: %w", t.ID, err)
		}
	}
	t.SubTasks = []domain.SubTaskCategory{}
	if subs != "" {
		if err := json.Unmarshal([]byte(subs), &t.SubTasks); err != nil {
			return t, fmt.Errorf("task %s sub_tasks: %w", t.ID, err)
		}
	}
	return t, nil
}

func taskJSON(t domain.Task) (deps, subs string, err error) {
	d := t.Dependencies
	if d == nil {
		d = []string{}
	}
	s := t.SubTasks
	if s == nil {
		s = []domain.SubTaskCategory{}
	}
	depsJSON, err := json.Marshal(d)
	if err != nil {
		return "", "", err
	}
	subsJSON, err := json.Marshal(s)
	if err != nil {
		return "", "", err
	}
	return string(depsJSON), string(subsJSON), nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	deps, subs, err := taskJSON(t)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, r.bind(`INSERT INTO tasks(id,project_id,name,start_date,end_date,duration,progress,status,category,dependencies,is_hidden,sub_tasks,color,memo,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.ProjectID, t.Name, FormatTime(t.StartDate), FormatTime(t.EndDate), t.Duration, t.Progress, string(t.Status), string(t.Category),
		deps, t.IsHidden, subs, nullable(t.Color), nullable(t.Memo), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTaskTx rewrites every mutable column of the task row.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	deps, subs, err := taskJSON(t)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, r.bind(`UPDATE tasks SET name=?, start_date=?, end_date=?, duration=?, progress=?, status=?, category=?, dependencies=?, is_hidden=?, sub_tasks=?, color=?, memo=?, updated_at=? WHERE id=? AND project_id=?`),
		t.Name, FormatTime(t.StartDate), FormatTime(t.EndDate), t.Duration, t.Progress, string(t.Status), string(t.Category),
		deps, t.IsHidden, subs, nullable(t.Color), nullable(t.Memo), t.UpdatedAt, t.ID, t.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, projectID, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, projectID, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, projectID, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, r.bind(`SELECT `+taskColumns+` FROM tasks WHERE id=? AND project_id=?`), id, projectID))
}

// ListTasks returns tasks oldest first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return r.ListTasksTx(ctx, nil, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if !f.IncludeHidden {
		clauses = append(clauses, "is_hidden=?")
		args = append(args, false)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, string(f.Category))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.q(tx).QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, r.bind(`DELETE FROM tasks WHERE id=? AND project_id=?`), id, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
