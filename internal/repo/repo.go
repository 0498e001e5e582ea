package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"washplan/internal/db"
	"washplan/internal/domain"
)

type Repo struct {
	DB     *sql.DB
	Driver string
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that a compare-and-swap update lost to a
	// concurrent writer.
	ErrConflict = errors.New("conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) bind(query string) string {
	return db.Rebind(r.Driver, query)
}

// TimeLayout is RFC3339 with fixed-width microseconds so stored values sort
// lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime is the canonical persisted form of an instant.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

const projectColumns = `id,name,COALESCE(description,''),open_date,use_well_water,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var openDate sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &openDate, &p.UseWellWater, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if openDate.Valid && openDate.String != "" {
		t, err := parseTime(openDate.String)
		if err != nil {
			return p, err
		}
		p.OpenDate = &t
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, r.bind(`INSERT INTO projects(id,name,description,open_date,use_well_water,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`),
		p.ID, p.Name, nullable(p.Description), nullableTime(p.OpenDate), p.UseWellWater, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, r.bind(`SELECT `+projectColumns+` FROM projects WHERE id=?`), id))
}

// ListProjects returns projects oldest first.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectTx writes name, description, well-water flag and updated_at.
// The open date has its own compare-and-swap path.
func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, r.bind(`UPDATE projects SET name=?, description=?, use_well_water=?, updated_at=? WHERE id=?`),
		p.Name, nullable(p.Description), p.UseWellWater, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOpenDateTx swaps the open date only if the stored value still equals
// prev. A mismatch returns ErrConflict.
func (r Repo) SetOpenDateTx(ctx context.Context, tx *sql.Tx, id string, prev, next *time.Time, updatedAt string) error {
	prevVal := ""
	if prev != nil {
		prevVal = FormatTime(*prev)
	}
	res, err := r.q(tx).ExecContext(ctx, r.bind(`UPDATE projects SET open_date=?, updated_at=? WHERE id=? AND COALESCE(open_date,'')=?`),
		nullableTime(next), updatedAt, id, prevVal)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetProjectTx(ctx, tx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, r.bind(`DELETE FROM projects WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// CountTasks returns the number of tasks stored for a project.
func (r Repo) CountTasks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.bind(`SELECT COUNT(*) FROM tasks WHERE project_id=?`), projectID).Scan(&n)
	return n, err
}

// LatestEvents returns the newest events first. cursor, when set, pages to
// events older than that id.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, table, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if table != "" {
		clauses = append(clauses, "table_name=?")
		args = append(args, table)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,op,table_name,COALESCE(project_id,''),entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. An empty projectID spans every project.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,op,table_name,COALESCE(project_id,''),entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Op, &e.Table, &e.ProjectID, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, r.bind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
