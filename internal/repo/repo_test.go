package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"washplan/internal/db"
	"washplan/internal/domain"
	"washplan/internal/events"
	"washplan/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn, Driver: db.DriverSQLite}
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func seedProject(t *testing.T, r Repo, id string, open *time.Time) domain.Project {
	t.Helper()
	now := FormatTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p := domain.Project{ID: id, Name: "店舗 " + id, OpenDate: open, CreatedAt: now, UpdatedAt: now}
	if err := inTx(t, r, func(tx *sql.Tx) error { return r.InsertProjectTx(context.Background(), tx, p) }); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

func TestSetOpenDateCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	jst := time.FixedZone("JST", 9*3600)
	first := time.Date(2025, 10, 1, 0, 0, 0, 0, jst)
	seedProject(t, r, "p1", &first)

	next := first.AddDate(0, 0, 7)
	err := inTx(t, r, func(tx *sql.Tx) error { return r.SetOpenDateTx(ctx, tx, "p1", &first, &next, FormatTime(time.Now())) })
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	got, err := r.GetProject(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OpenDate == nil || !got.OpenDate.Equal(next) {
		t.Fatalf("open date not stored: %+v", got.OpenDate)
	}

	// a second writer still holding the old value loses
	err = inTx(t, r, func(tx *sql.Tx) error { return r.SetOpenDateTx(ctx, tx, "p1", &first, nil, FormatTime(time.Now())) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	err = inTx(t, r, func(tx *sql.Tx) error { return r.SetOpenDateTx(ctx, tx, "nope", nil, &next, FormatTime(time.Now())) })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskRoundTripAndCascade(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedProject(t, r, "p1", nil)
	start := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	task := domain.Task{
		ID: "t1", ProjectID: "p1", Name: "契約", StartDate: start, EndDate: start.AddDate(0, 0, 9), Duration: 10,
		Status: domain.StatusNotStarted, Category: domain.CategoryBackOffice, Dependencies: []string{"t0"},
		SubTasks: []domain.SubTaskCategory{{ID: "c1", Name: "書類", Items: []domain.SubTaskItem{{ID: "i1", Name: "印鑑"}}}},
		CreatedAt: FormatTime(start), UpdatedAt: FormatTime(start),
	}
	hidden := task.Clone()
	hidden.ID, hidden.Name, hidden.IsHidden = "t2", "OPEN日", true
	hidden.CreatedAt = FormatTime(start.Add(time.Millisecond))
	err := inTx(t, r, func(tx *sql.Tx) error {
		if err := r.InsertTaskTx(ctx, tx, task); err != nil {
			return err
		}
		return r.InsertTaskTx(ctx, tx, hidden)
	})
	if err != nil {
		t.Fatalf("insert tasks: %v", err)
	}

	got, err := r.GetTask(ctx, "p1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.StartDate.Equal(start) || got.Duration != 10 || len(got.Dependencies) != 1 || got.SubTasks[0].Items[0].Name != "印鑑" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if _, err := r.GetTask(ctx, "other", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected project scoping, got %v", err)
	}

	visible, err := r.ListTasks(ctx, TaskFilters{ProjectID: "p1"})
	if err != nil || len(visible) != 1 {
		t.Fatalf("expected hidden task filtered, got %d err=%v", len(visible), err)
	}
	all, err := r.ListTasks(ctx, TaskFilters{ProjectID: "p1", IncludeHidden: true})
	if err != nil || len(all) != 2 || all[0].ID != "t1" {
		t.Fatalf("expected creation order, got %+v err=%v", all, err)
	}

	if err := inTx(t, r, func(tx *sql.Tx) error { return r.DeleteProjectTx(ctx, tx, "p1") }); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if n, err := r.CountTasks(ctx, "p1"); err != nil || n != 0 {
		t.Fatalf("expected tasks removed with project, got %d err=%v", n, err)
	}
}

func TestEventsAppendAndTail(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	p := seedProject(t, r, "p1", nil)
	w := events.Writer{Driver: db.DriverSQLite}
	for i := 0; i < 3; i++ {
		err := inTx(t, r, func(tx *sql.Tx) error {
			return w.Append(ctx, tx, events.Record{
				Op: domain.OpUpdate, Table: domain.TableProjects, ProjectID: p.ID, EntityID: p.ID, ActorID: "tester", New: p,
			})
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, err := r.LatestEventID(ctx, "")
	if err != nil || latest != 3 {
		t.Fatalf("expected latest id 3, got %d err=%v", latest, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1, "")
	if err != nil || len(after) != 2 || after[0].ID != 2 {
		t.Fatalf("expected ascending tail after 1, got %+v err=%v", after, err)
	}
	newest, err := r.LatestEvents(ctx, 2, 0, p.ID, domain.TableProjects, "")
	if err != nil || len(newest) != 2 || newest[0].ID != 3 {
		t.Fatalf("expected newest first, got %+v err=%v", newest, err)
	}
	older, err := r.LatestEvents(ctx, 2, newest[1].ID, p.ID, "", "")
	if err != nil || len(older) != 1 || older[0].ID != 1 {
		t.Fatalf("expected cursor paging, got %+v err=%v", older, err)
	}

	payload, err := events.Decode(after[0].Payload)
	if err != nil || len(payload.New) == 0 || len(payload.Old) != 0 {
		t.Fatalf("unexpected payload: %+v err=%v", payload, err)
	}
}
