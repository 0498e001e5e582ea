package washplansdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"washplan/internal/config"
	"washplan/internal/db"
	"washplan/internal/engine"
	"washplan/internal/migrate"
	"washplan/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{Engine: engine.New(conn, config.Default()), BasePath: "/v1"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	c.HTTPClient = srv.Client()
	return c
}

func TestClientScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	p, err := c.CreateProject(ctx, "横浜店", false)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := c.SetOpenDate(ctx, p.ID, "2025-10-01"); err != nil {
		t.Fatalf("set open date: %v", err)
	}
	sched, err := c.GenerateSchedule(ctx, p.ID, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if sched.Count == 0 || sched.Count != len(sched.Tasks) {
		t.Fatalf("unexpected schedule: %+v", sched)
	}

	moved, err := c.SetOpenDate(ctx, p.ID, "2025-10-08")
	if err != nil {
		t.Fatalf("move open date: %v", err)
	}
	if moved.DeltaDays != 7 || moved.Shifted != sched.Count {
		t.Fatalf("unexpected shift: %+v", moved)
	}

	first := sched.Tasks[0]
	task, err := c.MoveTask(ctx, p.ID, first.ID, "2025-01-10", "2025-01-14")
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	if task.StartDate != "2025-01-10" || task.Duration != 5 {
		t.Fatalf("unexpected task: %+v", task)
	}

	page, err := c.EventsPage(ctx, p.ID, 5, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 5 || page.NextCursor == "" {
		t.Fatalf("expected a full first page, got %d items cursor=%q", len(page.Items), page.NextCursor)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	p, err := c.CreateProject(ctx, "川崎店", false)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.CreateTask(ctx, p.ID, NewTask{Name: "逆転", StartDate: "2025-02-10", EndDate: "2025-02-01", Category: "back-office"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "validation_failed" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	_, err = c.GenerateSchedule(ctx, p.ID, false)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected confirm error, got %v", err)
	}

	if _, err := c.GetProject(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}

	if err := c.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	items, err := c.ListProjects(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected no projects, got %v err=%v", items, err)
	}
}
