package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"washplan/internal/config"
	"washplan/internal/db"
	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/feed"
	"washplan/internal/migrate"
	"washplan/internal/session"
)

type env struct {
	ctx    context.Context
	eng    engine.Engine
	broker *feed.Broker
	day    time.Time
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	b := feed.NewBroker(eng.Repo, feed.Options{})
	if err := b.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return env{
		ctx:    context.Background(),
		eng:    eng,
		broker: b,
		day:    time.Date(2025, 6, 3, 0, 0, 0, 0, eng.Location()),
	}
}

func (e env) task(t *testing.T, projectID, name string) domain.Task {
	t.Helper()
	task, err := e.eng.CreateTask(e.ctx, engine.TaskCreateOptions{
		ProjectID: projectID, Name: name, StartDate: e.day, EndDate: e.day.AddDate(0, 0, 2), Category: domain.CategoryBackOffice,
	})
	if err != nil {
		t.Fatal(err)
	}
	return task
}

// eventually polls the broker until cond holds.
func (e env) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := e.broker.Poll(e.ctx); err != nil {
			t.Fatalf("poll: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func findTask(tasks []domain.Task, id string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// gatedBackend holds MoveTask until released and can force a failure.
type gatedBackend struct {
	engine.Engine
	gate chan struct{}
	fail error
}

func (g gatedBackend) MoveTask(ctx context.Context, projectID, id string, start, end time.Time, actorID string) (domain.Task, error) {
	<-g.gate
	if g.fail != nil {
		return domain.Task{}, g.fail
	}
	return g.Engine.MoveTask(ctx, projectID, id, start, end, actorID)
}

func TestOpenAndSelectMirrorStore(t *testing.T) {
	e := newEnv(t)
	p, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "a"})
	existing := e.task(t, p.ID, "existing")

	s := session.New(e.eng, e.broker, session.Options{ActorID: "tester"})
	defer s.Close()
	if err := s.Open(e.ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.Projects(); len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("unexpected projects %+v", got)
	}
	if err := s.Select(e.ctx, p.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if active, ok := s.Active(); !ok || active.ID != p.ID {
		t.Fatalf("active not set")
	}
	if _, ok := findTask(s.Tasks(true), existing.ID); !ok {
		t.Fatalf("existing task not loaded")
	}

	added := e.task(t, p.ID, "remote")
	if _, err := e.eng.RenameProject(e.ctx, p.ID, "renamed", "someone"); err != nil {
		t.Fatal(err)
	}
	e.eventually(t, func() bool {
		_, ok := findTask(s.Tasks(true), added.ID)
		active, _ := s.Active()
		return ok && active.Name == "renamed"
	})

	if _, err := e.eng.SetHidden(e.ctx, p.ID, added.ID, true, "someone"); err != nil {
		t.Fatal(err)
	}
	e.eventually(t, func() bool {
		_, visible := findTask(s.Tasks(false), added.ID)
		_, present := findTask(s.Tasks(true), added.ID)
		return !visible && present
	})

	if err := e.eng.DeleteTask(e.ctx, p.ID, existing.ID, "someone"); err != nil {
		t.Fatal(err)
	}
	e.eventually(t, func() bool {
		_, ok := findTask(s.Tasks(true), existing.ID)
		return !ok
	})
}

func TestSelectIgnoresPreviousProject(t *testing.T) {
	e := newEnv(t)
	a, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "a"})
	b, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "b"})
	s := session.New(e.eng, e.broker, session.Options{})
	defer s.Close()
	if err := s.Open(e.ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Select(e.ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Select(e.ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	stale := e.task(t, a.ID, "stale")
	fresh := e.task(t, b.ID, "fresh")
	e.eventually(t, func() bool {
		_, ok := findTask(s.Tasks(true), fresh.ID)
		return ok
	})
	if _, ok := findTask(s.Tasks(true), stale.ID); ok {
		t.Fatalf("task from previous project leaked into mirror")
	}
}

func TestMoveTaskOptimisticSuccess(t *testing.T) {
	e := newEnv(t)
	p, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "a"})
	task := e.task(t, p.ID, "move me")
	backend := gatedBackend{Engine: e.eng, gate: make(chan struct{})}
	s := session.New(backend, e.broker, session.Options{})
	defer s.Close()
	if err := s.Select(e.ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	start, end := e.day.AddDate(0, 0, 7), e.day.AddDate(0, 0, 13)
	done := s.MoveTask(e.ctx, task.ID, start, end)
	guess, _ := findTask(s.Tasks(true), task.ID)
	if !guess.StartDate.Equal(start) || guess.Duration != 7 {
		t.Fatalf("local guess not applied: %+v", guess)
	}
	close(backend.gate)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
	saved, _ := findTask(s.Tasks(true), task.ID)
	if !saved.StartDate.Equal(start) || !saved.EndDate.Equal(end) {
		t.Fatalf("saved row not kept: %+v", saved)
	}
	stored, _ := e.eng.GetTask(e.ctx, p.ID, task.ID)
	if !stored.StartDate.Equal(start) {
		t.Fatalf("store not updated")
	}
}

func TestMoveTaskRollsBackOnFailure(t *testing.T) {
	e := newEnv(t)
	p, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "a"})
	task := e.task(t, p.ID, "stuck")
	backend := gatedBackend{Engine: e.eng, gate: make(chan struct{}), fail: engine.ErrStoreUnavailable}
	s := session.New(backend, e.broker, session.Options{})
	defer s.Close()
	if err := s.Select(e.ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	done := s.MoveTask(e.ctx, task.ID, e.day.AddDate(0, 0, 30), e.day.AddDate(0, 0, 31))
	close(backend.gate)
	if err := <-done; !errors.Is(err, engine.ErrStoreUnavailable) {
		t.Fatalf("expected store failure, got %v", err)
	}
	got, _ := findTask(s.Tasks(true), task.ID)
	if !got.StartDate.Equal(task.StartDate) || !got.EndDate.Equal(task.EndDate) {
		t.Fatalf("failed move not rolled back: %+v", got)
	}
}

func TestRemoteChangeWinsOverPendingEdit(t *testing.T) {
	e := newEnv(t)
	p, _ := e.eng.CreateProject(e.ctx, engine.ProjectCreateOptions{Name: "a"})
	task := e.task(t, p.ID, "contested")
	backend := gatedBackend{Engine: e.eng, gate: make(chan struct{}), fail: engine.ErrStoreUnavailable}
	s := session.New(backend, e.broker, session.Options{})
	defer s.Close()
	if err := s.Select(e.ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	done := s.MoveTask(e.ctx, task.ID, e.day.AddDate(0, 0, 30), e.day.AddDate(0, 0, 31))

	remoteStart := e.day.AddDate(0, 0, -5)
	if _, err := e.eng.MoveTask(e.ctx, p.ID, task.ID, remoteStart, e.day, "someone"); err != nil {
		t.Fatal(err)
	}
	e.eventually(t, func() bool {
		got, _ := findTask(s.Tasks(true), task.ID)
		return got.StartDate.Equal(remoteStart)
	})
	close(backend.gate)
	<-done
	got, _ := findTask(s.Tasks(true), task.ID)
	if !got.StartDate.Equal(remoteStart) {
		t.Fatalf("remote row overwritten by rollback: %+v", got)
	}
}

func TestMoveTaskWithoutSelection(t *testing.T) {
	e := newEnv(t)
	s := session.New(e.eng, e.broker, session.Options{})
	defer s.Close()
	if err := <-s.MoveTask(e.ctx, "x", e.day, e.day); !errors.Is(err, session.ErrNoProject) {
		t.Fatalf("expected ErrNoProject, got %v", err)
	}
}
