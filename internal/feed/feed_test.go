package feed_test

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
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, config.Default())
}

func receive(t *testing.T, s *feed.Subscription) feed.Change {
	t.Helper()
	select {
	case c := <-s.C():
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return feed.Change{}
}

func expectNone(t *testing.T, s *feed.Subscription) {
	t.Helper()
	select {
	case c, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected change %+v", c)
		}
	default:
	}
}

func TestBrokerDeliversOnlyNewChanges(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "before"}); err != nil {
		t.Fatal(err)
	}
	b := feed.NewBroker(eng.Repo, feed.Options{})
	if err := b.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	sub := b.Subscribe(feed.Filter{Table: domain.TableProjects})
	defer sub.Close()

	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "after"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	c := receive(t, sub)
	if c.Op != domain.OpInsert || c.EntityID != p.ID || c.Project == nil || c.Project.Name != "after" {
		t.Fatalf("unexpected change %+v", c)
	}
	expectNone(t, sub)
	if b.Cursor() != c.EventID {
		t.Fatalf("cursor not advanced: %d vs %d", b.Cursor(), c.EventID)
	}
}

func TestBrokerFiltersByProjectAndTable(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	a, _ := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "a"})
	other, _ := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "b"})
	b := feed.NewBroker(eng.Repo, feed.Options{})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	sub := b.Subscribe(feed.Filter{Table: domain.TableTasks, ProjectID: a.ID})
	defer sub.Close()

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, eng.Location())
	mk := func(projectID, name string) domain.Task {
		task, err := eng.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID: projectID, Name: name, StartDate: day, EndDate: day, Category: domain.CategoryBackOffice,
		})
		if err != nil {
			t.Fatal(err)
		}
		return task
	}
	mine := mk(a.ID, "mine")
	mk(other.ID, "theirs")
	if _, err := eng.RenameProject(ctx, a.ID, "renamed", ""); err != nil {
		t.Fatal(err)
	}
	if err := eng.DeleteTask(ctx, a.ID, mine.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	first := receive(t, sub)
	if first.Op != domain.OpInsert || first.Task == nil || first.Task.ID != mine.ID {
		t.Fatalf("unexpected first change %+v", first)
	}
	second := receive(t, sub)
	if !second.Deleted() || second.Task == nil || second.Task.Name != "mine" {
		t.Fatalf("expected delete carrying the old row, got %+v", second)
	}
	expectNone(t, sub)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	b := feed.NewBroker(eng.Repo, feed.Options{})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	sub := b.Subscribe(feed.Filter{})
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	sub.Close()
	sub.Close()
	if err := b.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("closed subscription received a change")
	}
	select {
	case <-sub.Done():
	default:
		t.Fatalf("done not signalled")
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	eng := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	b := feed.NewBroker(eng.Repo, feed.Options{Interval: 10 * time.Millisecond})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	sub := b.Subscribe(feed.Filter{})
	defer sub.Close()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "live"}); err != nil {
		t.Fatal(err)
	}
	b.Wake()
	if c := receive(t, sub); c.Project == nil || c.Project.Name != "live" {
		t.Fatalf("unexpected change %+v", c)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestStalledSubscriberDoesNotBlockOthers(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	b := feed.NewBroker(eng.Repo, feed.Options{})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	stalled := b.Subscribe(feed.Filter{Table: domain.TableProjects})
	defer stalled.Close()
	live := b.Subscribe(feed.Filter{Table: domain.TableProjects})
	defer live.Close()

	const n = 100
	for i := 0; i < n; i++ {
		if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "site"}); err != nil {
			t.Fatal(err)
		}
	}
	polled := make(chan error, 1)
	go func() { polled <- b.Poll(ctx) }()
	select {
	case err := <-polled:
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poll blocked on a subscriber that is not reading")
	}
	var last int64
	for i := 0; i < n; i++ {
		c := receive(t, live)
		if c.EventID <= last {
			t.Fatalf("out of order: %d after %d", c.EventID, last)
		}
		last = c.EventID
	}
	if stalled.Err() != nil {
		t.Fatalf("stalled subscriber within its queue limit was dropped: %v", stalled.Err())
	}
}

func TestLaggingSubscriberIsDropped(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	b := feed.NewBroker(eng.Repo, feed.Options{MaxPending: 8})
	if err := b.Init(ctx); err != nil {
		t.Fatal(err)
	}
	stalled := b.Subscribe(feed.Filter{})
	defer stalled.Close()
	live := b.Subscribe(feed.Filter{})
	defer live.Close()

	got := make(chan int, 1)
	go func() {
		count := 0
		for range live.C() {
			count++
			if count == 20 {
				break
			}
		}
		got <- count
	}()
	for i := 0; i < 20; i++ {
		if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "site"}); err != nil {
			t.Fatal(err)
		}
		if err := b.Poll(ctx); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-stalled.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("lagging subscriber was not dropped")
	}
	if !errors.Is(stalled.Err(), feed.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", stalled.Err())
	}
	select {
	case n := <-got:
		if n != 20 {
			t.Fatalf("live subscriber got %d changes", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("live subscriber starved")
	}
	if live.Err() != nil {
		t.Fatalf("live subscriber dropped: %v", live.Err())
	}
}
