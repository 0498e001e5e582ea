package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/feed"
	"washplan/internal/logging"
)

// ErrNoProject is returned by task edits before a project is selected.
var ErrNoProject = errors.New("no project selected")

// Backend persists edits. engine.Engine satisfies it.
type Backend interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListTasks(ctx context.Context, projectID string, opts engine.TaskListOptions) ([]domain.Task, error)
	MoveTask(ctx context.Context, projectID, id string, start, end time.Time, actorID string) (domain.Task, error)
}

// Source hands out change subscriptions. *feed.Broker satisfies it.
type Source interface {
	Subscribe(f feed.Filter) *feed.Subscription
}

type Options struct {
	ActorID string
	Log     logrus.FieldLogger
}

// Session mirrors the project list and the tasks of one selected project,
// kept current from the change feed.
type Session struct {
	backend Backend
	source  Source
	actor   string
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	projects  map[string]domain.Project
	active    string
	gen       uint64
	tasks     map[string]domain.Task
	confirmed map[string]domain.Task
	edits     map[string]uint64
	projSub   *feed.Subscription
	taskSub   *feed.Subscription
	closed    bool
}

func New(b Backend, src Source, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		backend:   b,
		source:    src,
		actor:     opts.ActorID,
		log:       opts.Log,
		ctx:       ctx,
		cancel:    cancel,
		projects:  map[string]domain.Project{},
		tasks:     map[string]domain.Task{},
		confirmed: map[string]domain.Task{},
		edits:     map[string]uint64{},
	}
}

// Open subscribes to project changes and loads the project list.
func (s *Session) Open(ctx context.Context) error {
	sub := s.source.Subscribe(feed.Filter{Table: domain.TableProjects})
	items, err := s.backend.ListProjects(ctx)
	if err != nil {
		sub.Close()
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return context.Canceled
	}
	if s.projSub != nil {
		s.projSub.Close()
	}
	s.projSub = sub
	s.projects = make(map[string]domain.Project, len(items))
	for _, p := range items {
		s.projects[p.ID] = p
	}
	s.mu.Unlock()
	s.consume(sub, s.applyProject, s.Open)
	return nil
}

// Select switches the mirrored project. Changes still queued for the
// previous project are discarded.
func (s *Session) Select(ctx context.Context, projectID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	if s.taskSub != nil {
		s.taskSub.Close()
		s.taskSub = nil
	}
	s.gen++
	gen := s.gen
	s.active = projectID
	s.tasks = map[string]domain.Task{}
	s.confirmed = map[string]domain.Task{}
	s.edits = map[string]uint64{}
	s.mu.Unlock()

	sub := s.source.Subscribe(feed.Filter{Table: domain.TableTasks, ProjectID: projectID})
	items, err := s.backend.ListTasks(ctx, projectID, engine.TaskListOptions{IncludeHidden: true})
	if err != nil {
		sub.Close()
		return err
	}
	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	for _, t := range items {
		s.tasks[t.ID] = t
		s.confirmed[t.ID] = t
	}
	s.taskSub = sub
	s.mu.Unlock()
	s.consume(sub, func(c feed.Change) { s.applyTask(gen, c) }, func(ctx context.Context) error {
		s.mu.Lock()
		stale := s.gen != gen
		s.mu.Unlock()
		if stale {
			return nil
		}
		return s.Select(ctx, projectID)
	})
	return nil
}

// consume applies changes until the subscription ends. A subscription the
// feed dropped for lagging is replaced by reloading from the backend.
func (s *Session) consume(sub *feed.Subscription, apply func(feed.Change), reload func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					if errors.Is(sub.Err(), feed.ErrOverflow) {
						s.log.Warn("session: change feed overflowed, reloading")
						if err := reload(s.ctx); err != nil && s.ctx.Err() == nil {
							s.log.WithError(err).Error("session: reload failed")
						}
					}
					return
				}
				apply(c)
			}
		}
	}()
}

func (s *Session) applyProject(c feed.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Deleted() {
		delete(s.projects, c.EntityID)
		if s.active == c.EntityID {
			s.log.WithField("project_id", c.EntityID).Info("session: active project deleted")
			if s.taskSub != nil {
				s.taskSub.Close()
				s.taskSub = nil
			}
			s.gen++
			s.active = ""
			s.tasks = map[string]domain.Task{}
			s.confirmed = map[string]domain.Task{}
		}
		return
	}
	if c.Project != nil {
		s.projects[c.EntityID] = *c.Project
	}
}

// applyTask upserts or removes the row. Remote state always replaces any
// local guess for the same task.
func (s *Session) applyTask(gen uint64, c feed.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || c.ProjectID != s.active {
		return
	}
	s.edits[c.EntityID]++
	if c.Deleted() {
		delete(s.tasks, c.EntityID)
		delete(s.confirmed, c.EntityID)
		return
	}
	if c.Task != nil {
		s.tasks[c.EntityID] = *c.Task
		s.confirmed[c.EntityID] = *c.Task
	}
}

// Projects returns the mirrored projects oldest first.
func (s *Session) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Session) Active() (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[s.active]
	if !ok {
		return domain.Project{}, false
	}
	return p.Clone(), true
}

// Tasks returns the mirrored tasks in creation order.
func (s *Session) Tasks(includeHidden bool) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.IsHidden && !includeHidden {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MoveTask shows the new dates immediately and saves in the background.
// The returned channel yields the save outcome once. On failure the last
// confirmed row is put back unless a newer edit or remote change already
// replaced it.
func (s *Session) MoveTask(ctx context.Context, taskID string, start, end time.Time) <-chan error {
	out := make(chan error, 1)
	s.mu.Lock()
	if s.active == "" {
		s.mu.Unlock()
		out <- ErrNoProject
		return out
	}
	cur, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		out <- engine.ValidationError{Field: "id", Reason: "is not a task of the selected project"}
		return out
	}
	guess := cur.Clone()
	guess.StartDate, guess.EndDate = start, end
	guess.Duration = domain.DurationDays(start, end)
	s.tasks[taskID] = guess
	s.edits[taskID]++
	seq, gen, projectID := s.edits[taskID], s.gen, s.active
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		saved, err := s.backend.MoveTask(ctx, projectID, taskID, start, end, s.actor)
		s.mu.Lock()
		if gen == s.gen {
			latest := s.edits[taskID] == seq
			switch {
			case err == nil:
				s.confirmed[taskID] = saved
				if latest {
					s.tasks[taskID] = saved
				}
			case latest:
				if prev, ok := s.confirmed[taskID]; ok {
					s.tasks[taskID] = prev
				}
			}
		}
		s.mu.Unlock()
		if err != nil {
			s.log.WithError(err).WithField("task_id", taskID).Warn("session: move not saved")
		}
		out <- err
	}()
	return out
}

// Close drops every subscription and waits for pending saves.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := []*feed.Subscription{s.projSub, s.taskSub}
	s.projSub, s.taskSub = nil, nil
	s.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Close()
		}
	}
	s.cancel()
	s.wg.Wait()
}
