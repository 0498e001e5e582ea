package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"washplan/internal/config"
	"washplan/internal/domain"
	"washplan/internal/events"
	"washplan/internal/logging"
	"washplan/internal/repo"
	"washplan/internal/savestate"
	"washplan/internal/schedule"
)

// DefaultProjectName names the project created when the store is empty.
const DefaultProjectName = "新規プロジェクト 1"

// DefaultActor is recorded on events when the caller is anonymous.
const DefaultActor = "local-user"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Template schedule.Template
	Status   *savestate.Tracker
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Driver: cfg.Database.Driver},
		Events: events.Writer{Driver: cfg.Database.Driver, Channel: cfg.Feed.Channel},
		Config: cfg,
		Status: savestate.New(nil),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return repo.FormatTime(e.now())
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Discard()
}

// Location is the timezone calendar dates are interpreted in.
func (e Engine) Location() *time.Location {
	if e.Config == nil {
		return time.Local
	}
	return e.Config.Location()
}

func (e Engine) template() schedule.Template {
	if len(e.Template.Entries) > 0 {
		return e.Template
	}
	return schedule.DefaultTemplate()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func actorOr(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return DefaultActor
	}
	return actorID
}

// mutate runs fn as one tracked save and classifies its error.
func (e Engine) mutate(fn func() error) error {
	return e.Status.Track(func() error {
		return storeErr(fn())
	})
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// NormalizeDate maps t onto local midnight of its calendar day in the
// configured timezone.
func (e Engine) NormalizeDate(t time.Time) time.Time {
	return schedule.StartOfDay(t.In(e.Location()))
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	items, err := e.Repo.ListProjects(ctx)
	return items, storeErr(err)
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	return p, storeErr(err)
}

type ProjectCreateOptions struct {
	Name         string
	Description  string
	UseWellWater bool
	OpenDate     *time.Time
	ActorID      string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	now := e.stamp()
	p := domain.Project{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(opts.Name),
		Description:  opts.Description,
		UseWellWater: opts.UseWellWater,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.OpenDate != nil {
		d := e.NormalizeDate(*opts.OpenDate)
		p.OpenDate = &d
	}
	if err := validateProject(p); err != nil {
		return domain.Project{}, err
	}
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Record{
				Op: domain.OpInsert, Table: domain.TableProjects, ProjectID: p.ID, EntityID: p.ID,
				ActorID: actorOr(opts.ActorID), New: p,
			})
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().WithFields(logrus.Fields{"project_id": p.ID, "name": p.Name}).Debug("project created")
	return p, nil
}

// EnsureProject returns the oldest project, creating one when none exist.
func (e Engine) EnsureProject(ctx context.Context, actorID string) (domain.Project, bool, error) {
	items, err := e.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, false, err
	}
	if len(items) > 0 {
		return items[0], false, nil
	}
	p, err := e.CreateProject(ctx, ProjectCreateOptions{Name: DefaultProjectName, ActorID: actorID})
	if err != nil {
		return domain.Project{}, false, err
	}
	return p, true, nil
}

type ProjectUpdateOptions struct {
	ID           string
	Name         *string
	Description  *string
	UseWellWater *bool
	ActorID      string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var updated domain.Project
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			old, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
			if err != nil {
				return err
			}
			p := old.Clone()
			if opts.Name != nil {
				p.Name = strings.TrimSpace(*opts.Name)
			}
			if opts.Description != nil {
				p.Description = *opts.Description
			}
			if opts.UseWellWater != nil {
				p.UseWellWater = *opts.UseWellWater
			}
			if err := validateProject(p); err != nil {
				return err
			}
			p.UpdatedAt = e.stamp()
			if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
				return err
			}
			updated = p
			return e.events().Append(ctx, tx, events.Record{
				Op: domain.OpUpdate, Table: domain.TableProjects, ProjectID: p.ID, EntityID: p.ID,
				ActorID: actorOr(opts.ActorID), New: p, Old: old,
			})
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

func (e Engine) RenameProject(ctx context.Context, id, name, actorID string) (domain.Project, error) {
	return e.UpdateProject(ctx, ProjectUpdateOptions{ID: id, Name: &name, ActorID: actorID})
}

func (e Engine) SetProjectDescription(ctx context.Context, id, description, actorID string) (domain.Project, error) {
	return e.UpdateProject(ctx, ProjectUpdateOptions{ID: id, Description: &description, ActorID: actorID})
}

func (e Engine) SetUseWellWater(ctx context.Context, id string, useWellWater bool, actorID string) (domain.Project, error) {
	return e.UpdateProject(ctx, ProjectUpdateOptions{ID: id, UseWellWater: &useWellWater, ActorID: actorID})
}

// OpenDateResult is the outcome of moving a project's opening day.
type OpenDateResult struct {
	Project domain.Project
	// Delta is how far tasks were shifted; zero when nothing moved.
	Delta   time.Duration
	Shifted []domain.Task
}

// SetOpenDate stores a new opening day (nil clears it). When a previous day
// was set and tasks exist, every task is shifted by the difference. The
// store-side swap only succeeds against the previous value read here, so a
// transition is never applied twice.
func (e Engine) SetOpenDate(ctx context.Context, id string, date *time.Time, actorID string) (OpenDateResult, error) {
	old, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return OpenDateResult{}, storeErr(err)
	}
	var next *time.Time
	if date != nil {
		d := e.NormalizeDate(*date)
		next = &d
	}
	if sameDate(old.OpenDate, next) {
		return OpenDateResult{Project: old}, nil
	}
	p := old.Clone()
	p.OpenDate = next
	p.UpdatedAt = e.stamp()
	err = e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			if err := e.Repo.SetOpenDateTx(ctx, tx, id, old.OpenDate, next, p.UpdatedAt); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Record{
				Op: domain.OpUpdate, Table: domain.TableProjects, ProjectID: p.ID, EntityID: p.ID,
				ActorID: actorOr(actorID), New: p, Old: old,
			})
		})
	})
	if err != nil {
		return OpenDateResult{}, err
	}
	res := OpenDateResult{Project: p}
	if old.OpenDate == nil || next == nil {
		return res, nil
	}
	shifted, err := e.ReanchorTasks(ctx, id, *old.OpenDate, *next, actorID)
	res.Shifted = shifted
	res.Delta = next.Sub(*old.OpenDate)
	e.log().WithFields(logrus.Fields{
		"project_id": id,
		"from":       old.OpenDate.In(e.Location()).Format(time.DateOnly),
		"to":         next.In(e.Location()).Format(time.DateOnly),
		"tasks":      len(shifted),
	}).Info("open date moved")
	return res, err
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// DeleteProject removes every task and then the project in one transaction.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	actor := actorOr(actorID)
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			p, err := e.Repo.GetProjectTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, err := e.deleteTasksTx(ctx, tx, id, actor); err != nil {
				return err
			}
			if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Record{
				Op: domain.OpDelete, Table: domain.TableProjects, ProjectID: id, EntityID: id,
				ActorID: actor, Old: p,
			})
		})
	})
	if err == nil {
		e.log().WithField("project_id", id).Info("project deleted")
	}
	return err
}

// ListEvents returns recent change events, newest first.
func (e Engine) ListEvents(ctx context.Context, limit int, cursor int64, projectID, table, entityID string) ([]domain.Event, error) {
	items, err := e.Repo.LatestEvents(ctx, limit, cursor, projectID, table, entityID)
	return items, storeErr(err)
}
