package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"washplan/internal/domain"
	"washplan/internal/events"
	"washplan/internal/repo"
)

type TaskListOptions struct {
	IncludeHidden bool
	Category      domain.Category
}

// ListTasks returns a project's tasks oldest first. Hidden tasks are left
// out unless requested.
func (e Engine) ListTasks(ctx context.Context, projectID string, opts TaskListOptions) ([]domain.Task, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, storeErr(err)
	}
	if opts.Category != "" && !opts.Category.Valid() {
		return nil, validationErr("category", "is invalid")
	}
	items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		ProjectID:     projectID,
		IncludeHidden: opts.IncludeHidden,
		Category:      opts.Category,
	})
	return items, storeErr(err)
}

func (e Engine) GetTask(ctx context.Context, projectID, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, projectID, id)
	return t, storeErr(err)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID    string
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	Duration     *int
	Progress     int
	Status       domain.Status
	Category     domain.Category
	Dependencies []string
	IsHidden     bool
	SubTasks     []domain.SubTaskCategory
	Color        string
	Memo         string
	ActorID      string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	now := e.stamp()
	t := domain.Task{
		ID:           uuid.NewString(),
		ProjectID:    opts.ProjectID,
		Name:         strings.TrimSpace(opts.Name),
		StartDate:    opts.StartDate,
		EndDate:      opts.EndDate,
		Progress:     opts.Progress,
		Status:       opts.Status,
		Category:     opts.Category,
		Dependencies: opts.Dependencies,
		IsHidden:     opts.IsHidden,
		SubTasks:     domain.CloneSubTasks(opts.SubTasks),
		Color:        opts.Color,
		Memo:         opts.Memo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Status == "" {
		t.Status = domain.StatusNotStarted
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	fillSubTaskIDs(t.SubTasks)
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	t.Duration = domain.DurationDays(t.StartDate, t.EndDate)
	if opts.Duration != nil && *opts.Duration != t.Duration {
		return domain.Task{}, validationErr("duration", "does not match start_date and end_date")
	}
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			return e.insertTaskTx(ctx, tx, t, opts.ActorID)
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.log().WithFields(logrus.Fields{"project_id": t.ProjectID, "task_id": t.ID}).Debug("task created")
	return t, nil
}

func (e Engine) insertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task, actorID string) error {
	if _, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID); err != nil {
		return err
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return err
	}
	return e.events().Append(ctx, tx, events.Record{
		Op: domain.OpInsert, Table: domain.TableTasks, ProjectID: t.ProjectID, EntityID: t.ID,
		ActorID: actorOr(actorID), New: t,
	})
}

func fillSubTaskIDs(subs []domain.SubTaskCategory) {
	for ci := range subs {
		if subs[ci].ID == "" {
			subs[ci].ID = uuid.NewString()
		}
		if subs[ci].Items == nil {
			subs[ci].Items = []domain.SubTaskItem{}
		}
		for ii := range subs[ci].Items {
			if subs[ci].Items[ii].ID == "" {
				subs[ci].Items[ii].ID = uuid.NewString()
			}
		}
	}
}

// TaskPatch carries the fields to change; nil fields are left alone.
type TaskPatch struct {
	ProjectID    string
	ID           string
	Name         *string
	StartDate    *time.Time
	EndDate      *time.Time
	Progress     *int
	Status       *domain.Status
	Category     *domain.Category
	Dependencies *[]string
	IsHidden     *bool
	SubTasks     *[]domain.SubTaskCategory
	Color        *string
	Memo         *string
	ActorID      string
}

func (p TaskPatch) apply(t *domain.Task) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		t.EndDate = *p.EndDate
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Dependencies != nil {
		t.Dependencies = append([]string{}, (*p.Dependencies)...)
	}
	if p.IsHidden != nil {
		t.IsHidden = *p.IsHidden
	}
	if p.SubTasks != nil {
		t.SubTasks = domain.CloneSubTasks(*p.SubTasks)
		if t.SubTasks == nil {
			t.SubTasks = []domain.SubTaskCategory{}
		}
		fillSubTaskIDs(t.SubTasks)
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Memo != nil {
		t.Memo = *p.Memo
	}
}

// UpdateTask applies a patch. A patch that would leave start after end is
// rejected and the stored row is untouched.
func (e Engine) UpdateTask(ctx context.Context, patch TaskPatch) (domain.Task, error) {
	var updated domain.Task
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			t, err := e.updateTaskTx(ctx, tx, patch)
			updated = t
			return err
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (e Engine) updateTaskTx(ctx context.Context, tx *sql.Tx, patch TaskPatch) (domain.Task, error) {
	old, err := e.Repo.GetTaskTx(ctx, tx, patch.ProjectID, patch.ID)
	if err != nil {
		return domain.Task{}, err
	}
	t := old.Clone()
	patch.apply(&t)
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	t.Duration = domain.DurationDays(t.StartDate, t.EndDate)
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.events().Append(ctx, tx, events.Record{
		Op: domain.OpUpdate, Table: domain.TableTasks, ProjectID: t.ProjectID, EntityID: t.ID,
		ActorID: actorOr(patch.ActorID), New: t, Old: old,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// MoveTask sets both dates at once, as a drag on the chart does.
func (e Engine) MoveTask(ctx context.Context, projectID, id string, start, end time.Time, actorID string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskPatch{ProjectID: projectID, ID: id, StartDate: &start, EndDate: &end, ActorID: actorID})
}

func (e Engine) SetHidden(ctx context.Context, projectID, id string, hidden bool, actorID string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskPatch{ProjectID: projectID, ID: id, IsHidden: &hidden, ActorID: actorID})
}

// SetSubTaskItemCompleted flips one checklist item and persists the whole
// sub-task tree.
func (e Engine) SetSubTaskItemCompleted(ctx context.Context, projectID, taskID, categoryID, itemID string, completed bool, actorID string) (domain.Task, error) {
	var updated domain.Task
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			t, err := e.Repo.GetTaskTx(ctx, tx, projectID, taskID)
			if err != nil {
				return err
			}
			subs, ok := domain.WithItemCompleted(t.SubTasks, categoryID, itemID, completed)
			if !ok {
				return repo.ErrNotFound
			}
			updated, err = e.updateTaskTx(ctx, tx, TaskPatch{ProjectID: projectID, ID: taskID, SubTasks: &subs, ActorID: actorID})
			return err
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (e Engine) DeleteTask(ctx context.Context, projectID, id, actorID string) error {
	return e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			old, err := e.Repo.GetTaskTx(ctx, tx, projectID, id)
			if err != nil {
				return err
			}
			if err := e.Repo.DeleteTaskTx(ctx, tx, projectID, id); err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.Record{
				Op: domain.OpDelete, Table: domain.TableTasks, ProjectID: projectID, EntityID: id,
				ActorID: actorOr(actorID), Old: old,
			})
		})
	})
}

// DeleteAllTasks removes every task of the project and returns how many
// were removed.
func (e Engine) DeleteAllTasks(ctx context.Context, projectID, actorID string) (int, error) {
	var n int
	err := e.mutate(func() error {
		return e.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
				return err
			}
			var err error
			n, err = e.deleteTasksTx(ctx, tx, projectID, actorOr(actorID))
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	e.log().WithFields(logrus.Fields{"project_id": projectID, "count": n}).Info("tasks cleared")
	return n, nil
}

func (e Engine) deleteTasksTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) (int, error) {
	tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: projectID, IncludeHidden: true})
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		if err := e.Repo.DeleteTaskTx(ctx, tx, projectID, t.ID); err != nil {
			return 0, err
		}
		if err := e.events().Append(ctx, tx, events.Record{
			Op: domain.OpDelete, Table: domain.TableTasks, ProjectID: projectID, EntityID: t.ID,
			ActorID: actorID, Old: t,
		}); err != nil {
			return 0, err
		}
	}
	return len(tasks), nil
}
