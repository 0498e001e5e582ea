package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"washplan/internal/domain"
	"washplan/internal/repo"
	"washplan/internal/schedule"
)

// PreviewSchedule returns what GenerateSchedule would create without
// touching the store.
func (e Engine) PreviewSchedule(openDate time.Time, useWellWater bool) []domain.Task {
	return schedule.Generate(e.template(), e.NormalizeDate(openDate), useWellWater)
}

type GenerateOptions struct {
	ProjectID string
	// Confirm must be set; generation deletes every existing task.
	Confirm bool
	ActorID string
}

// GenerateSchedule replaces all of a project's tasks with the template laid
// out around its opening day. Tasks are returned in template order.
func (e Engine) GenerateSchedule(ctx context.Context, opts GenerateOptions) ([]domain.Task, error) {
	if !opts.Confirm {
		return nil, validationErr("confirm", "is required to replace existing tasks")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if p.OpenDate == nil {
		return nil, validationErr("open_date", "must be set before generating a schedule")
	}
	generated := e.PreviewSchedule(*p.OpenDate, p.UseWellWater)

	if _, err := e.DeleteAllTasks(ctx, p.ID, opts.ActorID); err != nil {
		return nil, err
	}

	base := e.now()
	items := make([]batchItem, len(generated))
	for i := range generated {
		ts := base.Add(time.Duration(i) * time.Microsecond)
		t := generated[i]
		t.ID = uuid.NewString()
		t.ProjectID = p.ID
		t.CreatedAt = repo.FormatTime(ts)
		t.UpdatedAt = t.CreatedAt
		generated[i] = t
		items[i] = batchItem{ID: t.ID, Run: func(ctx context.Context) error {
			return e.createGeneratedTask(ctx, t, opts.ActorID)
		}}
	}
	err = e.mutate(func() error { return e.runBatch(ctx, "generate", items) })

	created := make([]domain.Task, 0, len(generated))
	failed := map[string]bool{}
	var pe *PartialBatchError
	if errors.As(err, &pe) {
		for _, id := range pe.FailedIDs() {
			failed[id] = true
		}
	}
	for _, t := range generated {
		if !failed[t.ID] {
			created = append(created, t)
		}
	}
	e.log().WithFields(logrus.Fields{"project_id": p.ID, "tasks": len(created)}).Info("schedule generated")
	return created, err
}

func (e Engine) createGeneratedTask(ctx context.Context, t domain.Task, actorID string) error {
	return storeErr(e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetTaskTx(ctx, tx, t.ProjectID, t.ID); err == nil {
			// an earlier attempt committed before reporting failure
			return nil
		}
		return e.insertTaskTx(ctx, tx, t, actorID)
	}))
}

// ReanchorTasks shifts every task of the project, hidden ones included, by
// newOpen - oldOpen. It returns the tasks that were moved.
func (e Engine) ReanchorTasks(ctx context.Context, projectID string, oldOpen, newOpen time.Time, actorID string) ([]domain.Task, error) {
	tasks, err := e.ListTasks(ctx, projectID, TaskListOptions{IncludeHidden: true})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	shifted := schedule.Reanchor(oldOpen, newOpen, tasks)
	results := make([]domain.Task, len(shifted))
	items := make([]batchItem, len(shifted))
	for i, t := range shifted {
		items[i] = batchItem{ID: t.ID, Run: func(ctx context.Context) error {
			start, end := t.StartDate, t.EndDate
			var moved domain.Task
			err := storeErr(e.inTx(ctx, func(tx *sql.Tx) error {
				var err error
				moved, err = e.updateTaskTx(ctx, tx, TaskPatch{
					ProjectID: projectID, ID: t.ID, StartDate: &start, EndDate: &end, ActorID: actorID,
				})
				return err
			}))
			if err == nil {
				results[i] = moved
			}
			return err
		}}
	}
	err = e.mutate(func() error { return e.runBatch(ctx, "reanchor", items) })
	moved := make([]domain.Task, 0, len(results))
	for _, t := range results {
		if t.ID != "" {
			moved = append(moved, t)
		}
	}
	return moved, err
}
