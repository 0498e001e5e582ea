package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"washplan/internal/domain"
	"washplan/internal/engine"
)

type taskPath struct {
	ProjectID string `path:"project_id"`
	TaskID    string `path:"task_id"`
}

type taskBody struct {
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	loc := e.Location()

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks in creation order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID     string `path:"project_id"`
		IncludeHidden bool   `query:"include_hidden"`
		Category      string `query:"category"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.ProjectID, engine.TaskListOptions{
			IncludeHidden: input.IncludeHidden,
			Category:      domain.Category(input.Category),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		start, err := parseDate("start_date", input.Body.StartDate, loc)
		if err != nil {
			return nil, handleError(err)
		}
		end, err := parseDate("end_date", input.Body.EndDate, loc)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:    input.ProjectID,
			Name:         input.Body.Name,
			StartDate:    start,
			EndDate:      end,
			Duration:     input.Body.Duration,
			Progress:     input.Body.Progress,
			Status:       domain.Status(input.Body.Status),
			Category:     domain.Category(input.Body.Category),
			Dependencies: input.Body.Dependencies,
			IsHidden:     input.Body.IsHidden,
			SubTasks:     subTasksFromInput(input.Body.SubTasks),
			Color:        input.Body.Color,
			Memo:         input.Body.Memo,
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		t, err := e.GetTask(ctx, input.ProjectID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		TaskID    string            `path:"task_id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		patch, err := taskPatch(ctx, input.ProjectID, input.TaskID, input.Body, loc)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTask(ctx, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-hidden",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/tasks/{task_id}/hidden",
		Summary:     "Hide or show a task on the partner view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		TaskID    string        `path:"task_id"`
		Body      HiddenRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.SetHidden(ctx, input.ProjectID, input.TaskID, input.Body.Hidden, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-item",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/tasks/{task_id}/subtasks/{category_id}/items/{item_id}",
		Summary:     "Check or uncheck one sub-task item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string             `path:"project_id"`
		TaskID     string             `path:"task_id"`
		CategoryID string             `path:"category_id"`
		ItemID     string             `path:"item_id"`
		Body       SubTaskItemRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.SetSubTaskItemCompleted(ctx, input.ProjectID, input.TaskID, input.CategoryID, input.ItemID, input.Body.Completed, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ProjectID, input.TaskID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-tasks",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "Delete every task of the project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Confirm   bool   `query:"confirm"`
	}) (*struct {
		Body ClearTasksResponse `json:"body"`
	}, error) {
		if !input.Confirm {
			return nil, handleError(engine.ValidationError{Field: "confirm", Reason: "is required to delete every task"})
		}
		n, err := e.DeleteAllTasks(ctx, input.ProjectID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearTasksResponse `json:"body"`
		}{Body: ClearTasksResponse{Deleted: n}}, nil
	})
}

// taskPatch converts a PATCH body. Slices are only applied when the key
// was sent, so an omitted field never clears dependencies or sub-tasks.
func taskPatch(ctx context.Context, projectID, taskID string, body UpdateTaskRequest, loc *time.Location) (engine.TaskPatch, error) {
	patch := engine.TaskPatch{
		ProjectID: projectID,
		ID:        taskID,
		Name:      body.Name,
		Progress:  body.Progress,
		IsHidden:  body.IsHidden,
		Color:     body.Color,
		Memo:      body.Memo,
		ActorID:   actorFromContext(ctx),
	}
	if body.StartDate != nil {
		d, err := parseDate("start_date", *body.StartDate, loc)
		if err != nil {
			return patch, err
		}
		patch.StartDate = &d
	}
	if body.EndDate != nil {
		d, err := parseDate("end_date", *body.EndDate, loc)
		if err != nil {
			return patch, err
		}
		patch.EndDate = &d
	}
	if body.Status != nil {
		s := domain.Status(*body.Status)
		patch.Status = &s
	}
	if body.Category != nil {
		c := domain.Category(*body.Category)
		patch.Category = &c
	}
	raw := rawBodyMap(ctx)
	if present(raw, "dependencies") {
		deps := append([]string{}, body.Dependencies...)
		patch.Dependencies = &deps
	}
	if present(raw, "sub_tasks") {
		subs := subTasksFromInput(body.SubTasks)
		if subs == nil {
			subs = []domain.SubTaskCategory{}
		}
		patch.SubTasks = &subs
	}
	return patch, nil
}

func registerSchedule(api huma.API, e engine.Engine) {
	loc := e.Location()

	huma.Register(api, huma.Operation{
		OperationID: "generate-schedule",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/schedule",
		Summary:     "Replace all tasks with the template laid out around the opening day",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Confirm   bool   `query:"confirm"`
	}) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		created, err := e.GenerateSchedule(ctx, engine.GenerateOptions{
			ProjectID: input.ProjectID,
			Confirm:   input.Confirm,
			ActorID:   actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: ScheduleResponse{Count: len(created), Tasks: mapTasks(created, loc)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-schedule",
		Method:      http.MethodGet,
		Path:        "/schedule/preview",
		Summary:     "Show the generated schedule for an opening day without saving",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OpenDate     string `query:"open_date" required:"true"`
		UseWellWater bool   `query:"use_well_water"`
	}) (*struct {
		Body []PreviewTask `json:"body"`
	}, error) {
		open, err := parseDate("open_date", input.OpenDate, loc)
		if err != nil {
			return nil, handleError(err)
		}
		items := e.PreviewSchedule(open, input.UseWellWater)
		return &struct {
			Body []PreviewTask `json:"body"`
		}{Body: previewTasks(items, open, loc)}, nil
	})
}
