package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"washplan/internal/engine"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	loc := e.Location()

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		opts := engine.ProjectCreateOptions{
			Name:         input.Body.Name,
			Description:  input.Body.Description,
			UseWellWater: input.Body.UseWellWater,
			ActorID:      actorFromContext(ctx),
		}
		if input.Body.OpenDate != "" {
			d, err := parseDate("open_date", input.Body.OpenDate, loc)
			if err != nil {
				return nil, handleError(err)
			}
			opts.OpenDate = &d
		}
		p, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects oldest first",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project name, description or well water",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:           input.ProjectID,
			Name:         input.Body.Name,
			Description:  input.Body.Description,
			UseWellWater: input.Body.UseWellWater,
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p, loc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-well-water",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/well-water",
		Summary:     "Toggle well water construction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      WellWaterRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.SetUseWellWater(ctx, input.ProjectID, input.Body.UseWellWater, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p, loc)}, nil
	})

	setOpenDate := func(ctx context.Context, projectID string, date *time.Time) (*struct {
		Body OpenDateResponse `json:"body"`
	}, error) {
		res, err := e.SetOpenDate(ctx, projectID, date, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpenDateResponse `json:"body"`
		}{Body: OpenDateResponse{
			Project:   projectResponse(res.Project, loc),
			DeltaDays: int(res.Delta / (24 * time.Hour)),
			Shifted:   len(res.Shifted),
		}}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-open-date",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/open-date",
		Summary:     "Set the opening day and shift every task by the change",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      OpenDateRequest `json:"body"`
	}) (*struct {
		Body OpenDateResponse `json:"body"`
	}, error) {
		d, err := parseDate("open_date", input.Body.OpenDate, loc)
		if err != nil {
			return nil, handleError(err)
		}
		return setOpenDate(ctx, input.ProjectID, &d)
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-open-date",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/open-date",
		Summary:     "Clear the opening day; tasks stay where they are",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body OpenDateResponse `json:"body"`
	}, error) {
		return setOpenDate(ctx, input.ProjectID, nil)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project and all of its tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
