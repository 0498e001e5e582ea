package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/feed"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent change events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Table     string `query:"table"`
		EntityID  string `query:"entity_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		if input.Table != "" && input.Table != domain.TableProjects && input.Table != domain.TableTasks {
			return nil, handleError(engine.ValidationError{Field: "table", Reason: "must be projects or tasks"})
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, limit+1, cursorID, input.ProjectID, input.Table, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// registerChanges streams the project's changes as Server-Sent Events until
// the client disconnects.
func registerChanges(api huma.API, e engine.Engine, b *feed.Broker) {
	loc := e.Location()
	sse.Register(api, huma.Operation{
		OperationID: "stream-changes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/changes",
		Summary:     "Stream project and task changes",
	}, map[string]any{
		"change": ChangeMessage{},
		"error":  StreamError{},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Table     string `query:"table"`
	}, send sse.Sender) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			se := handleError(err).(*apiError)
			send.Data(StreamError{Code: se.Body.Code, Message: se.Body.Message})
			return
		}
		sub := b.Subscribe(feed.Filter{Table: input.Table, ProjectID: input.ProjectID})
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					if errors.Is(sub.Err(), feed.ErrOverflow) {
						send.Data(StreamError{Code: "overflow", Message: "stream fell behind; reload and reconnect"})
					}
					return
				}
				if err := send(sse.Message{ID: int(c.EventID), Data: changeMessage(c, loc)}); err != nil {
					return
				}
			}
		}
	})
}
