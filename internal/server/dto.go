package server

import (
	"encoding/json"
	"time"

	"washplan/internal/domain"
	"washplan/internal/feed"
	"washplan/internal/schedule"
)

// Request payloads

type CreateProjectRequest struct {
	Name         string `json:"name" maxLength:"200"`
	Description  string `json:"description,omitempty"`
	UseWellWater bool   `json:"use_well_water,omitempty"`
	OpenDate     string `json:"open_date,omitempty" format:"date"`
}

type UpdateProjectRequest struct {
	Name         *string `json:"name,omitempty" maxLength:"200"`
	Description  *string `json:"description,omitempty"`
	UseWellWater *bool   `json:"use_well_water,omitempty"`
}

type OpenDateRequest struct {
	OpenDate string `json:"open_date" format:"date"`
}

type WellWaterRequest struct {
	UseWellWater bool `json:"use_well_water"`
}

type CreateTaskRequest struct {
	Name         string                 `json:"name" minLength:"1" maxLength:"200"`
	StartDate    string                 `json:"start_date" format:"date"`
	EndDate      string                 `json:"end_date" format:"date"`
	Duration     *int                   `json:"duration,omitempty" minimum:"1"`
	Progress     int                    `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Status       string                 `json:"status,omitempty" enum:"not-started,in-progress,done,delayed"`
	Category     string                 `json:"category" enum:"wash-facility-development,back-office,milestone"`
	Dependencies []string               `json:"dependencies,omitempty"`
	IsHidden     bool                   `json:"is_hidden,omitempty"`
	SubTasks     []SubTaskCategoryInput `json:"sub_tasks,omitempty"`
	Color        string                 `json:"color,omitempty"`
	Memo         string                 `json:"memo,omitempty"`
}

type UpdateTaskRequest struct {
	Name         *string                `json:"name,omitempty" maxLength:"200"`
	StartDate    *string                `json:"start_date,omitempty" format:"date"`
	EndDate      *string                `json:"end_date,omitempty" format:"date"`
	Progress     *int                   `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Status       *string                `json:"status,omitempty" enum:"not-started,in-progress,done,delayed"`
	Category     *string                `json:"category,omitempty" enum:"wash-facility-development,back-office,milestone"`
	Dependencies []string               `json:"dependencies,omitempty"`
	IsHidden     *bool                  `json:"is_hidden,omitempty"`
	SubTasks     []SubTaskCategoryInput `json:"sub_tasks,omitempty"`
	Color        *string                `json:"color,omitempty"`
	Memo         *string                `json:"memo,omitempty"`
}

// SubTaskCategoryInput leaves ids optional; missing ones are generated.
type SubTaskCategoryInput struct {
	ID    string             `json:"id,omitempty"`
	Name  string             `json:"name"`
	Items []SubTaskItemInput `json:"items,omitempty"`
}

type SubTaskItemInput struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Completed bool   `json:"completed,omitempty"`
}

func subTasksFromInput(in []SubTaskCategoryInput) []domain.SubTaskCategory {
	if in == nil {
		return nil
	}
	out := make([]domain.SubTaskCategory, 0, len(in))
	for _, c := range in {
		cat := domain.SubTaskCategory{ID: c.ID, Name: c.Name, Items: make([]domain.SubTaskItem, 0, len(c.Items))}
		for _, it := range c.Items {
			cat.Items = append(cat.Items, domain.SubTaskItem{ID: it.ID, Name: it.Name, Completed: it.Completed})
		}
		out = append(out, cat)
	}
	return out
}

type HiddenRequest struct {
	Hidden bool `json:"hidden"`
}

type SubTaskItemRequest struct {
	Completed bool `json:"completed"`
}

// Response payloads

type ProjectResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	OpenDate     *string `json:"open_date,omitempty" format:"date"`
	UseWellWater bool    `json:"use_well_water"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type TaskResponse struct {
	ID            string                   `json:"id"`
	ProjectID     string                   `json:"project_id"`
	Name          string                   `json:"name"`
	StartDate     string                   `json:"start_date" format:"date"`
	EndDate       string                   `json:"end_date" format:"date"`
	Duration      int                      `json:"duration"`
	DurationLabel string                   `json:"duration_label"`
	Progress      int                      `json:"progress"`
	Status        string                   `json:"status"`
	Category      string                   `json:"category"`
	CategoryLabel string                   `json:"category_label"`
	Dependencies  []string                 `json:"dependencies"`
	IsHidden      bool                     `json:"is_hidden"`
	SubTasks      []domain.SubTaskCategory `json:"sub_tasks"`
	Color         string                   `json:"color,omitempty"`
	Memo          string                   `json:"memo,omitempty"`
	CreatedAt     string                   `json:"created_at"`
	UpdatedAt     string                   `json:"updated_at"`
}

type OpenDateResponse struct {
	Project   ProjectResponse `json:"project"`
	DeltaDays int             `json:"delta_days"`
	Shifted   int             `json:"shifted"`
}

type ScheduleResponse struct {
	Count int            `json:"count"`
	Tasks []TaskResponse `json:"tasks"`
}

type PreviewTask struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	CategoryLabel string `json:"category_label"`
	StartDate     string `json:"start_date" format:"date"`
	EndDate       string `json:"end_date" format:"date"`
	Duration      int    `json:"duration"`
	DurationLabel string `json:"duration_label"`
	RelativeLabel string `json:"relative_label"`
	IsHidden      bool   `json:"is_hidden"`
}

type ClearTasksResponse struct {
	Deleted int `json:"deleted"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Op        string          `json:"op"`
	Table     string          `json:"table"`
	ProjectID string          `json:"project_id,omitempty"`
	EntityID  string          `json:"entity_id"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ChangeMessage is the data of one Server-Sent change event.
type ChangeMessage struct {
	EventID   int64            `json:"event_id"`
	TS        string           `json:"ts"`
	Op        string           `json:"op"`
	Table     string           `json:"table"`
	ProjectID string           `json:"project_id"`
	EntityID  string           `json:"entity_id"`
	ActorID   string           `json:"actor_id"`
	Project   *ProjectResponse `json:"project,omitempty"`
	Task      *TaskResponse    `json:"task,omitempty"`
}

// StreamError ends a change stream that could not start or fell behind.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func formatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

func projectResponse(p domain.Project, loc *time.Location) ProjectResponse {
	resp := ProjectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		UseWellWater: p.UseWellWater,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.OpenDate != nil {
		d := formatDate(*p.OpenDate, loc)
		resp.OpenDate = &d
	}
	return resp
}

func mapProjects(items []domain.Project, loc *time.Location) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p, loc))
	}
	return out
}

func taskResponse(t domain.Task, loc *time.Location) TaskResponse {
	deps := t.Dependencies
	if deps == nil {
		deps = []string{}
	}
	subs := t.SubTasks
	if subs == nil {
		subs = []domain.SubTaskCategory{}
	}
	return TaskResponse{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Name:          t.Name,
		StartDate:     formatDate(t.StartDate, loc),
		EndDate:       formatDate(t.EndDate, loc),
		Duration:      t.Duration,
		DurationLabel: schedule.DurationLabel(t.StartDate, t.EndDate),
		Progress:      t.Progress,
		Status:        string(t.Status),
		Category:      string(t.Category),
		CategoryLabel: t.Category.Label(),
		Dependencies:  deps,
		IsHidden:      t.IsHidden,
		SubTasks:      subs,
		Color:         t.Color,
		Memo:          t.Memo,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task, loc *time.Location) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t, loc))
	}
	return out
}

func previewTasks(items []domain.Task, openDate time.Time, loc *time.Location) []PreviewTask {
	out := make([]PreviewTask, 0, len(items))
	for _, t := range items {
		out = append(out, PreviewTask{
			Name:          t.Name,
			Category:      string(t.Category),
			CategoryLabel: t.Category.Label(),
			StartDate:     formatDate(t.StartDate, loc),
			EndDate:       formatDate(t.EndDate, loc),
			Duration:      t.Duration,
			DurationLabel: schedule.DurationLabel(t.StartDate, t.EndDate),
			RelativeLabel: schedule.RelativeLabel(openDate, t.StartDate),
			IsHidden:      t.IsHidden,
		})
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:        evt.ID,
		TS:        evt.TS,
		Op:        evt.Op,
		Table:     evt.Table,
		ProjectID: evt.ProjectID,
		EntityID:  evt.EntityID,
		ActorID:   evt.ActorID,
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		resp.Payload = json.RawMessage(evt.Payload)
	}
	return resp
}

func changeMessage(c feed.Change, loc *time.Location) ChangeMessage {
	msg := ChangeMessage{
		EventID:   c.EventID,
		TS:        c.TS,
		Op:        c.Op,
		Table:     c.Table,
		ProjectID: c.ProjectID,
		EntityID:  c.EntityID,
		ActorID:   c.ActorID,
	}
	if c.Project != nil {
		p := projectResponse(*c.Project, loc)
		msg.Project = &p
	}
	if c.Task != nil {
		t := taskResponse(*c.Task, loc)
		msg.Task = &t
	}
	return msg
}
