package washplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Washplan HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Project struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	OpenDate     *string `json:"open_date,omitempty"`
	UseWellWater bool    `json:"use_well_water"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type SubTaskItem struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

type SubTaskCategory struct {
	ID    string        `json:"id,omitempty"`
	Name  string        `json:"name"`
	Items []SubTaskItem `json:"items"`
}

// Task mirrors the API task model. Dates are YYYY-MM-DD.
type Task struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	Name          string            `json:"name"`
	StartDate     string            `json:"start_date"`
	EndDate       string            `json:"end_date"`
	Duration      int               `json:"duration"`
	DurationLabel string            `json:"duration_label"`
	Progress      int               `json:"progress"`
	Status        string            `json:"status"`
	Category      string            `json:"category"`
	CategoryLabel string            `json:"category_label"`
	Dependencies  []string          `json:"dependencies"`
	IsHidden      bool              `json:"is_hidden"`
	SubTasks      []SubTaskCategory `json:"sub_tasks"`
	Color         string            `json:"color,omitempty"`
	Memo          string            `json:"memo,omitempty"`
}

type NewTask struct {
	Name         string            `json:"name"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	Category     string            `json:"category"`
	Status       string            `json:"status,omitempty"`
	Progress     int               `json:"progress,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	IsHidden     bool              `json:"is_hidden,omitempty"`
	SubTasks     []SubTaskCategory `json:"sub_tasks,omitempty"`
	Color        string            `json:"color,omitempty"`
	Memo         string            `json:"memo,omitempty"`
}

// TaskUpdate sends only the non-nil fields.
type TaskUpdate struct {
	Name      *string `json:"name,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	Progress  *int    `json:"progress,omitempty"`
	Status    *string `json:"status,omitempty"`
	Category  *string `json:"category,omitempty"`
	IsHidden  *bool   `json:"is_hidden,omitempty"`
	Color     *string `json:"color,omitempty"`
	Memo      *string `json:"memo,omitempty"`
}

type OpenDateResult struct {
	Project   Project `json:"project"`
	DeltaDays int     `json:"delta_days"`
	Shifted   int     `json:"shifted"`
}

type Schedule struct {
	Count int    `json:"count"`
	Tasks []Task `json:"tasks"`
}

type Event struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Op        string          `json:"op"`
	Table     string          `json:"table"`
	ProjectID string          `json:"project_id"`
	EntityID  string          `json:"entity_id"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, name string, useWellWater bool) (Project, error) {
	body := map[string]any{"name": name, "use_well_water": useWellWater}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) RenameProject(ctx context.Context, id, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, projectPath(id, ""), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) SetUseWellWater(ctx context.Context, id string, on bool) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPut, projectPath(id, "well-water"), map[string]any{"use_well_water": on}, &resp)
	return resp, err
}

// SetOpenDate moves the opening day; every task shifts by the same amount.
func (c *Client) SetOpenDate(ctx context.Context, id, date string) (OpenDateResult, error) {
	var resp OpenDateResult
	err := c.do(ctx, http.MethodPut, projectPath(id, "open-date"), map[string]any{"open_date": date}, &resp)
	return resp, err
}

func (c *Client) ClearOpenDate(ctx context.Context, id string) (OpenDateResult, error) {
	var resp OpenDateResult
	err := c.do(ctx, http.MethodDelete, projectPath(id, "open-date"), nil, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id, ""), nil, nil)
}

func (c *Client) ListTasks(ctx context.Context, projectID string, includeHidden bool) ([]Task, error) {
	endpoint := projectPath(projectID, "tasks")
	if includeHidden {
		endpoint += "?include_hidden=true"
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, projectID string, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "tasks"), t, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, u TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, projectPath(projectID, "tasks/"+url.PathEscape(taskID)), u, &resp)
	return resp, err
}

// MoveTask is UpdateTask with only the dates set.
func (c *Client) MoveTask(ctx context.Context, projectID, taskID, start, end string) (Task, error) {
	return c.UpdateTask(ctx, projectID, taskID, TaskUpdate{StartDate: &start, EndDate: &end})
}

func (c *Client) SetSubTaskItem(ctx context.Context, projectID, taskID, categoryID, itemID string, completed bool) (Task, error) {
	endpoint := projectPath(projectID, fmt.Sprintf("tasks/%s/subtasks/%s/items/%s",
		url.PathEscape(taskID), url.PathEscape(categoryID), url.PathEscape(itemID)))
	var resp Task
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"completed": completed}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "tasks/"+url.PathEscape(taskID)), nil, nil)
}

// GenerateSchedule replaces every task of the project with the standard
// schedule. The server refuses unless confirm is true.
func (c *Client) GenerateSchedule(ctx context.Context, projectID string, confirm bool) (Schedule, error) {
	endpoint := projectPath(projectID, "schedule") + "?confirm=" + strconv.FormatBool(confirm)
	var resp Schedule
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := projectPath(projectID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(id, p string) string {
	out := "projects/" + url.PathEscape(id)
	if p != "" {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
