package domain

import "time"

type Project struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	OpenDate     *time.Time `json:"open_date,omitempty" format:"date-time"`
	UseWellWater bool       `json:"use_well_water"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Name         string            `json:"name"`
	StartDate    time.Time         `json:"start_date" format:"date-time"`
	EndDate      time.Time         `json:"end_date" format:"date-time"`
	Duration     int               `json:"duration"`
	Progress     int               `json:"progress"`
	Status       Status            `json:"status" enum:"not-started,in-progress,done,delayed"`
	Category     Category          `json:"category" enum:"wash-facility-development,back-office,milestone"`
	Dependencies []string          `json:"dependencies"`
	IsHidden     bool              `json:"is_hidden"`
	SubTasks     []SubTaskCategory `json:"sub_tasks"`
	Color        string            `json:"color,omitempty"`
	Memo         string            `json:"memo,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

// SubTaskCategory groups checklist items inside a task.
type SubTaskCategory struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Items []SubTaskItem `json:"items"`
}

type SubTaskItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// Event is one persisted row change.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Op        string `json:"op" enum:"INSERT,UPDATE,DELETE"`
	Table     string `json:"table"`
	ProjectID string `json:"project_id,omitempty"`
	EntityID  string `json:"entity_id"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"

	TableProjects = "projects"
	TableTasks    = "tasks"
)

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	c.SubTasks = CloneSubTasks(t.SubTasks)
	return c
}

func CloneSubTasks(in []SubTaskCategory) []SubTaskCategory {
	if in == nil {
		return nil
	}
	out := make([]SubTaskCategory, len(in))
	for i, cat := range in {
		out[i] = cat
		if cat.Items != nil {
			out[i].Items = append([]SubTaskItem(nil), cat.Items...)
		}
	}
	return out
}

// Clone returns a copy that shares no pointers with p.
func (p Project) Clone() Project {
	c := p
	if p.OpenDate != nil {
		d := *p.OpenDate
		c.OpenDate = &d
	}
	return c
}

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// DurationDays counts calendar days covered by [start, end], both inclusive:
// ceil((end-start)/1 day) + 1.
func DurationDays(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	if ms <= 0 {
		return 1
	}
	days := ms / dayMillis
	if ms%dayMillis != 0 {
		days++
	}
	return int(days) + 1
}

// WithItemCompleted returns a copy of subs with one item's completion flag
// set. ok is false when the category or item does not exist.
func WithItemCompleted(subs []SubTaskCategory, categoryID, itemID string, completed bool) (out []SubTaskCategory, ok bool) {
	out = CloneSubTasks(subs)
	for ci := range out {
		if out[ci].ID != categoryID {
			continue
		}
		for ii := range out[ci].Items {
			if out[ci].Items[ii].ID == itemID {
				out[ci].Items[ii].Completed = completed
				return out, true
			}
		}
		return subs, false
	}
	return subs, false
}
