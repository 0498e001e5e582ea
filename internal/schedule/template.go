package schedule

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"washplan/internal/domain"
)

//go:embed default_template.yml
var defaultTemplateYAML []byte

// Template is an ordered list of schedule entries positioned relative to the
// opening day.
type Template struct {
	Entries []Entry `yaml:"entries"`
}

type Entry struct {
	Key           string            `yaml:"key"`
	Name          string            `yaml:"name"`
	Category      domain.Category   `yaml:"category"`
	DurationDays  int               `yaml:"duration_days"`
	OffsetDays    int               `yaml:"offset_days"`
	WellWaterOnly bool              `yaml:"well_water_only"`
	Hidden        bool              `yaml:"hidden"`
	SubTasks      []SubTaskTemplate `yaml:"sub_tasks"`
}

type SubTaskTemplate struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Items []ItemTemplate `yaml:"items"`
}

type ItemTemplate struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DefaultTemplate returns the built-in car-wash opening template.
func DefaultTemplate() Template {
	tpl, err := ParseTemplate(defaultTemplateYAML)
	if err != nil {
		panic(fmt.Sprintf("default schedule template: %v", err))
	}
	return tpl
}

// LoadTemplate reads a template file, or the default one when path is empty.
func LoadTemplate(path string) (Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, err
	}
	return ParseTemplate(data)
}

func ParseTemplate(data []byte) (Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("invalid template yaml: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (t Template) Validate() error {
	if len(t.Entries) == 0 {
		return fmt.Errorf("template has no entries")
	}
	keys := map[string]bool{}
	for i, e := range t.Entries {
		if e.Key == "" {
			return fmt.Errorf("entry %d: key is required", i)
		}
		if keys[e.Key] {
			return fmt.Errorf("entry %s: duplicate key", e.Key)
		}
		keys[e.Key] = true
		if e.Name == "" {
			return fmt.Errorf("entry %s: name is required", e.Key)
		}
		if !e.Category.Valid() {
			return fmt.Errorf("entry %s: invalid category %q", e.Key, e.Category)
		}
		if e.DurationDays < 1 {
			return fmt.Errorf("entry %s: duration_days must be at least 1", e.Key)
		}
		cats := map[string]bool{}
		for _, c := range e.SubTasks {
			if c.ID == "" || cats[c.ID] {
				return fmt.Errorf("entry %s: sub-task category ids must be unique and non-empty", e.Key)
			}
			cats[c.ID] = true
			items := map[string]bool{}
			for _, it := range c.Items {
				if it.ID == "" || items[it.ID] {
					return fmt.Errorf("entry %s: item ids in %s must be unique and non-empty", e.Key, c.ID)
				}
				items[it.ID] = true
			}
		}
	}
	return nil
}

func (e Entry) subTasks() []domain.SubTaskCategory {
	out := make([]domain.SubTaskCategory, 0, len(e.SubTasks))
	for _, c := range e.SubTasks {
		cat := domain.SubTaskCategory{ID: c.ID, Name: c.Name, Items: make([]domain.SubTaskItem, 0, len(c.Items))}
		for _, it := range c.Items {
			cat.Items = append(cat.Items, domain.SubTaskItem{ID: it.ID, Name: it.Name})
		}
		out = append(out, cat)
	}
	return out
}
