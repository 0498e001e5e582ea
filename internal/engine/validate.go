package engine

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"washplan/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type projectRules struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type itemRules struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type subTaskRules struct {
	ID    string      `json:"id" validate:"required"`
	Name  string      `json:"name" validate:"required"`
	Items []itemRules `json:"items" validate:"dive"`
}

type taskRules struct {
	Name         string         `json:"name" validate:"required,max=200"`
	Progress     int            `json:"progress" validate:"min=0,max=100"`
	Status       string         `json:"status" validate:"oneof=not-started in-progress done delayed"`
	Category     string         `json:"category" validate:"oneof=wash-facility-development back-office milestone"`
	Dependencies []string       `json:"dependencies" validate:"dive,required"`
	SubTasks     []subTaskRules `json:"sub_tasks" validate:"dive"`
	Color        string         `json:"color" validate:"omitempty,max=32"`
}

func validateProject(p domain.Project) error {
	return translate(validate.Struct(projectRules{Name: strings.TrimSpace(p.Name), Description: p.Description}))
}

func validateTask(t domain.Task) error {
	rules := taskRules{
		Name:         strings.TrimSpace(t.Name),
		Progress:     t.Progress,
		Status:       string(t.Status),
		Category:     string(t.Category),
		Dependencies: t.Dependencies,
		Color:        t.Color,
	}
	for _, c := range t.SubTasks {
		sr := subTaskRules{ID: c.ID, Name: c.Name}
		for _, it := range c.Items {
			sr.Items = append(sr.Items, itemRules{ID: it.ID, Name: it.Name})
		}
		rules.SubTasks = append(rules.SubTasks, sr)
	}
	if err := translate(validate.Struct(rules)); err != nil {
		return err
	}
	if t.StartDate.IsZero() {
		return validationErr("start_date", "is required")
	}
	if t.EndDate.IsZero() {
		return validationErr("end_date", "is required")
	}
	if t.StartDate.After(t.EndDate) {
		return validationErr("start_date", "must not be after end_date")
	}
	return nil
}

// translate turns the first validator failure into a ValidationError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = "must be one of: " + fe.Param()
	case "min":
		reason = "must be at least " + fe.Param()
	case "max":
		reason = "must be at most " + fe.Param()
	}
	return ValidationError{Field: field, Reason: reason}
}
