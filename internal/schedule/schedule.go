// Package schedule holds the pure date logic: generating a task list from a
// template anchored on the opening day, and shifting an existing list when
// that day moves.
package schedule

import (
	"time"

	"washplan/internal/domain"
)

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Generate builds one task per applicable template entry, in template order.
// IDs, project and timestamps are left for the caller to assign.
func Generate(tpl Template, openDate time.Time, useWellWater bool) []domain.Task {
	anchor := StartOfDay(openDate)
	tasks := make([]domain.Task, 0, len(tpl.Entries))
	for _, e := range tpl.Entries {
		if e.WellWaterOnly && !useWellWater {
			continue
		}
		start := anchor.AddDate(0, 0, e.OffsetDays)
		end := start.AddDate(0, 0, e.DurationDays-1)
		tasks = append(tasks, domain.Task{
			Name:         e.Name,
			StartDate:    start,
			EndDate:      end,
			Duration:     domain.DurationDays(start, end),
			Progress:     0,
			Status:       domain.StatusNotStarted,
			Category:     e.Category,
			Dependencies: []string{},
			IsHidden:     e.Hidden,
			SubTasks:     e.subTasks(),
		})
	}
	return tasks
}

// Reanchor moves every task by the distance between the old and new opening
// day. Inputs are not modified.
func Reanchor(oldOpen, newOpen time.Time, tasks []domain.Task) []domain.Task {
	return Shift(tasks, newOpen.Sub(oldOpen))
}

// Shift adds delta to the start and end of every task. Durations are
// unchanged because both ends move together.
func Shift(tasks []domain.Task, delta time.Duration) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		c := t.Clone()
		c.StartDate = t.StartDate.Add(delta)
		c.EndDate = t.EndDate.Add(delta)
		out[i] = c
	}
	return out
}
