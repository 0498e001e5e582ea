package schedule

import (
	"fmt"
	"math"
	"time"

	"washplan/internal/domain"
)

const day = 24 * time.Hour

// DurationLabel renders a task span the way the chart tooltip does.
func DurationLabel(start, end time.Time) string {
	days := int(end.Sub(start)/day) + 1
	switch {
	case days <= 0:
		return ""
	case days < 7:
		return fmt.Sprintf("%d日間", days)
	case days < 30:
		return fmt.Sprintf("%d週間", int(math.Round(float64(days)/7)))
	case days < 365:
		if days%30 > 15 {
			return fmt.Sprintf("%dヶ月半", days/30)
		}
		return fmt.Sprintf("%dヶ月", int(math.Round(float64(days)/30)))
	default:
		return fmt.Sprintf("%d年", int(math.Round(float64(days)/365)))
	}
}

// RelativeLabel describes date relative to the opening day.
func RelativeLabel(openDate, date time.Time) string {
	diff := int(math.Round(float64(date.Sub(openDate)) / float64(day)))
	switch {
	case diff == 0:
		return "OPEN日"
	case diff < 0:
		return fmt.Sprintf("OPEN日の%d日前", -diff)
	default:
		return fmt.Sprintf("OPEN日の%d日後", diff)
	}
}

type CategoryGroup struct {
	Category domain.Category `json:"category"`
	Label    string          `json:"label"`
	Tasks    []domain.Task   `json:"tasks"`
}

// GroupByCategory buckets tasks in category display order, keeping each
// bucket in input order. Empty groups are omitted.
func GroupByCategory(tasks []domain.Task, includeHidden bool) []CategoryGroup {
	buckets := map[domain.Category][]domain.Task{}
	var extra []domain.Category
	for _, t := range tasks {
		if t.IsHidden && !includeHidden {
			continue
		}
		if _, ok := buckets[t.Category]; !ok && !t.Category.Valid() {
			extra = append(extra, t.Category)
		}
		buckets[t.Category] = append(buckets[t.Category], t)
	}
	var groups []CategoryGroup
	for _, c := range append(append([]domain.Category{}, domain.Categories...), extra...) {
		if len(buckets[c]) == 0 {
			continue
		}
		groups = append(groups, CategoryGroup{Category: c, Label: c.Label(), Tasks: buckets[c]})
	}
	return groups
}
