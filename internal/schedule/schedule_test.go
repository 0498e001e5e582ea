package schedule

import (
	"reflect"
	"testing"
	"time"

	"washplan/internal/domain"
)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func findTask(tasks []domain.Task, name string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Task{}, false
}

func TestDefaultTemplateValid(t *testing.T) {
	tpl := DefaultTemplate()
	if len(tpl.Entries) != 21 {
		t.Fatalf("expected 21 entries, got %d", len(tpl.Entries))
	}
}

func TestGenerateAnchorsOnOpenDate(t *testing.T) {
	loc := tokyo(t)
	open := time.Date(2025, 10, 1, 0, 0, 0, 0, loc)
	tasks := Generate(DefaultTemplate(), open, false)

	contract, ok := findTask(tasks, "工事請負/洗車機販売契約")
	if !ok {
		t.Fatalf("contract task missing")
	}
	wantStart := time.Date(2025, 6, 3, 0, 0, 0, 0, loc)
	if !contract.StartDate.Equal(wantStart) {
		t.Fatalf("contract start %s, want %s", contract.StartDate, wantStart)
	}
	if !contract.EndDate.Equal(wantStart.AddDate(0, 0, 9)) {
		t.Fatalf("contract end %s", contract.EndDate)
	}
	if contract.Duration != 10 {
		t.Fatalf("contract duration %d", contract.Duration)
	}
	if contract.Category != domain.CategoryWashFacility || contract.Status != domain.StatusNotStarted {
		t.Fatalf("unexpected contract fields: %+v", contract)
	}
	if len(contract.SubTasks) != 1 || len(contract.SubTasks[0].Items) != 3 {
		t.Fatalf("contract checklist missing: %+v", contract.SubTasks)
	}

	openDay, ok := findTask(tasks, "OPEN日")
	if !ok {
		t.Fatalf("open day task missing")
	}
	if !openDay.IsHidden || openDay.Category != domain.CategoryMilestone {
		t.Fatalf("open day should be a hidden milestone: %+v", openDay)
	}
	if !openDay.StartDate.Equal(open) || !openDay.EndDate.Equal(open) || openDay.Duration != 1 {
		t.Fatalf("open day span wrong: %s - %s", openDay.StartDate, openDay.EndDate)
	}
	for _, task := range tasks {
		if task.StartDate.After(task.EndDate) {
			t.Fatalf("%s starts after it ends", task.Name)
		}
		if task.Duration != domain.DurationDays(task.StartDate, task.EndDate) {
			t.Fatalf("%s duration inconsistent", task.Name)
		}
	}
}

func TestGenerateWellWater(t *testing.T) {
	open := time.Date(2025, 10, 1, 0, 0, 0, 0, tokyo(t))
	without := Generate(DefaultTemplate(), open, false)
	with := Generate(DefaultTemplate(), open, true)
	if len(with) != len(without)+1 {
		t.Fatalf("expected exactly one extra task, got %d vs %d", len(with), len(without))
	}
	if _, ok := findTask(without, "井戸工事"); ok {
		t.Fatalf("well task generated without well water")
	}
	well, ok := findTask(with, "井戸工事")
	if !ok {
		t.Fatalf("well task missing")
	}
	if well.Duration != 15 {
		t.Fatalf("well duration %d", well.Duration)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	open := time.Date(2026, 3, 15, 9, 30, 0, 0, tokyo(t))
	a := Generate(DefaultTemplate(), open, true)
	b := Generate(DefaultTemplate(), open, true)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("generation not deterministic")
	}
	// time of day on the anchor is ignored
	c := Generate(DefaultTemplate(), StartOfDay(open), true)
	if !reflect.DeepEqual(a, c) {
		t.Fatalf("anchor time of day leaked into schedule")
	}
}

func TestReanchorShiftsEveryTask(t *testing.T) {
	loc := tokyo(t)
	oldOpen := time.Date(2025, 10, 1, 0, 0, 0, 0, loc)
	newOpen := time.Date(2025, 11, 1, 0, 0, 0, 0, loc)
	tasks := Generate(DefaultTemplate(), oldOpen, true)
	shifted := Reanchor(oldOpen, newOpen, tasks)
	if len(shifted) != len(tasks) {
		t.Fatalf("length changed")
	}
	for i := range tasks {
		if got := shifted[i].StartDate.Sub(tasks[i].StartDate); got != 31*24*time.Hour {
			t.Fatalf("%s start moved by %s", tasks[i].Name, got)
		}
		if got := shifted[i].EndDate.Sub(tasks[i].EndDate); got != 31*24*time.Hour {
			t.Fatalf("%s end moved by %s", tasks[i].Name, got)
		}
		if shifted[i].Duration != tasks[i].Duration {
			t.Fatalf("%s duration changed", tasks[i].Name)
		}
		if shifted[i].IsHidden != tasks[i].IsHidden || shifted[i].Name != tasks[i].Name {
			t.Fatalf("non-date fields changed")
		}
	}
	openDay, _ := findTask(shifted, "OPEN日")
	if !openDay.StartDate.Equal(newOpen) {
		t.Fatalf("hidden milestone not shifted: %s", openDay.StartDate)
	}
	back := Reanchor(newOpen, oldOpen, shifted)
	for i := range tasks {
		if !back[i].StartDate.Equal(tasks[i].StartDate) || !back[i].EndDate.Equal(tasks[i].EndDate) {
			t.Fatalf("round trip drifted for %s", tasks[i].Name)
		}
	}
	if tasks[0].StartDate.Equal(shifted[0].StartDate) {
		t.Fatalf("input was mutated or not shifted")
	}
}

func TestDurationLabel(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[int]string{
		1:   "1日間",
		6:   "6日間",
		10:  "1週間",
		14:  "2週間",
		40:  "1ヶ月",
		50:  "1ヶ月半",
		120: "4ヶ月",
		400: "1年",
	}
	for days, want := range cases {
		end := start.AddDate(0, 0, days-1)
		if got := DurationLabel(start, end); got != want {
			t.Fatalf("%d days: got %s want %s", days, got, want)
		}
	}
	if DurationLabel(start, start.AddDate(0, 0, -2)) != "" {
		t.Fatalf("expected empty label for inverted span")
	}
}

func TestRelativeLabel(t *testing.T) {
	open := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	if got := RelativeLabel(open, open); got != "OPEN日" {
		t.Fatalf("got %s", got)
	}
	if got := RelativeLabel(open, open.AddDate(0, 0, -120)); got != "OPEN日の120日前" {
		t.Fatalf("got %s", got)
	}
	if got := RelativeLabel(open, open.AddDate(0, 0, 3)); got != "OPEN日の3日後" {
		t.Fatalf("got %s", got)
	}
}

func TestGroupByCategory(t *testing.T) {
	tasks := Generate(DefaultTemplate(), time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), false)
	groups := GroupByCategory(tasks, false)
	if len(groups) != 2 {
		t.Fatalf("expected hidden milestone group omitted, got %d groups", len(groups))
	}
	if groups[0].Category != domain.CategoryWashFacility || groups[1].Category != domain.CategoryBackOffice {
		t.Fatalf("unexpected group order")
	}
	all := GroupByCategory(tasks, true)
	if len(all) != 3 || all[2].Tasks[0].Name != "OPEN日" {
		t.Fatalf("expected milestone group when hidden included")
	}
}

func TestParseTemplateRejects(t *testing.T) {
	bad := []string{
		"entries: []\n",
		"entries:\n  - {key: a, name: A, category: unknown, duration_days: 1}\n",
		"entries:\n  - {key: a, name: A, category: milestone, duration_days: 0}\n",
		"entries:\n  - {key: a, name: A, category: milestone, duration_days: 1}\n  - {key: a, name: B, category: milestone, duration_days: 1}\n",
	}
	for _, doc := range bad {
		if _, err := ParseTemplate([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}
