package domain

// Status is a task progress state.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusDelayed    Status = "delayed"
)

var ValidStatuses = map[Status]bool{
	StatusNotStarted: true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusDelayed:    true,
}

func (s Status) Valid() bool { return ValidStatuses[s] }

// Category is the swimlane a task belongs to.
type Category string

const (
	CategoryWashFacility Category = "wash-facility-development"
	CategoryBackOffice   Category = "back-office"
	CategoryMilestone    Category = "milestone"
)

// Categories lists categories in display order.
var Categories = []Category{CategoryWashFacility, CategoryBackOffice, CategoryMilestone}

var ValidCategories = map[Category]bool{
	CategoryWashFacility: true,
	CategoryBackOffice:   true,
	CategoryMilestone:    true,
}

func (c Category) Valid() bool { return ValidCategories[c] }

// Label is the display name shown in listings.
func (c Category) Label() string {
	switch c {
	case CategoryWashFacility:
		return "洗車場開発"
	case CategoryBackOffice:
		return "バックオフィス"
	case CategoryMilestone:
		return "マイルストーン"
	default:
		return string(c)
	}
}
