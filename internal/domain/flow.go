package domain

import (
	"sort"
	"time"
)

// Flow is a named, ordered survey definition.
type Flow struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	IsDefault   bool      `db:"is_default" json:"isDefault"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`

	Steps []Step `db:"-" json:"steps,omitempty"`
}

// SortSteps orders steps by order_index ascending, keeping insertion order for ties.
func (f *Flow) SortSteps() {
	sort.SliceStable(f.Steps, func(i, j int) bool {
		return f.Steps[i].OrderIndex < f.Steps[j].OrderIndex
	})
}

// StepIndex returns the position of the step with the given id in f.Steps.
func (f *Flow) StepIndex(id int64) (int, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// StepByID returns the step with the given id.
func (f *Flow) StepByID(id int64) (*Step, bool) {
	i, ok := f.StepIndex(id)
	if !ok {
		return nil, false
	}
	return &f.Steps[i], true
}
