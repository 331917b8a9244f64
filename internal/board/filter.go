package board

import (
	"strings"

	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// All matches every value of a status or priority filter.
const All = "all"

// Filter holds the three board predicates. They are combined with AND.
type Filter struct {
	Search   string `json:"search"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// NewFilter returns a filter that matches everything.
func NewFilter() Filter {
	return Filter{Status: All, Priority: All}
}

// Validate rejects status and priority values outside their enums.
func (f Filter) Validate() error {
	if f.Status != "" && f.Status != All && !model.Status(f.Status).Valid() {
		return model.ErrInvalidStatus
	}
	if f.Priority != "" && f.Priority != All && !model.Priority(f.Priority).Valid() {
		return model.ErrInvalidPriority
	}
	return nil
}

// Apply returns the tasks matching every predicate, preserving order.
// Search is matched case-insensitively against title, subject type and
// location.
func Apply(tasks []model.Task, f Filter) []model.Task {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(f.Search))

	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if !anyOrEqual(f.Status, string(t.Status)) || !anyOrEqual(f.Priority, string(t.Priority)) {
			continue
		}
		if needle != "" &&
			!strings.Contains(fold.String(t.Title), needle) &&
			!strings.Contains(fold.String(t.SubjectType), needle) &&
			!strings.Contains(fold.String(t.Location), needle) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func anyOrEqual(want, got string) bool {
	return want == "" || want == All || want == got
}

// Column is one status bucket of the board.
type Column struct {
	Status model.Status `json:"status"`
	Label  string       `json:"label"`
	Tasks  []model.Task `json:"tasks"`
}

// Board is the four-column partition of a task list by status.
type Board struct {
	Columns [4]Column `json:"columns"`
}

// Column returns the bucket for status, or nil for an unknown status.
func (b *Board) Column(status model.Status) *Column {
	for i := range b.Columns {
		if b.Columns[i].Status == status {
			return &b.Columns[i]
		}
	}
	return nil
}

// Len returns the number of tasks across all columns.
func (b *Board) Len() int {
	n := 0
	for _, c := range b.Columns {
		n += len(c.Tasks)
	}
	return n
}

// GroupByStatus partitions tasks into the fixed column order pending,
// in_progress, completed, failed. Every task lands in exactly one column;
// a task with an unknown status goes to pending.
func GroupByStatus(tasks []model.Task) Board {
	title := cases.Title(language.English)

	var b Board
	for i, status := range model.Statuses {
		b.Columns[i] = Column{
			Status: status,
			Label:  title.String(strings.ReplaceAll(string(status), "_", " ")),
			Tasks:  []model.Task{},
		}
	}
	for _, t := range tasks {
		col := b.Column(t.Status)
		if col == nil {
			col = b.Column(model.DefaultStatus)
		}
		col.Tasks = append(col.Tasks, t)
	}
	return b
}
