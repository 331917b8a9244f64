package model

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	DefaultStatus = StatusPending
)

// Statuses lists every status in board column order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Next returns the status a task moves to when advanced from its card.
// Completed is terminal and failed tasks go back to pending for a retry.
func (s Status) Next() Status {
	switch s {
	case StatusPending:
		return StatusInProgress
	case StatusInProgress:
		return StatusCompleted
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusPending
	}
	return DefaultStatus
}

// ParseStatus parses a status, rejecting anything outside the enum.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.TrimSpace(v))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"

	DefaultPriority = PriorityMedium
)

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority parses a priority, rejecting anything outside the enum.
func ParsePriority(v string) (Priority, error) {
	p := Priority(strings.TrimSpace(v))
	if !p.Valid() {
		return "", ErrInvalidPriority
	}
	return p, nil
}

// Category is the kind of operation a task describes.
type Category string

const (
	CategoryReconnaissance Category = "reconnaissance"
	CategoryCapture        Category = "capture"
	CategoryElimination    Category = "elimination"
	CategoryRescue         Category = "rescue"
	CategoryResearch       Category = "research"

	DefaultCategory = CategoryReconnaissance
)

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryReconnaissance, CategoryCapture, CategoryElimination, CategoryRescue, CategoryResearch:
		return true
	}
	return false
}

// Difficulty rates how dangerous a task is.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyHard      Difficulty = "hard"
	DifficultyLegendary Difficulty = "legendary"

	DefaultDifficulty = DifficultyMedium
)

// Valid reports whether d is one of the defined difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyLegendary:
		return true
	}
	return false
}

// Normalize replaces unknown or missing enum values with their defaults and
// reports which fields were changed. It is applied to documents read back
// from the content store, which does not enforce the enums itself.
func (t *Task) Normalize() []string {
	var fixed []string
	if !t.Status.Valid() {
		t.Status = DefaultStatus
		fixed = append(fixed, "status")
	}
	if !t.Priority.Valid() {
		t.Priority = DefaultPriority
		fixed = append(fixed, "priority")
	}
	if !t.Category.Valid() {
		t.Category = DefaultCategory
		fixed = append(fixed, "category")
	}
	if !t.Difficulty.Valid() {
		t.Difficulty = DefaultDifficulty
		fixed = append(fixed, "difficulty")
	}
	return fixed
}

// AssigneeRef points at the hunter a task is assigned to. The store may hold
// either a bare identifier or an embedded object.
type AssigneeRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (a AssigneeRef) MarshalJSON() ([]byte, error) {
	if a.Name == "" {
		return json.Marshal(a.ID)
	}
	type plain AssigneeRef
	return json.Marshal(plain(a))
}

func (a *AssigneeRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*a = AssigneeRef{ID: id}
		return nil
	}
	type plain AssigneeRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AssigneeRef(p)
	return nil
}
