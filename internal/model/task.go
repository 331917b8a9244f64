package model

import (
	"strings"
	"time"
)

// Task represents a kaiju-hunting task tracked on the planner board.
type Task struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Status            Status       `json:"status"`
	Priority          Priority     `json:"priority"`
	Category          Category     `json:"category"`
	Difficulty        Difficulty   `json:"difficulty"`
	SubjectType       string       `json:"subjectType"`
	Location          string       `json:"location"`
	EstimatedDuration *float64     `json:"estimatedDuration,omitempty"`
	RequiredResources string       `json:"requiredResources,omitempty"`
	RewardValue       *float64     `json:"rewardValue,omitempty"`
	DueDate           *Date        `json:"dueDate,omitempty"`
	Assignee          *AssigneeRef `json:"assignee,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// TaskForm is the editable shape of a task: everything except the identifier
// and the store-assigned timestamps.
type TaskForm struct {
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Status            Status       `json:"status,omitempty"`
	Priority          Priority     `json:"priority,omitempty"`
	Category          Category     `json:"category,omitempty"`
	Difficulty        Difficulty   `json:"difficulty,omitempty"`
	SubjectType       string       `json:"subjectType"`
	Location          string       `json:"location"`
	EstimatedDuration *float64     `json:"estimatedDuration,omitempty"`
	RequiredResources string       `json:"requiredResources,omitempty"`
	RewardValue       *float64     `json:"rewardValue,omitempty"`
	DueDate           *Date        `json:"dueDate,omitempty"`
	Assignee          *AssigneeRef `json:"assignee,omitempty"`
}

// DefaultForm returns an empty form with every enum at its default.
func DefaultForm() TaskForm {
	return TaskForm{
		Status:     DefaultStatus,
		Priority:   DefaultPriority,
		Category:   DefaultCategory,
		Difficulty: DefaultDifficulty,
	}
}

// FormFromTask pre-populates a form from a stored task.
func FormFromTask(t *Task) TaskForm {
	return TaskForm{
		Title:             t.Title,
		Description:       t.Description,
		Status:            t.Status,
		Priority:          t.Priority,
		Category:          t.Category,
		Difficulty:        t.Difficulty,
		SubjectType:       t.SubjectType,
		Location:          t.Location,
		EstimatedDuration: t.EstimatedDuration,
		RequiredResources: t.RequiredResources,
		RewardValue:       t.RewardValue,
		DueDate:           t.DueDate,
		Assignee:          t.Assignee,
	}
}

// ApplyDefaults fills empty enum fields with their defaults.
func (f *TaskForm) ApplyDefaults() {
	if f.Status == "" {
		f.Status = DefaultStatus
	}
	if f.Priority == "" {
		f.Priority = DefaultPriority
	}
	if f.Category == "" {
		f.Category = DefaultCategory
	}
	if f.Difficulty == "" {
		f.Difficulty = DefaultDifficulty
	}
}

// Clean trims the required text fields and fills enum defaults.
func (f *TaskForm) Clean() {
	f.Title = strings.TrimSpace(f.Title)
	f.SubjectType = strings.TrimSpace(f.SubjectType)
	f.Location = strings.TrimSpace(f.Location)
	f.ApplyDefaults()
}

// Validate checks the form before it may reach the content store.
// Required text fields are checked after trimming whitespace; empty enums
// are accepted since they default.
func (f *TaskForm) Validate() error {
	fe := FieldErrors{}
	requireText(fe, "title", f.Title, ErrTitleRequired)
	requireText(fe, "subjectType", f.SubjectType, ErrSubjectTypeRequired)
	requireText(fe, "location", f.Location, ErrLocationRequired)

	enums := *f
	enums.ApplyDefaults()
	checkEnums(fe, &enums.Status, &enums.Priority, &enums.Category, &enums.Difficulty)
	checkNonNegative(fe, "estimatedDuration", f.EstimatedDuration)
	checkNonNegative(fe, "rewardValue", f.RewardValue)
	return fe.Err()
}

// Patch returns a patch that overwrites every field of a stored task with the
// form contents, clearing optional fields the form leaves empty.
func (f *TaskForm) Patch() *TaskPatch {
	return &TaskPatch{
		Replace:           true,
		Title:             &f.Title,
		Description:       &f.Description,
		Status:            &f.Status,
		Priority:          &f.Priority,
		Category:          &f.Category,
		Difficulty:        &f.Difficulty,
		SubjectType:       &f.SubjectType,
		Location:          &f.Location,
		EstimatedDuration: f.EstimatedDuration,
		RequiredResources: &f.RequiredResources,
		RewardValue:       f.RewardValue,
		DueDate:           f.DueDate,
		Assignee:          f.Assignee,
	}
}

// TaskPatch represents a partial update. A nil field is left unchanged,
// unless Replace is set: then nil optional fields are cleared.
type TaskPatch struct {
	Replace bool `json:"-"`

	Title             *string      `json:"title,omitempty"`
	Description       *string      `json:"description,omitempty"`
	Status            *Status      `json:"status,omitempty"`
	Priority          *Priority    `json:"priority,omitempty"`
	Category          *Category    `json:"category,omitempty"`
	Difficulty        *Difficulty  `json:"difficulty,omitempty"`
	SubjectType       *string      `json:"subjectType,omitempty"`
	Location          *string      `json:"location,omitempty"`
	EstimatedDuration *float64     `json:"estimatedDuration,omitempty"`
	RequiredResources *string      `json:"requiredResources,omitempty"`
	RewardValue       *float64     `json:"rewardValue,omitempty"`
	DueDate           *Date        `json:"dueDate,omitempty"`
	Assignee          *AssigneeRef `json:"assignee,omitempty"`
}

// Clean trims whichever required text fields the patch carries.
func (p *TaskPatch) Clean() {
	for _, s := range []*string{p.Title, p.SubjectType, p.Location} {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
}

// Validate checks only the fields present in the patch.
func (p *TaskPatch) Validate() error {
	fe := FieldErrors{}
	if p.Title != nil {
		requireText(fe, "title", *p.Title, ErrTitleRequired)
	}
	if p.SubjectType != nil {
		requireText(fe, "subjectType", *p.SubjectType, ErrSubjectTypeRequired)
	}
	if p.Location != nil {
		requireText(fe, "location", *p.Location, ErrLocationRequired)
	}
	checkEnums(fe, p.Status, p.Priority, p.Category, p.Difficulty)
	checkNonNegative(fe, "estimatedDuration", p.EstimatedDuration)
	checkNonNegative(fe, "rewardValue", p.RewardValue)
	return fe.Err()
}

// Empty reports whether the patch changes nothing.
func (p *TaskPatch) Empty() bool {
	return !p.Replace && *p == TaskPatch{}
}

// Cleared returns the document keys of the optional fields a Replace patch
// removes from the stored task.
func (p *TaskPatch) Cleared() []string {
	if !p.Replace {
		return nil
	}
	var keys []string
	if p.EstimatedDuration == nil {
		keys = append(keys, "estimatedDuration")
	}
	if p.RewardValue == nil {
		keys = append(keys, "rewardValue")
	}
	if p.DueDate == nil {
		keys = append(keys, "dueDate")
	}
	if p.Assignee == nil {
		keys = append(keys, "assignee")
	}
	return keys
}

// Stats is the derived per-status summary. It is never persisted.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Of returns the count for one status bucket.
func (s Stats) Of(status Status) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusInProgress:
		return s.InProgress
	case StatusCompleted:
		return s.Completed
	case StatusFailed:
		return s.Failed
	}
	return 0
}

// Add increments the bucket for status and the total.
func (s *Stats) Add(status Status, n int) {
	switch status {
	case StatusInProgress:
		s.InProgress += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	default:
		s.Pending += n
	}
	s.Total += n
}

// Consistent reports whether the buckets add up to the total.
func (s Stats) Consistent() bool {
	return s.Total == s.Pending+s.InProgress+s.Completed+s.Failed
}
