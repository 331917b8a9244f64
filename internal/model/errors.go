package model

import (
	"errors"
	"sort"
	"strings"
)

// TaskError represents a domain error for tasks.
type TaskError struct {
	Message string
}

func (e TaskError) Error() string {
	return e.Message
}

var (
	ErrTaskNotFound        = TaskError{Message: "task not found"}
	ErrTitleRequired       = TaskError{Message: "title is required"}
	ErrSubjectTypeRequired = TaskError{Message: "subject type is required"}
	ErrLocationRequired    = TaskError{Message: "location is required"}
	ErrInvalidStatus       = TaskError{Message: "status must be one of pending, in_progress, completed, failed"}
	ErrInvalidPriority     = TaskError{Message: "priority must be one of low, medium, high, urgent"}
	ErrInvalidCategory     = TaskError{Message: "category must be one of reconnaissance, capture, elimination, rescue, research"}
	ErrInvalidDifficulty   = TaskError{Message: "difficulty must be one of easy, medium, hard, legendary"}
	ErrNegativeNumber      = TaskError{Message: "must not be negative"}
	ErrEmptyPatch          = TaskError{Message: "update contains no fields"}
	ErrReadFailed          = TaskError{Message: "unable to load tasks"}
	ErrWriteFailed         = TaskError{Message: "unable to save task"}
	ErrMutationInFlight    = TaskError{Message: "another change to this task is in progress"}
)

// FieldErrors maps a field name to a user-facing message.
type FieldErrors map[string]string

// Err returns a *ValidationError when any field failed, nil otherwise.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Fields: fe}
}

// ValidationError is returned when a form or patch is rejected before it
// reaches the content store.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

// AsValidation extracts the field errors from err, if any.
func AsValidation(err error) (FieldErrors, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields, true
	}
	return nil, false
}

func requireText(fe FieldErrors, field, value string, err TaskError) {
	if strings.TrimSpace(value) == "" {
		fe[field] = err.Message
	}
}

func checkNonNegative(fe FieldErrors, field string, v *float64) {
	if v != nil && *v < 0 {
		fe[field] = field + " " + ErrNegativeNumber.Message
	}
}

// checkEnums validates whichever enum pointers are non-nil.
func checkEnums(fe FieldErrors, s *Status, p *Priority, c *Category, d *Difficulty) {
	if s != nil && !s.Valid() {
		fe["status"] = ErrInvalidStatus.Message
	}
	if p != nil && !p.Valid() {
		fe["priority"] = ErrInvalidPriority.Message
	}
	if c != nil && !c.Valid() {
		fe["category"] = ErrInvalidCategory.Message
	}
	if d != nil && !d.Valid() {
		fe["difficulty"] = ErrInvalidDifficulty.Message
	}
}
