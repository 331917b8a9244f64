package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Mode is the state of the editor modal.
type Mode string

const (
	ModeClosed Mode = "closed"
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// ErrEditorClosed is returned when editing or submitting a closed editor.
var ErrEditorClosed = errors.New("editor is closed")

// Editor is the create/edit form state machine. Create and edit share one
// form shape; edit mode remembers the ID of the task being changed.
type Editor struct {
	flow *Flow

	mu         sync.Mutex
	mode       Mode
	taskID     string
	form       model.TaskForm
	fieldErrs  model.FieldErrors
	submitErr  error
	submitting bool
}

// OpenCreate opens the editor with a fresh form at default values.
func (e *Editor) OpenCreate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset(ModeCreate, "", model.DefaultForm())
}

// OpenEdit opens the editor pre-populated from task.
func (e *Editor) OpenEdit(task *model.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset(ModeEdit, task.ID, model.FormFromTask(task))
}

// Cancel discards in-progress edits and closes the editor.
func (e *Editor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset(ModeClosed, "", model.TaskForm{})
}

func (e *Editor) reset(mode Mode, id string, form model.TaskForm) {
	e.mode = mode
	e.taskID = id
	e.form = form
	e.fieldErrs = nil
	e.submitErr = nil
}

// Edit applies fn to the open form.
func (e *Editor) Edit(fn func(*model.TaskForm)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeClosed {
		return ErrEditorClosed
	}
	fn(&e.form)
	return nil
}

// Mode returns the current mode.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Form returns a copy of the form.
func (e *Editor) Form() model.TaskForm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// FieldErrors returns the messages attached by the last failed validation.
func (e *Editor) FieldErrors() model.FieldErrors {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fieldErrs
}

// SubmitError returns the reason the last submit failed at the store.
func (e *Editor) SubmitError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitErr
}

// Submit validates the form and, if valid, creates or updates the task.
// Invalid forms stay open with field errors and never reach the store.
// Store failures stay open with SubmitError set. On success the editor
// closes and the board reloads.
func (e *Editor) Submit(ctx context.Context) (*model.Task, error) {
	e.mu.Lock()
	if e.mode == ModeClosed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	if e.submitting {
		e.mu.Unlock()
		return nil, model.ErrMutationInFlight
	}
	mode, id, form := e.mode, e.taskID, e.form
	form.Clean()

	if err := form.Validate(); err != nil {
		e.fieldErrs, _ = model.AsValidation(err)
		e.mu.Unlock()
		return nil, err
	}
	e.fieldErrs = nil
	e.submitErr = nil
	e.submitting = true
	e.mu.Unlock()

	task, err := e.dispatch(ctx, mode, id, form)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitting = false

	if err != nil {
		if fields, ok := model.AsValidation(err); ok {
			e.fieldErrs = fields
		} else {
			e.submitErr = err
		}
		e.flow.logger.ErrorContext(ctx, "task submit failed",
			slog.String("mode", string(mode)), slog.String("id", id), slog.Any("error", err))
		return nil, err
	}

	e.reset(ModeClosed, "", model.TaskForm{})
	return task, nil
}

func (e *Editor) dispatch(ctx context.Context, mode Mode, id string, form model.TaskForm) (*model.Task, error) {
	f := e.flow
	ctx, span := tracer.Start(ctx, "Editor.Submit",
		trace.WithAttributes(attribute.String("editor.mode", string(mode)), attribute.String("task.id", id)),
	)
	defer span.End()

	if mode == ModeCreate {
		task, err := f.tasks.Create(ctx, form)
		f.record(ctx, "create", err)
		if err != nil {
			return nil, err
		}
		f.logger.InfoContext(ctx, "task created", slog.String("id", task.ID))
		f.invalidate(ctx)
		return task, nil
	}

	release, ok := f.inFlight.Acquire(id)
	if !ok {
		return nil, model.ErrMutationInFlight
	}
	defer release()

	task, err := f.tasks.Update(ctx, id, form.Patch())
	f.record(ctx, "update", err)
	if err != nil {
		return nil, err
	}
	f.logger.InfoContext(ctx, "task updated", slog.String("id", id))
	f.invalidate(ctx)
	return task, nil
}
