// Package editor drives task mutations: the create/edit form, per-card
// status advancement and deletion. Every successful mutation is followed by
// a reload of the board; failed ones leave local state untouched.
package editor

import (
	"context"
	"log/slog"

	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/kaiju-planner/internal/editor")

// Mutator performs writes against the task store.
type Mutator interface {
	Create(ctx context.Context, form model.TaskForm) (*model.Task, error)
	Update(ctx context.Context, id string, patch *model.TaskPatch) (*model.Task, error)
	Delete(ctx context.Context, id string) error
}

// Reloader is invalidated after every successful mutation.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Recorder observes mutation outcomes. It may be nil.
type Recorder interface {
	RecordMutation(ctx context.Context, operation string, err error)
}

// Flow owns the collaborators shared by every editor and card action.
type Flow struct {
	tasks    Mutator
	reload   Reloader
	inFlight *InFlight
	recorder Recorder
	logger   *slog.Logger
}

// NewFlow creates a Flow.
func NewFlow(tasks Mutator, reload Reloader, recorder Recorder, logger *slog.Logger) *Flow {
	return &Flow{
		tasks:    tasks,
		reload:   reload,
		inFlight: NewInFlight(),
		recorder: recorder,
		logger:   logger,
	}
}

// NewEditor returns a closed editor bound to this flow.
func (f *Flow) NewEditor() *Editor {
	return &Editor{flow: f, mode: ModeClosed}
}

// InFlight exposes the tracker so callers can disable controls for a task.
func (f *Flow) InFlight() *InFlight {
	return f.inFlight
}

// AdvanceStatus moves a task to the next status on its card: pending to
// in_progress, in_progress to completed, failed back to pending. Completed
// is terminal; advancing it returns the task unchanged without a write.
func (f *Flow) AdvanceStatus(ctx context.Context, task *model.Task) (*model.Task, error) {
	next := task.Status.Next()

	ctx, span := tracer.Start(ctx, "Flow.AdvanceStatus",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.status", string(task.Status)),
			attribute.String("task.next_status", string(next)),
		),
	)
	defer span.End()

	if next == task.Status {
		return task, nil
	}

	release, ok := f.inFlight.Acquire(task.ID)
	if !ok {
		return nil, model.ErrMutationInFlight
	}
	defer release()

	updated, err := f.tasks.Update(ctx, task.ID, &model.TaskPatch{Status: &next})
	f.record(ctx, "advance", err)
	if err != nil {
		return nil, err
	}

	f.logger.InfoContext(ctx, "task advanced",
		slog.String("id", task.ID),
		slog.String("from", string(task.Status)),
		slog.String("to", string(updated.Status)),
	)
	f.invalidate(ctx)
	return updated, nil
}

// Delete removes a task by ID.
func (f *Flow) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Flow.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	release, ok := f.inFlight.Acquire(id)
	if !ok {
		return model.ErrMutationInFlight
	}
	defer release()

	err := f.tasks.Delete(ctx, id)
	f.record(ctx, "delete", err)
	if err != nil {
		return err
	}

	f.logger.InfoContext(ctx, "task deleted", slog.String("id", id))
	f.invalidate(ctx)
	return nil
}

// Patch applies a partial update outside the form.
func (f *Flow) Patch(ctx context.Context, id string, patch *model.TaskPatch) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "Flow.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	release, ok := f.inFlight.Acquire(id)
	if !ok {
		return nil, model.ErrMutationInFlight
	}
	defer release()

	updated, err := f.tasks.Update(ctx, id, patch)
	f.record(ctx, "update", err)
	if err != nil {
		return nil, err
	}
	f.invalidate(ctx)
	return updated, nil
}

// invalidate reloads the board. A failed reload is visible as the board's
// failed state, so it does not fail the mutation that triggered it.
func (f *Flow) invalidate(ctx context.Context) {
	if f.reload == nil {
		return
	}
	if err := f.reload.Reload(ctx); err != nil {
		f.logger.WarnContext(ctx, "reload after mutation failed", slog.Any("error", err))
	}
}

func (f *Flow) record(ctx context.Context, op string, err error) {
	if f.recorder != nil {
		f.recorder.RecordMutation(ctx, op, err)
	}
}
