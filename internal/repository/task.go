package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hiroki-koketsu/kaiju-planner/internal/contentstore"
	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/kaiju-planner/internal/repository")

// DefaultListLimit caps how many tasks a list call returns.
const DefaultListLimit = 100

// TaskRepository translates task operations into content store calls.
//
// Reads fail with an error wrapping model.ErrReadFailed so callers can tell
// "no tasks" from "could not load". Writes fail with model.ErrWriteFailed,
// model.ErrTaskNotFound, or a *model.ValidationError raised before the store
// is touched.
type TaskRepository struct {
	store      contentstore.Store
	collection string
	limit      int
	logger     *slog.Logger
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(store contentstore.Store, collection string, limit int, logger *slog.Logger) *TaskRepository {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &TaskRepository{
		store:      store,
		collection: collection,
		limit:      limit,
		logger:     logger,
	}
}

// ListAll returns the most recently created tasks, newest first.
func (r *TaskRepository) ListAll(ctx context.Context) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.ListAll")
	defer span.End()

	return r.list(ctx, nil)
}

// ListByStatus returns the most recently created tasks with the given status.
func (r *TaskRepository) ListByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.ListByStatus",
		trace.WithAttributes(attribute.String("task.status", string(status))),
	)
	defer span.End()

	if !status.Valid() {
		return nil, model.ErrInvalidStatus
	}
	return r.list(ctx, map[string]string{"status": string(status)})
}

func (r *TaskRepository) list(ctx context.Context, where map[string]string) ([]model.Task, error) {
	res, err := r.store.Find(ctx, r.collection, contentstore.Query{
		Where: where,
		Sort:  contentstore.Sort{Field: contentstore.KeyCreatedAt, Desc: true},
		Limit: r.limit,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to list tasks", slog.Any("error", err))
		return nil, readFailed(err)
	}

	tasks := make([]model.Task, 0, len(res.Docs))
	for _, doc := range res.Docs {
		task, err := r.decode(ctx, doc)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping undecodable task document",
				slog.String("id", doc.ID()), slog.Any("error", err))
			continue
		}
		tasks = append(tasks, *task)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("task.count", len(tasks)),
		attribute.Int("task.total_docs", res.TotalDocs),
	)
	return tasks, nil
}

// Get returns a single task by ID.
func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	res, err := r.store.Find(ctx, r.collection, contentstore.Query{
		Where: map[string]string{contentstore.KeyID: id},
		Limit: 1,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to get task", slog.String("id", id), slog.Any("error", err))
		return nil, readFailed(err)
	}
	if len(res.Docs) == 0 {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	task, err := r.decode(ctx, res.Docs[0])
	if err != nil {
		return nil, readFailed(err)
	}
	return task, nil
}

// Create validates the form and persists a new task.
func (r *TaskRepository) Create(ctx context.Context, form model.TaskForm) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Create",
		trace.WithAttributes(attribute.String("task.title", form.Title)),
	)
	defer span.End()

	form.Clean()
	if err := form.Validate(); err != nil {
		return nil, err
	}

	data, err := encode(form)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrWriteFailed, err)
	}

	doc, err := r.store.Create(ctx, r.collection, data)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to create task", slog.Any("error", err))
		return nil, writeFailed(err)
	}

	task, err := r.decode(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrWriteFailed, err)
	}
	span.SetAttributes(attribute.String("task.id", task.ID))
	return task, nil
}

// Update applies a partial update. Only the fields present in patch are sent.
func (r *TaskRepository) Update(ctx context.Context, id string, patch *model.TaskPatch) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if patch.Empty() {
		return nil, model.ErrEmptyPatch
	}
	patch.Clean()
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	data, err := encode(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrWriteFailed, err)
	}
	for _, key := range patch.Cleared() {
		data[key] = nil
	}

	doc, err := r.store.Update(ctx, r.collection, id, data)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to update task", slog.String("id", id), slog.Any("error", err))
		return nil, writeFailed(err)
	}

	task, err := r.decode(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrWriteFailed, err)
	}
	span.SetAttributes(attribute.String("task.status", string(task.Status)))
	return task, nil
}

// Delete removes a task. Deletion is permanent.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "TaskRepository.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err := r.store.Delete(ctx, r.collection, id); err != nil {
		r.logger.ErrorContext(ctx, "failed to delete task", slog.String("id", id), slog.Any("error", err))
		return writeFailed(err)
	}
	return nil
}

// Stats returns the per-status summary. Stores that can aggregate answer it
// in one grouped query; otherwise five counts are issued concurrently and
// the result may be momentarily inconsistent under concurrent writers.
func (r *TaskRepository) Stats(ctx context.Context) (model.Stats, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Stats")
	defer span.End()

	var (
		stats model.Stats
		err   error
	)
	if agg, ok := r.store.(contentstore.Aggregator); ok {
		span.SetAttributes(attribute.Bool("stats.aggregated", true))
		stats, err = r.aggregateStats(ctx, agg)
	} else {
		stats, err = r.countStats(ctx)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "failed to count tasks", slog.Any("error", err))
		return model.Stats{}, readFailed(err)
	}

	span.SetAttributes(attribute.Int("task.total", stats.Total))
	return stats, nil
}

func (r *TaskRepository) aggregateStats(ctx context.Context, agg contentstore.Aggregator) (model.Stats, error) {
	groups, err := agg.CountBy(ctx, r.collection, "status")
	if err != nil {
		return model.Stats{}, err
	}
	var stats model.Stats
	for status, n := range groups {
		// Unknown statuses are counted as pending, matching read normalization.
		stats.Add(model.Status(status), n)
	}
	return stats, nil
}

func (r *TaskRepository) countStats(ctx context.Context) (model.Stats, error) {
	counts := make([]int, len(model.Statuses)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.store.Count(gctx, r.collection, nil)
		counts[0] = n
		return err
	})
	for i, status := range model.Statuses {
		i, status := i, status
		g.Go(func() error {
			n, err := r.store.Count(gctx, r.collection, map[string]string{"status": string(status)})
			counts[i+1] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.Stats{}, err
	}

	return model.Stats{
		Total:      counts[0],
		Pending:    counts[1],
		InProgress: counts[2],
		Completed:  counts[3],
		Failed:     counts[4],
	}, nil
}

// decode converts a stored document into a task, normalizing enum values the
// store does not enforce.
func (r *TaskRepository) decode(ctx context.Context, doc contentstore.Document) (*model.Task, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var task model.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", doc.ID(), err)
	}
	if fixed := task.Normalize(); len(fixed) > 0 {
		r.logger.WarnContext(ctx, "normalized invalid task fields",
			slog.String("id", task.ID), slog.Any("fields", fixed))
	}
	return &task, nil
}

func encode(v any) (contentstore.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc contentstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func readFailed(err error) error {
	return fmt.Errorf("%w: %w", model.ErrReadFailed, err)
}

func writeFailed(err error) error {
	if errors.Is(err, contentstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", model.ErrTaskNotFound, err)
	}
	return fmt.Errorf("%w: %w", model.ErrWriteFailed, err)
}
