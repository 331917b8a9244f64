package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/kaiju-planner/internal/board"
	"github.com/hiroki-koketsu/kaiju-planner/internal/editor"
	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"github.com/hiroki-koketsu/kaiju-planner/internal/repository"
	"github.com/hiroki-koketsu/kaiju-planner/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/kaiju-planner/internal/handler")

const (
	routeTasks   = "/api/v1/tasks"
	routeStats   = "/api/v1/tasks/stats"
	routeBoard   = "/api/v1/tasks/board"
	routeTask    = "/api/v1/tasks/{id}"
	routeAdvance = "/api/v1/tasks/{id}/advance"
)

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	repo    *repository.TaskRepository
	view    *board.Collection
	flow    *editor.Flow
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(repo *repository.TaskRepository, view *board.Collection, flow *editor.Flow, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		repo:    repo,
		view:    view,
		flow:    flow,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Get("/board", h.Board)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}", h.Patch)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/advance", h.Advance)

	return r
}

// List returns all tasks, or those with ?status= when given.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	status := r.URL.Query().Get("status")

	ctx, span := tracer.Start(ctx, "TaskHandler.List",
		trace.WithAttributes(attribute.String("task.status", status)),
	)
	defer span.End()

	var (
		tasks []model.Task
		err   error
	)
	if status == "" || status == board.All {
		tasks, err = h.repo.ListAll(ctx)
	} else {
		var st model.Status
		if st, err = model.ParseStatus(status); err == nil {
			tasks, err = h.repo.ListByStatus(ctx, st)
		}
	}
	if err != nil {
		h.fail(ctx, w, r.Method, routeTasks, start, err)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.logger.InfoContext(ctx, "tasks listed", slog.Int("count", len(tasks)), slog.String("status", status))

	h.respondJSON(w, http.StatusOK, tasks)
	h.recordMetrics(ctx, r.Method, routeTasks, http.StatusOK, start)
}

// Create submits a new task through the editor.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Create")
	defer span.End()

	var form model.TaskForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.badBody(ctx, w, r.Method, routeTasks, start, err)
		return
	}

	ed := h.flow.NewEditor()
	ed.OpenCreate()
	task, err := h.submit(ctx, ed, form)
	if err != nil {
		h.fail(ctx, w, r.Method, routeTasks, start, err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.respondJSON(w, http.StatusCreated, task)
	h.recordMetrics(ctx, r.Method, routeTasks, http.StatusCreated, start)
}

// Stats returns the per-status summary read from the store.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Stats")
	defer span.End()

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		h.fail(ctx, w, r.Method, routeStats, start, err)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
	h.recordMetrics(ctx, r.Method, routeStats, http.StatusOK, start)
}

// Board returns the cached collection filtered by ?q=, ?status= and
// ?priority=, grouped into status columns.
func (h *TaskHandler) Board(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	q := r.URL.Query()

	f := board.NewFilter()
	f.Search = q.Get("q")
	if v := q.Get("status"); v != "" && v != board.All {
		st, err := model.ParseStatus(v)
		if err != nil {
			h.fail(ctx, w, r.Method, routeBoard, start, err)
			return
		}
		f.Status = string(st)
	}
	if v := q.Get("priority"); v != "" && v != board.All {
		p, err := model.ParsePriority(v)
		if err != nil {
			h.fail(ctx, w, r.Method, routeBoard, start, err)
			return
		}
		f.Priority = string(p)
	}

	ctx, span := tracer.Start(ctx, "TaskHandler.Board",
		trace.WithAttributes(
			attribute.String("board.search", f.Search),
			attribute.String("board.status", f.Status),
			attribute.String("board.priority", f.Priority),
		),
	)
	defer span.End()

	if err := f.Validate(); err != nil {
		h.logger.WarnContext(ctx, "invalid board filter", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		h.recordMetrics(ctx, r.Method, routeBoard, http.StatusBadRequest, start)
		return
	}

	if h.view.State() != board.StateReady {
		if err := h.view.Reload(ctx); err != nil {
			h.fail(ctx, w, r.Method, routeBoard, start, err)
			return
		}
	}

	snap := h.view.View(f)
	span.SetAttributes(attribute.Int("task.count", len(snap.Tasks)))

	h.respondJSON(w, http.StatusOK, snap)
	h.recordMetrics(ctx, r.Method, routeBoard, http.StatusOK, start)
}

// GetByID returns a task by ID.
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	task, err := h.repo.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, r.Method, routeTask, start, err)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, r.Method, routeTask, http.StatusOK, start)
}

// Update replaces a task's editable fields through the editor.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var form model.TaskForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.badBody(ctx, w, r.Method, routeTask, start, err)
		return
	}

	current, err := h.repo.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, r.Method, routeTask, start, err)
		return
	}

	ed := h.flow.NewEditor()
	ed.OpenEdit(current)
	task, err := h.submit(ctx, ed, form)
	if err != nil {
		h.fail(ctx, w, r.Method, routeTask, start, err)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, r.Method, routeTask, http.StatusOK, start)
}

// Patch applies a partial update.
func (h *TaskHandler) Patch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var patch model.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.badBody(ctx, w, r.Method, routeTask, start, err)
		return
	}

	task, err := h.flow.Patch(ctx, id, &patch)
	if err != nil {
		h.fail(ctx, w, r.Method, routeTask, start, err)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, r.Method, routeTask, http.StatusOK, start)
}

// Delete removes a task.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err := h.flow.Delete(ctx, id); err != nil {
		h.fail(ctx, w, r.Method, routeTask, start, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.recordMetrics(ctx, r.Method, routeTask, http.StatusNoContent, start)
}

// Advance moves a task to its next status.
func (h *TaskHandler) Advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Advance",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	current, err := h.repo.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, r.Method, routeAdvance, start, err)
		return
	}

	task, err := h.flow.AdvanceStatus(ctx, current)
	if err != nil {
		h.fail(ctx, w, r.Method, routeAdvance, start, err)
		return
	}

	span.SetAttributes(attribute.String("task.status", string(task.Status)))
	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, r.Method, routeAdvance, http.StatusOK, start)
}

// Health returns a health check response.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"board":  string(h.view.State()),
	})
}

// submit replaces the editor's form with the request body and submits it.
// Enums the body leaves empty keep the value the editor opened with.
func (h *TaskHandler) submit(ctx context.Context, ed *editor.Editor, body model.TaskForm) (*model.Task, error) {
	err := ed.Edit(func(f *model.TaskForm) {
		opened := *f
		*f = body
		if f.Status == "" {
			f.Status = opened.Status
		}
		if f.Priority == "" {
			f.Priority = opened.Priority
		}
		if f.Category == "" {
			f.Category = opened.Category
		}
		if f.Difficulty == "" {
			f.Difficulty = opened.Difficulty
		}
	})
	if err != nil {
		return nil, err
	}
	return ed.Submit(ctx)
}

func (h *TaskHandler) badBody(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, err error) {
	h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
	h.respondError(w, http.StatusBadRequest, "invalid request body")
	h.recordMetrics(ctx, method, route, http.StatusBadRequest, start)
}

// fail maps a domain error to its HTTP status, logs it and responds.
func (h *TaskHandler) fail(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, err error) {
	trace.SpanFromContext(ctx).RecordError(err)

	if fields, ok := model.AsValidation(err); ok {
		h.logger.WarnContext(ctx, "validation failed", slog.Any("error", err))
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"fields": fields,
		})
		h.recordMetrics(ctx, method, route, http.StatusUnprocessableEntity, start)
		return
	}

	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", slog.String("route", route), slog.Any("error", err))
	} else {
		h.logger.WarnContext(ctx, "request rejected", slog.String("route", route), slog.Any("error", err))
	}
	h.respondError(w, status, message)
	h.recordMetrics(ctx, method, route, status, start)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrTaskNotFound):
		return http.StatusNotFound, model.ErrTaskNotFound.Error()
	case errors.Is(err, model.ErrMutationInFlight):
		return http.StatusConflict, model.ErrMutationInFlight.Error()
	case errors.Is(err, model.ErrEmptyPatch),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrInvalidPriority):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrReadFailed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, model.ErrWriteFailed):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *TaskHandler) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	h.metrics.RecordRequest(ctx, method, route, status, start)
}
