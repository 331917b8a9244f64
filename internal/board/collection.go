// Package board holds the client-side view of the task collection: the
// cached task list and stats, the active filters, and the grouped board
// derived from them.
package board

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/kaiju-planner/internal/board")

// State is the lifecycle state of a Collection.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Loader fetches the data a Collection caches.
type Loader interface {
	ListAll(ctx context.Context) ([]model.Task, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// Snapshot is a consistent, filtered read of a Collection.
type Snapshot struct {
	State  State        `json:"state"`
	Error  string       `json:"error,omitempty"`
	Filter Filter       `json:"filter"`
	Stats  model.Stats  `json:"stats"`
	Total  int          `json:"total"`
	Tasks  []model.Task `json:"tasks"`
	Board  Board        `json:"board"`
}

// Collection caches the full task list and stats. Mutations elsewhere call
// Reload to discard the cache and read everything again.
type Collection struct {
	loader Loader
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	err     error
	tasks   []model.Task
	stats   model.Stats
	filter  Filter
	started uint64
	applied uint64
}

// NewCollection creates a Collection in the loading state.
func NewCollection(loader Loader, logger *slog.Logger) *Collection {
	return &Collection{
		loader: loader,
		logger: logger,
		state:  StateLoading,
		filter: NewFilter(),
	}
}

// Reload fetches the task list and stats concurrently and replaces the
// cache. A reload that finishes after a newer one has already been applied
// is discarded. On failure the previous tasks are kept and the collection
// moves to StateFailed.
func (c *Collection) Reload(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Collection.Reload")
	defer span.End()

	c.mu.Lock()
	c.started++
	gen := c.started
	c.mu.Unlock()
	span.SetAttributes(attribute.Int64("board.generation", int64(gen)))

	var (
		tasks []model.Task
		stats model.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = c.loader.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = c.loader.Stats(gctx)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen < c.applied {
		span.SetAttributes(attribute.Bool("board.stale", true))
		c.logger.DebugContext(ctx, "discarding stale reload", slog.Uint64("generation", gen))
		return err
	}
	c.applied = gen

	if err != nil {
		c.state = StateFailed
		c.err = err
		c.logger.WarnContext(ctx, "board reload failed", slog.Any("error", err))
		return err
	}

	c.state = StateReady
	c.err = nil
	c.tasks = tasks
	c.stats = stats
	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return nil
}

// SetSearch sets the free-text predicate.
func (c *Collection) SetSearch(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.Search = q
}

// SetStatusFilter sets the status predicate; "all" or "" clears it.
func (c *Collection) SetStatusFilter(status string) error {
	if err := (Filter{Status: status}).Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.Status = status
	return nil
}

// SetPriorityFilter sets the priority predicate; "all" or "" clears it.
func (c *Collection) SetPriorityFilter(priority string) error {
	if err := (Filter{Priority: priority}).Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.Priority = priority
	return nil
}

// Snapshot derives the view using the collection's own filters.
func (c *Collection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(c.filter)
}

// View derives the view using f instead of the collection's filters.
func (c *Collection) View(f Filter) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(f)
}

func (c *Collection) snapshot(f Filter) Snapshot {
	filtered := Apply(c.tasks, f)
	s := Snapshot{
		State:  c.state,
		Filter: f,
		Stats:  c.stats,
		Total:  len(c.tasks),
		Tasks:  filtered,
		Board:  GroupByStatus(filtered),
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

// State returns the current lifecycle state.
func (c *Collection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns the cached stats.
func (c *Collection) Stats() model.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
