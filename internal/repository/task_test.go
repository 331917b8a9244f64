package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/hiroki-koketsu/kaiju-planner/internal/contentstore"
	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollection = "kaiju-tasks"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore wraps a store, counts calls and can be told to fail.
type countingStore struct {
	contentstore.Store
	calls atomic.Int32
	fail  error
}

func (s *countingStore) Find(ctx context.Context, c string, q contentstore.Query) (contentstore.FindResult, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return contentstore.FindResult{}, s.fail
	}
	return s.Store.Find(ctx, c, q)
}

func (s *countingStore) Create(ctx context.Context, c string, d contentstore.Document) (contentstore.Document, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.Store.Create(ctx, c, d)
}

func (s *countingStore) Update(ctx context.Context, c, id string, d contentstore.Document) (contentstore.Document, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.Store.Update(ctx, c, id, d)
}

func (s *countingStore) Count(ctx context.Context, c string, where map[string]string) (int, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return 0, s.fail
	}
	return s.Store.Count(ctx, c, where)
}

func newTestRepo(t *testing.T) (*TaskRepository, *countingStore) {
	t.Helper()
	store := &countingStore{Store: contentstore.NewMemoryStore()}
	return NewTaskRepository(store, testCollection, 0, discardLogger()), store
}

func form(title, subject, location string) model.TaskForm {
	return model.TaskForm{Title: title, SubjectType: subject, Location: location}
}

func TestTaskRepository_CreateAppliesDefaults(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	task, err := repo.Create(ctx, form("Eliminate Test Kaiju", "TestKaiju", "Test Bay"))
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	assert.Equal(t, model.CategoryReconnaissance, task.Category)
	assert.Equal(t, model.DifficultyMedium, task.Difficulty)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestTaskRepository_CreateRejectsInvalidBeforeStore(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, form("  ", "TestKaiju", ""))
	fields, ok := model.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "location")

	f := form("t", "s", "l")
	f.Priority = "extreme"
	_, err = repo.Create(ctx, f)
	fields, ok = model.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, fields, "priority")

	assert.Zero(t, store.calls.Load())
}

func TestTaskRepository_CreateTrimsRequiredText(t *testing.T) {
	repo, _ := newTestRepo(t)

	task, err := repo.Create(context.Background(), form("  Scout  ", " Gojira", "Tokyo Bay \n"))
	require.NoError(t, err)
	assert.Equal(t, "Scout", task.Title)
	assert.Equal(t, "Gojira", task.SubjectType)
	assert.Equal(t, "Tokyo Bay", task.Location)
}

func TestTaskRepository_ListByStatus(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	var completedID string
	for _, st := range []model.Status{model.StatusPending, model.StatusInProgress, model.StatusCompleted} {
		f := form("task "+string(st), "Kaiju", "Bay")
		f.Status = st
		task, err := repo.Create(ctx, f)
		require.NoError(t, err)
		if st == model.StatusCompleted {
			completedID = task.ID
		}
	}

	tasks, err := repo.ListByStatus(ctx, model.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, completedID, tasks[0].ID)

	_, err = repo.ListByStatus(ctx, "done")
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
}

func TestTaskRepository_ListAllNewestFirstAndCapped(t *testing.T) {
	store := contentstore.NewMemoryStore()
	repo := NewTaskRepository(store, testCollection, 3, discardLogger())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := repo.Create(ctx, form("t", "s", "l"))
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	tasks, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, ids[4], tasks[0].ID)
	assert.Equal(t, ids[2], tasks[2].ID)
}

func TestTaskRepository_ReadFailureIsDistinguishable(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	store.fail = &contentstore.Error{Op: "find", Collection: testCollection, Kind: contentstore.ErrUnavailable, Err: errors.New("connection refused")}

	_, err = repo.ListAll(ctx)
	assert.ErrorIs(t, err, model.ErrReadFailed)
	assert.ErrorIs(t, err, contentstore.ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = repo.Stats(ctx)
	assert.ErrorIs(t, err, model.ErrReadFailed)
}

func TestTaskRepository_WriteFailureCarriesReason(t *testing.T) {
	repo, store := newTestRepo(t)
	store.fail = &contentstore.Error{Op: "create", Collection: testCollection, Kind: contentstore.ErrInvalid, Err: errors.New("title too long")}

	_, err := repo.Create(context.Background(), form("t", "s", "l"))
	assert.ErrorIs(t, err, model.ErrWriteFailed)
	assert.Contains(t, err.Error(), "title too long")
}

func TestTaskRepository_UpdatePartial(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	f := form("Capture Mothra", "Mothra", "Infant Island")
	f.Description = "bring nets"
	created, err := repo.Create(ctx, f)
	require.NoError(t, err)

	status := model.StatusInProgress
	updated, err := repo.Update(ctx, created.ID, &model.TaskPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	assert.Equal(t, "bring nets", updated.Description)
	assert.Equal(t, "Infant Island", updated.Location)

	_, err = repo.Update(ctx, "no-such-task", &model.TaskPatch{Status: &status})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	_, err = repo.Update(ctx, created.ID, &model.TaskPatch{})
	assert.ErrorIs(t, err, model.ErrEmptyPatch)

	blank := ""
	_, err = repo.Update(ctx, created.ID, &model.TaskPatch{Title: &blank})
	_, ok := model.AsValidation(err)
	assert.True(t, ok)
}

func TestTaskRepository_ReplaceClearsOptionalFields(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	f := form("Track Rodan", "Rodan", "Aso")
	hours, reward := 5.0, 300.0
	due := model.NewDate(2026, 5, 1)
	f.EstimatedDuration = &hours
	f.RewardValue = &reward
	f.DueDate = &due
	f.Assignee = &model.AssigneeRef{ID: "hunter-7"}
	created, err := repo.Create(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, created.DueDate)

	edit := model.FormFromTask(created)
	edit.EstimatedDuration = nil
	edit.DueDate = nil
	edit.Assignee = nil
	_, err = repo.Update(ctx, created.ID, edit.Patch())
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EstimatedDuration)
	assert.Nil(t, got.DueDate)
	assert.Nil(t, got.Assignee)
	require.NotNil(t, got.RewardValue, "fields still set are kept")
	assert.Equal(t, 300.0, *got.RewardValue)
}

func TestTaskRepository_GetAndDelete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, form("t", "s", "l"))
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), model.ErrTaskNotFound)
}

func TestTaskRepository_DeleteDecrementsStats(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	var victim *model.Task
	for _, st := range []model.Status{model.StatusPending, model.StatusFailed, model.StatusFailed, model.StatusCompleted} {
		f := form("t", "s", "l")
		f.Status = st
		task, err := repo.Create(ctx, f)
		require.NoError(t, err)
		if st == model.StatusFailed {
			victim = task
		}
	}

	before, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 4, Pending: 1, Failed: 2, Completed: 1}, before)

	require.NoError(t, repo.Delete(ctx, victim.ID))

	tasks, err := repo.ListAll(ctx)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, victim.ID, task.ID)
	}

	after, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Failed-1, after.Failed)
	assert.Equal(t, before.Total-1, after.Total)
	assert.True(t, after.Consistent())
}

// nonAggregating hides the memory store's CountBy so Stats falls back to
// individual counts.
type nonAggregating struct {
	contentstore.Store
}

func TestTaskRepository_StatsWithoutAggregator(t *testing.T) {
	store := nonAggregating{Store: contentstore.NewMemoryStore()}
	repo := NewTaskRepository(store, testCollection, 0, discardLogger())
	ctx := context.Background()

	for _, st := range []model.Status{model.StatusPending, model.StatusInProgress, model.StatusInProgress, model.StatusCompleted, model.StatusFailed} {
		f := form("t", "s", "l")
		f.Status = st
		_, err := repo.Create(ctx, f)
		require.NoError(t, err)
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 5, Pending: 1, InProgress: 2, Completed: 1, Failed: 1}, stats)
	assert.True(t, stats.Consistent())
}

func TestTaskRepository_NormalizesCorruptDocuments(t *testing.T) {
	store := contentstore.NewMemoryStore()
	repo := NewTaskRepository(store, testCollection, 0, discardLogger())
	ctx := context.Background()

	_, err := store.Create(ctx, testCollection, contentstore.Document{
		"title": "Legacy", "subjectType": "Kaiju", "location": "Bay",
		"status": "archived", "priority": "whenever",
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, testCollection, contentstore.Document{"title": 42})
	require.NoError(t, err)

	tasks, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.StatusPending, tasks[0].Status)
	assert.Equal(t, model.PriorityMedium, tasks[0].Priority)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.True(t, stats.Consistent())
}
