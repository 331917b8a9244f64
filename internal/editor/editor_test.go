package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hiroki-koketsu/kaiju-planner/internal/board"
	"github.com/hiroki-koketsu/kaiju-planner/internal/contentstore"
	"github.com/hiroki-koketsu/kaiju-planner/internal/model"
	"github.com/hiroki-koketsu/kaiju-planner/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMutator struct {
	mu      sync.Mutex
	creates []model.TaskForm
	updates map[string][]*model.TaskPatch
	deletes []string
	err     error
	// block, when set, holds Update until closed.
	block chan struct{}
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{updates: map[string][]*model.TaskPatch{}}
}

func (m *fakeMutator) Create(ctx context.Context, form model.TaskForm) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, form)
	if m.err != nil {
		return nil, m.err
	}
	return &model.Task{ID: "new-1", Title: form.Title, Status: form.Status}, nil
}

func (m *fakeMutator) Update(ctx context.Context, id string, patch *model.TaskPatch) (*model.Task, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = append(m.updates[id], patch)
	if m.err != nil {
		return nil, m.err
	}
	task := &model.Task{ID: id}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	return task, nil
}

func (m *fakeMutator) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	return m.err
}

func (m *fakeMutator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.creates) + len(m.deletes)
	for _, u := range m.updates {
		n += len(u)
	}
	return n
}

type countingReloader struct {
	mu sync.Mutex
	n  int
}

func (r *countingReloader) Reload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type recordedMutation struct {
	op  string
	err error
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedMutation
}

func (r *fakeRecorder) RecordMutation(_ context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedMutation{op, err})
}

func newTestFlow() (*Flow, *fakeMutator, *countingReloader) {
	m := newFakeMutator()
	r := &countingReloader{}
	return NewFlow(m, r, nil, discardLogger()), m, r
}

func TestEditor_OpenCreateResetsToDefaults(t *testing.T) {
	flow, _, _ := newTestFlow()
	ed := flow.NewEditor()
	assert.Equal(t, ModeClosed, ed.Mode())

	ed.OpenCreate()
	require.NoError(t, ed.Edit(func(f *model.TaskForm) { f.Title = "leftover" }))
	_, err := ed.Submit(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, ed.FieldErrors())

	ed.Cancel()
	ed.OpenCreate()
	assert.Equal(t, ModeCreate, ed.Mode())
	assert.Equal(t, model.DefaultForm(), ed.Form())
	assert.Empty(t, ed.FieldErrors())
}

func TestEditor_InvalidSubmitNeverCallsStore(t *testing.T) {
	flow, m, r := newTestFlow()
	ed := flow.NewEditor()
	ed.OpenCreate()
	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.Title = "   "
		f.SubjectType = "Kaiju"
	}))

	_, err := ed.Submit(context.Background())
	_, ok := model.AsValidation(err)
	require.True(t, ok)

	assert.Equal(t, ModeCreate, ed.Mode(), "editor stays open")
	assert.Contains(t, ed.FieldErrors(), "title")
	assert.Contains(t, ed.FieldErrors(), "location")
	assert.NotContains(t, ed.FieldErrors(), "subjectType")
	assert.Zero(t, m.calls())
	assert.Zero(t, r.count())
}

func TestEditor_CreateSuccessClosesAndReloads(t *testing.T) {
	flow, m, r := newTestFlow()
	ed := flow.NewEditor()
	ed.OpenCreate()
	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.Title = "Eliminate Test Kaiju"
		f.SubjectType = "TestKaiju"
		f.Location = "Test Bay"
	}))

	task, err := ed.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-1", task.ID)
	assert.Equal(t, ModeClosed, ed.Mode())
	assert.Equal(t, 1, r.count())
	require.Len(t, m.creates, 1)
	assert.Equal(t, model.StatusPending, m.creates[0].Status)
}

func TestEditor_StoreFailureStaysOpenWithReason(t *testing.T) {
	flow, m, r := newTestFlow()
	m.err = fmt.Errorf("%w: quota exceeded", model.ErrWriteFailed)

	ed := flow.NewEditor()
	ed.OpenCreate()
	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.Title, f.SubjectType, f.Location = "t", "s", "l"
	}))

	_, err := ed.Submit(context.Background())
	assert.ErrorIs(t, err, model.ErrWriteFailed)
	assert.Equal(t, ModeCreate, ed.Mode())
	require.Error(t, ed.SubmitError())
	assert.Contains(t, ed.SubmitError().Error(), "quota exceeded")
	assert.Equal(t, "t", ed.Form().Title, "edits survive a failed submit")
	assert.Zero(t, r.count())
}

func TestEditor_EditSendsFullFormAsUpdate(t *testing.T) {
	flow, m, r := newTestFlow()
	ed := flow.NewEditor()

	hours := 3.0
	due := model.NewDate(2026, time.May, 1)
	existing := &model.Task{
		ID: "t-9", Title: "Scout", SubjectType: "Rodan", Location: "Aso",
		Status: model.StatusInProgress, Priority: model.PriorityHigh,
		Category: model.CategoryResearch, Difficulty: model.DifficultyHard,
		EstimatedDuration: &hours, DueDate: &due,
	}
	ed.OpenEdit(existing)
	assert.Equal(t, ModeEdit, ed.Mode())
	assert.Equal(t, "Rodan", ed.Form().SubjectType)

	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.Location = "Mount Aso"
		f.DueDate = nil
		f.EstimatedDuration = nil
	}))
	_, err := ed.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, m.updates["t-9"], 1)
	patch := m.updates["t-9"][0]
	assert.True(t, patch.Replace)
	assert.Subset(t, patch.Cleared(), []string{"dueDate", "estimatedDuration"})
	assert.Equal(t, "Mount Aso", *patch.Location)
	assert.Equal(t, "Scout", *patch.Title)
	assert.Equal(t, model.PriorityHigh, *patch.Priority)
	assert.Empty(t, m.creates)
	assert.Equal(t, 1, r.count())
	assert.Equal(t, ModeClosed, ed.Mode())
}

func TestEditor_EditClearsOptionalFields(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()
	repo := repository.NewTaskRepository(contentstore.NewMemoryStore(), "kaiju-tasks", 0, logger)
	flow := NewFlow(repo, nil, nil, logger)

	hours := 5.0
	due := model.NewDate(2026, time.May, 1)
	f := model.DefaultForm()
	f.Title, f.SubjectType, f.Location = "Track Rodan", "Rodan", "Aso"
	f.Description = "high altitude"
	f.EstimatedDuration = &hours
	f.DueDate = &due
	f.Assignee = &model.AssigneeRef{ID: "hunter-7", Name: "Miki"}
	created, err := repo.Create(ctx, f)
	require.NoError(t, err)

	ed := flow.NewEditor()
	ed.OpenEdit(created)
	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.EstimatedDuration = nil
		f.DueDate = nil
		f.Assignee = nil
		f.Description = ""
	}))
	_, err = ed.Submit(ctx)
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EstimatedDuration)
	assert.Nil(t, got.DueDate)
	assert.Nil(t, got.Assignee)
	assert.Empty(t, got.Description)
	assert.Equal(t, "Track Rodan", got.Title)
}

func TestEditor_SubmitClosed(t *testing.T) {
	flow, _, _ := newTestFlow()
	ed := flow.NewEditor()
	_, err := ed.Submit(context.Background())
	assert.ErrorIs(t, err, ErrEditorClosed)
	assert.ErrorIs(t, ed.Edit(func(*model.TaskForm) {}), ErrEditorClosed)
}

func TestFlow_AdvanceStatus(t *testing.T) {
	cases := []struct {
		from, want model.Status
		writes     bool
	}{
		{model.StatusPending, model.StatusInProgress, true},
		{model.StatusInProgress, model.StatusCompleted, true},
		{model.StatusCompleted, model.StatusCompleted, false},
		{model.StatusFailed, model.StatusPending, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			flow, m, r := newTestFlow()
			task := &model.Task{ID: "k1", Status: tc.from}

			got, err := flow.AdvanceStatus(context.Background(), task)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)

			if !tc.writes {
				assert.Zero(t, m.calls())
				assert.Zero(t, r.count())
				assert.Same(t, task, got)
				return
			}
			require.Len(t, m.updates["k1"], 1)
			patch := m.updates["k1"][0]
			assert.Equal(t, tc.want, *patch.Status)
			assert.Equal(t, &model.TaskPatch{Status: patch.Status}, patch, "only status is sent")
			assert.Equal(t, 1, r.count())
		})
	}
}

func TestFlow_InFlightBlocksDuplicateMutation(t *testing.T) {
	flow, m, _ := newTestFlow()
	m.block = make(chan struct{})
	task := &model.Task{ID: "k1", Status: model.StatusPending}

	done := make(chan error, 1)
	go func() {
		_, err := flow.AdvanceStatus(context.Background(), task)
		done <- err
	}()

	require.Eventually(t, func() bool { return flow.InFlight().Busy("k1") }, time.Second, 5*time.Millisecond)

	_, err := flow.AdvanceStatus(context.Background(), task)
	assert.ErrorIs(t, err, model.ErrMutationInFlight)
	assert.ErrorIs(t, flow.Delete(context.Background(), "k1"), model.ErrMutationInFlight)

	close(m.block)
	require.NoError(t, <-done)
	assert.False(t, flow.InFlight().Busy("k1"))

	require.NoError(t, flow.Delete(context.Background(), "k1"))
	assert.Equal(t, []string{"k1"}, m.deletes)
}

func TestFlow_RecordsOutcomes(t *testing.T) {
	m := newFakeMutator()
	rec := &fakeRecorder{}
	flow := NewFlow(m, nil, rec, discardLogger())

	require.NoError(t, flow.Delete(context.Background(), "a"))
	m.err = errors.New("boom")
	_, err := flow.AdvanceStatus(context.Background(), &model.Task{ID: "b", Status: model.StatusFailed})
	require.Error(t, err)

	require.Len(t, rec.seen, 2)
	assert.Equal(t, "delete", rec.seen[0].op)
	assert.NoError(t, rec.seen[0].err)
	assert.Equal(t, "advance", rec.seen[1].op)
	assert.Error(t, rec.seen[1].err)
}

// End to end through the real repository and board over an in-memory store.
func TestFlow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()
	repo := repository.NewTaskRepository(contentstore.NewMemoryStore(), "kaiju-tasks", 0, logger)
	view := board.NewCollection(repo, logger)
	flow := NewFlow(repo, view, nil, logger)
	require.NoError(t, view.Reload(ctx))

	ed := flow.NewEditor()
	ed.OpenCreate()
	require.NoError(t, ed.Edit(func(f *model.TaskForm) {
		f.Title = "Eliminate Test Kaiju"
		f.SubjectType = "TestKaiju"
		f.Location = "Test Bay"
	}))
	created, err := ed.Submit(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.PriorityMedium, created.Priority)
	assert.Equal(t, model.CategoryReconnaissance, created.Category)
	assert.Equal(t, model.DifficultyMedium, created.Difficulty)

	snap := view.Snapshot()
	pending := snap.Board.Column(model.StatusPending)
	require.Len(t, pending.Tasks, 1)
	assert.Equal(t, created.ID, pending.Tasks[0].ID)
	assert.Equal(t, 1, snap.Stats.Pending)

	failed := model.StatusFailed
	_, err = flow.Patch(ctx, created.ID, &model.TaskPatch{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Snapshot().Stats.Failed)

	current, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	retried, err := flow.AdvanceStatus(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, retried.Status)
	snap = view.Snapshot()
	assert.Len(t, snap.Board.Column(model.StatusPending).Tasks, 1)

	require.NoError(t, flow.Delete(ctx, created.ID))
	snap = view.Snapshot()
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.Stats.Pending)
	assert.Equal(t, board.StateReady, snap.State)
}
