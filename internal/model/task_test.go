package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() TaskForm {
	f := DefaultForm()
	f.Title = "Eliminate Test Kaiju"
	f.SubjectType = "TestKaiju"
	f.Location = "Test Bay"
	return f
}

func TestTaskForm_ValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*TaskForm)
		field string
	}{
		{"empty title", func(f *TaskForm) { f.Title = "" }, "title"},
		{"blank title", func(f *TaskForm) { f.Title = "   \t" }, "title"},
		{"empty subject type", func(f *TaskForm) { f.SubjectType = "" }, "subjectType"},
		{"blank location", func(f *TaskForm) { f.Location = "\n " }, "location"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validForm()
			tc.edit(&f)

			err := f.Validate()
			require.Error(t, err)
			fields, ok := AsValidation(err)
			require.True(t, ok)
			assert.Len(t, fields, 1)
			assert.NotEmpty(t, fields[tc.field])
		})
	}
}

func TestTaskForm_ValidateCollectsAllFields(t *testing.T) {
	f := DefaultForm()
	neg := -1.5
	f.RewardValue = &neg

	fields, ok := AsValidation(f.Validate())
	require.True(t, ok)
	assert.Equal(t, ErrTitleRequired.Message, fields["title"])
	assert.Equal(t, ErrSubjectTypeRequired.Message, fields["subjectType"])
	assert.Equal(t, ErrLocationRequired.Message, fields["location"])
	assert.Contains(t, fields["rewardValue"], "negative")
}

func TestTaskForm_ValidateEnums(t *testing.T) {
	f := validForm()
	f.Status = "archived"
	f.Priority = "meh"
	f.Category = "tourism"
	f.Difficulty = "impossible"

	fields, ok := AsValidation(f.Validate())
	require.True(t, ok)
	assert.Equal(t, ErrInvalidStatus.Message, fields["status"])
	assert.Equal(t, ErrInvalidPriority.Message, fields["priority"])
	assert.Equal(t, ErrInvalidCategory.Message, fields["category"])
	assert.Equal(t, ErrInvalidDifficulty.Message, fields["difficulty"])
}

func TestTaskForm_EmptyEnumsDefault(t *testing.T) {
	f := TaskForm{Title: "t", SubjectType: "s", Location: "l"}
	require.NoError(t, f.Validate())

	f.ApplyDefaults()
	assert.Equal(t, StatusPending, f.Status)
	assert.Equal(t, PriorityMedium, f.Priority)
	assert.Equal(t, CategoryReconnaissance, f.Category)
	assert.Equal(t, DifficultyMedium, f.Difficulty)
}

func TestTaskPatch_ValidateOnlyPresentFields(t *testing.T) {
	status := StatusCompleted
	p := TaskPatch{Status: &status}
	assert.NoError(t, p.Validate())
	assert.False(t, p.Empty())

	blank := " "
	bad := Status("done")
	p = TaskPatch{Location: &blank, Status: &bad}
	fields, ok := AsValidation(p.Validate())
	require.True(t, ok)
	assert.Contains(t, fields, "location")
	assert.Contains(t, fields, "status")

	assert.True(t, (&TaskPatch{}).Empty())
}

func TestStatus_Next(t *testing.T) {
	assert.Equal(t, StatusInProgress, StatusPending.Next())
	assert.Equal(t, StatusCompleted, StatusInProgress.Next())
	assert.Equal(t, StatusCompleted, StatusCompleted.Next())
	assert.Equal(t, StatusCompleted, StatusCompleted.Next().Next())
	assert.Equal(t, StatusPending, StatusFailed.Next())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" completed ")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	_, err = ParseStatus("Completed")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = ParsePriority("urgent!")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestTask_Normalize(t *testing.T) {
	task := Task{Status: "zombie", Priority: PriorityHigh, Category: "", Difficulty: DifficultyHard}
	fixed := task.Normalize()

	assert.Equal(t, []string{"status", "category"}, fixed)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, PriorityHigh, task.Priority)
	assert.Equal(t, CategoryReconnaissance, task.Category)
}

func TestAssigneeRef_JSON(t *testing.T) {
	var task Task
	require.NoError(t, json.Unmarshal([]byte(`{"assignee":"hunter-7"}`), &task))
	require.NotNil(t, task.Assignee)
	assert.Equal(t, "hunter-7", task.Assignee.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"assignee":{"id":"hunter-9","name":"Mika"}}`), &task))
	assert.Equal(t, AssigneeRef{ID: "hunter-9", Name: "Mika"}, *task.Assignee)

	out, err := json.Marshal(AssigneeRef{ID: "hunter-7"})
	require.NoError(t, err)
	assert.JSONEq(t, `"hunter-7"`, string(out))
}

func TestStats(t *testing.T) {
	var s Stats
	s.Add(StatusPending, 2)
	s.Add(StatusFailed, 1)
	s.Add(Status("bogus"), 1)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Of(StatusPending))
	assert.Equal(t, 1, s.Of(StatusFailed))
	assert.True(t, s.Consistent())

	s.Total++
	assert.False(t, s.Consistent())
}

func TestValidationError_Message(t *testing.T) {
	err := FieldErrors{"title": "title is required", "location": "location is required"}.Err()
	assert.EqualError(t, err, "validation failed: location: location is required; title: title is required")
	assert.NoError(t, FieldErrors{}.Err())
}

func TestTaskForm_PatchClearsEmptyOptionalFields(t *testing.T) {
	f := validForm()
	reward := 12.5
	f.RewardValue = &reward

	p := f.Patch()
	assert.True(t, p.Replace)
	assert.False(t, p.Empty())
	assert.ElementsMatch(t, []string{"estimatedDuration", "dueDate", "assignee"}, p.Cleared())

	status := StatusFailed
	assert.Nil(t, (&TaskPatch{Status: &status}).Cleared(), "partial patches never clear")
}

func TestDate_JSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2026-05-01"`), &d))
	assert.True(t, d.Equal(NewDate(2026, time.May, 1).Time))
	assert.True(t, d.DayOnly())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-05-01"`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`"2026-05-01T09:30:00+09:00"`), &d))
	assert.False(t, d.DayOnly())
	assert.True(t, d.Equal(time.Date(2026, time.May, 1, 0, 30, 0, 0, time.UTC)))

	assert.Error(t, json.Unmarshal([]byte(`"next tuesday"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`20260501`), &d))
}

func TestTask_DueDateOnlyRoundTrip(t *testing.T) {
	var task Task
	require.NoError(t, json.Unmarshal([]byte(`{"id":"k1","dueDate":"2026-05-01"}`), &task))
	require.NotNil(t, task.DueDate)
	assert.Equal(t, 2026, task.DueDate.Year())

	out, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"dueDate":"2026-05-01"`)
}
