package series

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/store"
)

func testStore(t *testing.T) *store.SQLStore {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return store.NewSQLStore(db, nil)
}

func testManager(t *testing.T, now time.Time) (*Manager, store.Store, *dates.FixedClock) {
	t.Helper()

	s := testStore(t)
	clk := &dates.FixedClock{T: now}
	return NewManager(s, WithClock(clk), WithLocation(time.UTC)), s, clk
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func morning(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func assertDue(t *testing.T, want time.Time, task *Task) {
	t.Helper()
	require.NotNil(t, task)
	require.NotNil(t, task.DueDate, "task %s has no due date", task.ID)
	assert.True(t, want.Equal(*task.DueDate), "due %s, want %s",
		task.DueDate.Format(time.RFC3339), want.Format(time.RFC3339))
}

func create(t *testing.T, m *Manager, due string, rule recurrence.Rule) *Result {
	t.Helper()
	res, err := m.CreateSeries(context.Background(), CreateSeriesInput{
		Name:    "Water plants",
		Notes:   "Use the <b>blue</b> can & check soil",
		Urgency: 2,
		Tags:    []string{"home", "garden", "home"},
		DueDate: due,
		Rule:    rule,
	})
	require.NoError(t, err)
	return res
}

func openOccurrences(t *testing.T, s store.Store, seriesID string) []store.Record {
	t.Helper()
	recs, err := s.Select(context.Background(), store.Tasks, store.Where(openFilters(seriesID)...))
	require.NoError(t, err)
	return recs
}

func storedRule(t *testing.T, m *Manager, seriesID string) recurrence.Rule {
	t.Helper()
	template, err := m.repo.template(context.Background(), seriesID)
	require.NoError(t, err)
	rule, err := recurrence.Decode(template.Rule)
	require.NoError(t, err)
	return rule
}

func mwf() recurrence.Rule {
	return recurrence.Rule{
		Frequency: recurrence.Weekly,
		Interval:  1,
		Weekdays:  []recurrence.Weekday{recurrence.Monday, recurrence.Wednesday, recurrence.Friday},
	}
}

func TestCreateSeries(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 1))

	res := create(t, m, "2025-02-03", mwf())

	assert.Equal(t, OutcomeSeriesCreated, res.Outcome)
	assert.Equal(t, StatusActive, res.Status)

	template := res.Template
	require.NotNil(t, template)
	assert.True(t, template.IsTemplate)
	assert.Equal(t, StatusActive, template.Status)
	assert.Equal(t, "Every Mon, Wed, Fri", template.Summary)
	assert.Equal(t, "Use the blue can & check soil", template.Notes)
	assert.Equal(t, []string{"home", "garden"}, template.Tags)
	assertDue(t, day(2025, 2, 3), template)

	first := res.Task
	require.NotNil(t, first)
	assert.False(t, first.IsTemplate)
	assert.Equal(t, template.ID, first.ParentID)
	assert.Equal(t, template.SeriesID, first.SeriesID)
	assert.Equal(t, 1, first.OccurrenceIndex)
	assert.Equal(t, 2, first.Urgency)
	assert.Equal(t, "Every Mon, Wed, Fri", first.Summary)
	assertDue(t, day(2025, 2, 3), first)

	loaded, err := m.repo.task(context.Background(), first.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"home", "garden"}, loaded.Tags)

	assert.Equal(t, 1, storedRule(t, m, template.SeriesID).OccurrencesGenerated)
	assert.Len(t, openOccurrences(t, s, template.SeriesID), 1)
}

func TestCreateSeries_RelativeDueDate(t *testing.T) {
	m, _, _ := testManager(t, time.Date(2025, 2, 3, 22, 30, 0, 0, time.UTC))

	res := create(t, m, "Tomorrow", recurrence.Rule{Frequency: recurrence.Daily})
	assertDue(t, day(2025, 2, 4), res.Task)
}

func TestCreateSeries_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    CreateSeriesInput
		field string
	}{
		{
			name:  "missing name",
			in:    CreateSeriesInput{DueDate: "2025-02-03", Rule: mwf()},
			field: "name",
		},
		{
			name:  "missing due date",
			in:    CreateSeriesInput{Name: "x", Rule: mwf()},
			field: "dueDate",
		},
		{
			name:  "unparseable due date",
			in:    CreateSeriesInput{Name: "x", DueDate: "next blue moon", Rule: mwf()},
			field: "dueDate",
		},
		{
			name:  "missing frequency",
			in:    CreateSeriesInput{Name: "x", DueDate: "2025-02-03"},
			field: "rule",
		},
		{
			name:  "urgency out of range",
			in:    CreateSeriesInput{Name: "x", DueDate: "2025-02-03", Urgency: 7, Rule: mwf()},
			field: "urgency",
		},
		{
			name: "end date before first due date",
			in: CreateSeriesInput{Name: "x", DueDate: "2025-02-03", Rule: recurrence.Rule{
				Frequency: recurrence.Daily,
				End:       recurrence.OnDate{Date: day(2025, 1, 31)},
			}},
			field: "rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, _ := testManager(t, morning(2025, 2, 1))

			_, err := m.CreateSeries(context.Background(), tt.in)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			recs, err := s.Select(context.Background(), store.Tasks, store.Query{})
			require.NoError(t, err)
			assert.Empty(t, recs, "validation failures must not write")
		})
	}
}

func TestComplete_WeeklyNextIsSameWeekWednesday(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	created := create(t, m, "2025-02-03", mwf())

	res, err := m.Complete(context.Background(), created.Task.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNextCreated, res.Outcome)
	assert.True(t, res.Task.Completed)
	require.NotNil(t, res.Task.CompletedAt)

	next := res.Next
	assertDue(t, day(2025, 2, 5), next)
	assert.Equal(t, 2, next.OccurrenceIndex)
	assert.Equal(t, "Water plants", next.Name)
	assert.Equal(t, "Use the blue can & check soil", next.Notes)
	assert.Equal(t, 2, next.Urgency)
	assert.ElementsMatch(t, []string{"home", "garden"}, next.Tags)

	assert.Equal(t, 2, storedRule(t, m, created.Template.SeriesID).OccurrencesGenerated)

	open := openOccurrences(t, s, created.Template.SeriesID)
	require.Len(t, open, 1)
	assert.Equal(t, next.ID, open[0]["id"])
}

func TestComplete_MonthlyDay31ClampsToFebruary(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 1, 31))
	created := create(t, m, "2025-01-31", recurrence.Rule{
		Frequency: recurrence.Monthly,
		Monthly:   recurrence.DayOfMonth{Day: 31},
	})

	res, err := m.Complete(context.Background(), created.Task.ID)
	require.NoError(t, err)
	assertDue(t, day(2025, 2, 28), res.Next)
}

func TestComplete_Anchors(t *testing.T) {
	t.Run("completion anchor uses the completion day", func(t *testing.T) {
		m, _, clk := testManager(t, morning(2025, 1, 1))
		created := create(t, m, "2025-01-01", recurrence.Rule{
			Frequency: recurrence.Daily,
			Anchor:    recurrence.AnchorCompletion,
		})

		clk.T = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
		res, err := m.Complete(context.Background(), created.Task.ID)
		require.NoError(t, err)
		assertDue(t, day(2025, 1, 11), res.Next)
	})

	t.Run("scheduled anchor catches up to today", func(t *testing.T) {
		m, _, clk := testManager(t, morning(2025, 1, 1))
		created := create(t, m, "2025-01-01", recurrence.Rule{Frequency: recurrence.Daily})

		clk.T = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
		res, err := m.Complete(context.Background(), created.Task.ID)
		require.NoError(t, err)
		assertDue(t, day(2025, 1, 10), res.Next)
	})
}

func TestComplete_KeepsWeekdayInFarTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+13", 13*60*60)
	s := testStore(t)
	clk := &dates.FixedClock{T: time.Date(2025, 2, 3, 8, 0, 0, 0, loc)}
	m := NewManager(s, WithClock(clk), WithLocation(loc))

	created := create(t, m, "2025-02-03", mwf())
	res, err := m.Complete(context.Background(), created.Task.ID)
	require.NoError(t, err)

	require.NotNil(t, res.Next.DueDate)
	assert.Equal(t, time.Wednesday, res.Next.DueDate.Weekday())
	assert.Equal(t, 5, res.Next.DueDate.Day())
}

func TestComplete_Twice(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 2, 3))
	created := create(t, m, "2025-02-03", mwf())

	_, err := m.Complete(context.Background(), created.Task.ID)
	require.NoError(t, err)

	_, err = m.Complete(context.Background(), created.Task.ID)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestComplete_PlainTask(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()

	now := morning(2025, 2, 1)
	_, err := s.Insert(ctx, store.Tasks, (&Task{ID: "plain", Name: "Call mom", CreatedAt: now, UpdatedAt: now}).record())
	require.NoError(t, err)

	res, err := m.Complete(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.True(t, res.Task.Completed)
	assert.Nil(t, res.Next)

	_, err = m.Skip(ctx, "plain")
	assert.ErrorIs(t, err, ErrNotRecurring)

	_, err = m.Complete(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestComplete_Template(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 2, 3))
	created := create(t, m, "2025-02-03", mwf())

	_, err := m.Complete(context.Background(), created.Template.ID)
	assert.ErrorIs(t, err, ErrNotRecurring)

	_, err = m.Delete(context.Background(), created.Template.ID, false)
	assert.ErrorIs(t, err, ErrNotRecurring)
}

func TestComplete_AfterOccurrencesEndsSeries(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", recurrence.Rule{
		Frequency: recurrence.Daily,
		End:       recurrence.AfterOccurrences{Count: 2},
	})

	res, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNextCreated, res.Outcome)

	res, err = m.Complete(ctx, res.Next.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSeriesEnded, res.Outcome)
	assert.Equal(t, StatusEnded, res.Status)
	assert.Equal(t, StatusEnded, res.Template.Status)
	assert.Nil(t, res.Next)
	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))
}

func TestComplete_OnDateEndsSeries(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 12, 15))
	created := create(t, m, "2025-12-15", recurrence.Rule{
		Frequency: recurrence.Monthly,
		Monthly:   recurrence.DayOfMonth{Day: 15},
		End:       recurrence.OnDate{Date: day(2025, 12, 31)},
	})

	res, err := m.Complete(context.Background(), created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSeriesEnded, res.Outcome)
	assert.Equal(t, StatusEnded, res.Template.Status)
	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))
}

func TestSkip_AnchorsOnDueDate(t *testing.T) {
	m, _, clk := testManager(t, morning(2025, 2, 3))
	created := create(t, m, "2025-02-03", recurrence.Rule{
		Frequency: recurrence.Weekly,
		Anchor:    recurrence.AnchorCompletion,
	})

	clk.T = morning(2025, 2, 5)
	res, err := m.Skip(context.Background(), created.Task.ID)
	require.NoError(t, err)

	assert.True(t, res.Task.Skipped)
	assert.False(t, res.Task.Completed)
	assert.Equal(t, OutcomeNextCreated, res.Outcome)
	assertDue(t, day(2025, 2, 10), res.Next)

	_, err = m.Skip(context.Background(), created.Task.ID)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestSkip_CompletionAnchoredSkipsCatchUp(t *testing.T) {
	m, _, clk := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	completion := create(t, m, "2025-02-03", recurrence.Rule{
		Frequency: recurrence.Weekly,
		Anchor:    recurrence.AnchorCompletion,
	})
	scheduled := create(t, m, "2025-02-03", recurrence.Rule{
		Frequency: recurrence.Weekly,
	})

	clk.T = morning(2025, 2, 20)

	res, err := m.Skip(ctx, completion.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextCreated, res.Outcome)
	assertDue(t, day(2025, 2, 10), res.Next)

	res, err = m.Skip(ctx, scheduled.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextCreated, res.Outcome)
	assertDue(t, day(2025, 2, 24), res.Next)
}

func TestDelete_OpenOccurrenceCreatesNext(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	created := create(t, m, "2025-02-03", mwf())

	res, err := m.Delete(context.Background(), created.Task.ID, false)
	require.NoError(t, err)

	assert.True(t, res.Task.Deleted)
	require.NotNil(t, res.Task.DeletedAt)
	assert.Equal(t, OutcomeNextCreated, res.Outcome)
	assertDue(t, day(2025, 2, 5), res.Next)
	assert.Len(t, openOccurrences(t, s, created.Template.SeriesID), 1)
}

func TestDelete_ClosedOccurrenceHasNoSideEffects(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	completed, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)

	res, err := m.Delete(ctx, created.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)

	open := openOccurrences(t, s, created.Template.SeriesID)
	require.Len(t, open, 1)
	assert.Equal(t, completed.Next.ID, open[0]["id"])
}

func TestDelete_Permanent(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	res, err := m.Delete(ctx, created.Task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.Nil(t, res.Next)

	_, err = m.repo.task(ctx, created.Task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tags, err := s.Select(ctx, store.TaskTags, store.Where(store.Eq("task_id", created.Task.ID)))
	require.NoError(t, err)
	assert.Empty(t, tags)

	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))
	assert.Equal(t, 1, storedRule(t, m, created.Template.SeriesID).OccurrencesGenerated)
}

func TestPauseResume_NoDuplicateOccurrence(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	paused, err := m.Pause(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Equal(t, StatusPaused, paused.Template.Status)

	resumed, err := m.Resume(ctx, created.Template.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Equal(t, OutcomeAlreadyOpen, resumed.Outcome)

	open := openOccurrences(t, s, created.Template.SeriesID)
	require.Len(t, open, 1)
	assert.Equal(t, created.Task.ID, open[0]["id"])
}

func TestPauseResume_ResumeMaterializesNext(t *testing.T) {
	m, s, clk := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	_, err := m.Pause(ctx, created.Template.ID)
	require.NoError(t, err)

	completed, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSeriesInactive, completed.Outcome)
	assert.Nil(t, completed.Next)
	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))

	clk.T = morning(2025, 2, 12)
	resumed, err := m.Resume(ctx, created.Template.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextCreated, resumed.Outcome)
	assertDue(t, day(2025, 2, 14), resumed.Next)
	assert.Len(t, openOccurrences(t, s, created.Template.SeriesID), 1)
}

func TestInvalidTransitions(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())
	id := created.Template.ID

	_, err := m.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ended, err := m.End(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)

	_, err = m.Pause(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.End(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.UpdateRule(ctx, id, recurrence.Rule{Frequency: recurrence.Daily})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEnd_StopsGeneration(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	_, err := m.End(ctx, created.Task.ID)
	require.NoError(t, err)

	res, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSeriesInactive, res.Outcome)
	assert.Equal(t, StatusEnded, res.Status)
	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))
}

func TestSeriesOperations_NotInSeries(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()

	now := morning(2025, 2, 1)
	_, err := s.Insert(ctx, store.Tasks, (&Task{ID: "plain", Name: "Call mom", CreatedAt: now, UpdatedAt: now}).record())
	require.NoError(t, err)

	for _, id := range []string{"plain", "missing"} {
		_, err = m.Pause(ctx, id)
		assert.ErrorIs(t, err, ErrNotInSeries, id)
		_, err = m.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotInSeries, id)
	}
}

func TestMalformedRule_IsNoOp(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	_, err := s.Update(ctx, store.Tasks, []store.Filter{store.Eq("id", created.Template.ID)}, store.Record{
		"recurrence_rule": `{"frequency":`,
	})
	require.NoError(t, err)

	res, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err, "completion must succeed despite a broken rule")
	assert.True(t, res.Task.Completed)
	assert.Equal(t, OutcomeRuleInvalid, res.Outcome)
	assert.NotEmpty(t, res.Warnings)
	assert.Nil(t, res.Next)
	assert.Empty(t, openOccurrences(t, s, created.Template.SeriesID))

	view, err := m.Get(ctx, created.Template.ID)
	require.NoError(t, err)
	assert.Nil(t, view.Rule)
	assert.NotEmpty(t, view.Warnings)
}

func TestUpdateRule(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	_, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)

	res, err := m.UpdateRule(ctx, created.Task.ID, recurrence.Rule{
		Frequency: recurrence.Daily,
		Interval:  2,
		Anchor:    recurrence.AnchorCompletion,
	})
	require.NoError(t, err)

	assert.Equal(t, "Every 2 days after completion", res.Template.Summary)
	require.NotNil(t, res.Next)
	assert.Equal(t, "Every 2 days after completion", res.Next.Summary)

	rule := storedRule(t, m, created.Template.SeriesID)
	assert.Equal(t, recurrence.Daily, rule.Frequency)
	assert.Equal(t, 2, rule.OccurrencesGenerated, "counter carries over")

	_, err = m.UpdateRule(ctx, created.Template.ID, recurrence.Rule{Frequency: recurrence.Weekly, Weekdays: []recurrence.Weekday{9}})
	assert.True(t, IsValidationError(err))
}

func TestGet(t *testing.T) {
	m, _, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	completed, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)

	view, err := m.Get(ctx, completed.Next.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Template.ID, view.Template.ID)
	assert.Equal(t, StatusActive, view.Status)
	assert.Equal(t, "Every Mon, Wed, Fri", view.Summary)
	require.NotNil(t, view.Rule)
	assert.Equal(t, 2, view.Rule.OccurrencesGenerated)

	require.Len(t, view.Occurrences, 2)
	assert.Equal(t, completed.Next.ID, view.Occurrences[0].ID, "newest first")
	require.NotNil(t, view.Open)
	assert.Equal(t, completed.Next.ID, view.Open.ID)

	require.Len(t, view.Upcoming, 3)
	assert.Equal(t, day(2025, 2, 7), view.Upcoming[0])
	assert.Equal(t, day(2025, 2, 10), view.Upcoming[1])
	assert.Equal(t, day(2025, 2, 12), view.Upcoming[2])
}
