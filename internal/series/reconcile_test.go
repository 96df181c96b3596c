package series

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/store"
)

// faultyStore wraps a store to inject failures and interleavings.
type faultyStore struct {
	store.Store

	mu sync.Mutex

	// failTaskInserts makes inserts into the tasks collection fail.
	failTaskInserts bool

	// hideOpen makes the next n open-occurrence lookups report nothing.
	hideOpen int

	// afterUpdate runs once, after the next successful update that closes a task.
	afterUpdate func()
}

func (f *faultyStore) Select(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	f.mu.Lock()
	hide := false
	if f.hideOpen > 0 && isOpenLookup(q) {
		f.hideOpen--
		hide = true
	}
	f.mu.Unlock()

	if hide {
		return nil, nil
	}
	return f.Store.Select(ctx, collection, q)
}

func (f *faultyStore) Insert(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	f.mu.Lock()
	fail := f.failTaskInserts && collection == store.Tasks
	f.mu.Unlock()

	if fail {
		return nil, errors.New("backend unavailable")
	}
	return f.Store.Insert(ctx, collection, rec)
}

func (f *faultyStore) Update(ctx context.Context, collection string, filters []store.Filter, patch store.Record) ([]store.Record, error) {
	recs, err := f.Store.Update(ctx, collection, filters, patch)
	if err != nil {
		return nil, err
	}

	_, closing := patch["completed"]
	if !closing {
		return recs, nil
	}

	f.mu.Lock()
	hook := f.afterUpdate
	f.afterUpdate = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return recs, nil
}

func isOpenLookup(q store.Query) bool {
	for _, f := range q.Filters {
		if f.Field == "skipped" {
			return true
		}
	}
	return false
}

func faultyManager(t *testing.T, now time.Time) (*Manager, *faultyStore, *dates.FixedClock) {
	t.Helper()

	fs := &faultyStore{Store: testStore(t)}
	clk := &dates.FixedClock{T: now}
	return NewManager(fs, WithClock(clk), WithLocation(time.UTC)), fs, clk
}

func TestReconcile_RepairsMissingOccurrence(t *testing.T) {
	m, fs, clk := faultyManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	fs.failTaskInserts = true
	_, err := m.Complete(ctx, created.Task.ID)
	require.Error(t, err, "store failure propagates")
	fs.failTaskInserts = false

	completed, err := m.repo.task(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.True(t, completed.Completed, "no rollback of the completed occurrence")
	assert.Empty(t, openOccurrences(t, fs, created.Template.SeriesID))

	clk.T = morning(2025, 2, 4)
	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.Failed)

	open := openOccurrences(t, fs, created.Template.SeriesID)
	require.Len(t, open, 1)
	repaired := taskFromRecord(open[0], time.UTC)
	assertDue(t, day(2025, 2, 5), repaired)
	assert.Equal(t, 2, repaired.OccurrenceIndex)
	assert.Equal(t, 2, storedRule(t, m, created.Template.SeriesID).OccurrencesGenerated,
		"counter saved before the failed insert is not counted twice")

	report, err = m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repaired, "second sweep finds nothing to do")
}

func TestReconcile_LeavesPermanentDeleteAlone(t *testing.T) {
	m, fs, clk := faultyManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", recurrence.Rule{Frequency: recurrence.Daily, Interval: 1})

	_, err := m.Delete(ctx, created.Task.ID, true)
	require.NoError(t, err)
	require.Empty(t, openOccurrences(t, fs, created.Template.SeriesID))

	clk.T = morning(2025, 2, 4)
	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Zero(t, report.Repaired)
	assert.Empty(t, openOccurrences(t, fs, created.Template.SeriesID), "purged occurrence stays gone")

	template, err := m.repo.template(ctx, created.Template.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, template.Status)
	assert.False(t, template.NeedsRepair)
}

func TestReconcile_FlagLifecycle(t *testing.T) {
	m, fs, _ := faultyManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())
	assert.False(t, created.Template.NeedsRepair, "cleared once the first occurrence exists")

	res, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNextCreated, res.Outcome)

	template, err := m.repo.template(ctx, created.Template.SeriesID)
	require.NoError(t, err)
	assert.False(t, template.NeedsRepair, "cleared after a completed step")

	fs.failTaskInserts = true
	_, err = m.Delete(ctx, res.Next.ID, false)
	require.Error(t, err)
	fs.failTaskInserts = false

	template, err = m.repo.template(ctx, created.Template.SeriesID)
	require.NoError(t, err)
	assert.True(t, template.NeedsRepair, "interrupted step stays flagged")

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	template, err = m.repo.template(ctx, created.Template.SeriesID)
	require.NoError(t, err)
	assert.False(t, template.NeedsRepair)
}

func TestReconcile_SkipsInactiveAndMalformed(t *testing.T) {
	m, fs, _ := faultyManager(t, morning(2025, 2, 3))
	ctx := context.Background()

	paused := create(t, m, "2025-02-03", mwf())
	_, err := m.Pause(ctx, paused.Template.ID)
	require.NoError(t, err)
	_, err = m.Complete(ctx, paused.Task.ID)
	require.NoError(t, err)

	broken := create(t, m, "2025-02-03", mwf())
	_, err = fs.Update(ctx, store.Tasks, []store.Filter{store.Eq("id", broken.Template.ID)}, store.Record{
		"recurrence_rule": "not json",
	})
	require.NoError(t, err)
	_, err = m.Complete(ctx, broken.Task.ID)
	require.NoError(t, err)

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked, "paused series are not swept")
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Repaired)
}

func TestAdvance_LosingInsertIsAlreadyOpen(t *testing.T) {
	m, fs, _ := faultyManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	var rival *Task
	fs.afterUpdate = func() {
		now := morning(2025, 2, 3)
		due := day(2025, 2, 5)
		var err error
		rival, err = m.repo.insert(ctx, &Task{
			ID:              "rival",
			Name:            "Water plants",
			DueDate:         &due,
			SeriesID:        created.Template.SeriesID,
			ParentID:        created.Template.ID,
			OccurrenceIndex: 2,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		require.NoError(t, err)
	}
	fs.hideOpen = 1

	res, err := m.Complete(ctx, created.Task.ID)
	require.NoError(t, err)
	require.NotNil(t, rival)

	assert.Equal(t, OutcomeAlreadyOpen, res.Outcome)
	require.NotNil(t, res.Next)
	assert.Equal(t, "rival", res.Next.ID)
	assert.Equal(t, 1, storedRule(t, m, created.Template.SeriesID).OccurrencesGenerated, "counter restored")

	open := openOccurrences(t, fs, created.Template.SeriesID)
	require.Len(t, open, 1)
	assert.Equal(t, "rival", open[0]["id"])
}

func TestConcurrentCompletion(t *testing.T) {
	m, s, _ := testManager(t, morning(2025, 2, 3))
	ctx := context.Background()
	created := create(t, m, "2025-02-03", mwf())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Complete(ctx, created.Task.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, openOccurrences(t, s, created.Template.SeriesID), 1)
	assert.Equal(t, 2, storedRule(t, m, created.Template.SeriesID).OccurrencesGenerated)
	assert.Zero(t, m.locks.size(), "locks are released")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()

	assert.Zero(t, k.size())
}
