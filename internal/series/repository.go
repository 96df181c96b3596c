package series

import (
	"context"
	"fmt"
	"time"

	"github.com/watzon/cadence/internal/store"
)

// repository maps tasks onto the record store.
type repository struct {
	store store.Store
	loc   *time.Location
}

func openFilters(seriesID string) []store.Filter {
	return []store.Filter{
		store.Eq("series_id", seriesID),
		store.Eq("is_template", false),
		store.Eq("completed", false),
		store.Eq("skipped", false),
		store.Eq("deleted", false),
	}
}

func (r *repository) task(ctx context.Context, id string) (*Task, error) {
	recs, err := r.store.Select(ctx, store.Tasks, store.Where(store.Eq("id", id)).First(1))
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, ErrTaskNotFound
	}

	t := taskFromRecord(recs[0], r.loc)
	if t.Tags, err = r.tags(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// template loads the template of a series. A series without one is reported as
// ErrNotInSeries.
func (r *repository) template(ctx context.Context, seriesID string) (*Task, error) {
	recs, err := r.store.Select(ctx, store.Tasks, store.Where(
		store.Eq("series_id", seriesID),
		store.Eq("is_template", true),
	).First(1))
	if err != nil {
		return nil, fmt.Errorf("loading template for series %s: %w", seriesID, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotInSeries
	}

	t := taskFromRecord(recs[0], r.loc)
	if t.Tags, err = r.tags(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// openOccurrence returns the open occurrence of a series, or nil when there is none.
func (r *repository) openOccurrence(ctx context.Context, seriesID string) (*Task, error) {
	recs, err := r.store.Select(ctx, store.Tasks, store.Where(openFilters(seriesID)...).First(1))
	if err != nil {
		return nil, fmt.Errorf("checking open occurrence for series %s: %w", seriesID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return taskFromRecord(recs[0], r.loc), nil
}

// occurrences lists a series' occurrences, newest first. limit <= 0 means all.
func (r *repository) occurrences(ctx context.Context, seriesID string, limit int) ([]*Task, error) {
	q := store.Where(
		store.Eq("series_id", seriesID),
		store.Eq("is_template", false),
	).Sorted("-occurrence_index").First(limit)

	recs, err := r.store.Select(ctx, store.Tasks, q)
	if err != nil {
		return nil, fmt.Errorf("listing occurrences for series %s: %w", seriesID, err)
	}

	tasks := make([]*Task, len(recs))
	for i, rec := range recs {
		tasks[i] = taskFromRecord(rec, r.loc)
	}
	return tasks, nil
}

func (r *repository) latestOccurrence(ctx context.Context, seriesID string) (*Task, error) {
	tasks, err := r.occurrences(ctx, seriesID, 1)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// flaggedTemplates lists the templates of active series marked as needing repair.
func (r *repository) flaggedTemplates(ctx context.Context) ([]*Task, error) {
	recs, err := r.store.Select(ctx, store.Tasks, store.Where(
		store.Eq("is_template", true),
		store.Eq("needs_repair", true),
		store.Eq("recurrence_status", string(StatusActive)),
	).Sorted("created_at"))
	if err != nil {
		return nil, fmt.Errorf("listing templates needing repair: %w", err)
	}

	tasks := make([]*Task, len(recs))
	for i, rec := range recs {
		tasks[i] = taskFromRecord(rec, r.loc)
	}
	return tasks, nil
}

// markRepair sets or clears the needs_repair flag on a series template.
func (r *repository) markRepair(ctx context.Context, seriesID string, needed bool) error {
	_, err := r.store.Update(ctx, store.Tasks, []store.Filter{
		store.Eq("series_id", seriesID),
		store.Eq("is_template", true),
	}, store.Record{"needs_repair": needed})
	if err != nil {
		return fmt.Errorf("flagging series %s: %w", seriesID, err)
	}
	return nil
}

func (r *repository) tags(ctx context.Context, taskID string) ([]string, error) {
	recs, err := r.store.Select(ctx, store.TaskTags, store.Where(store.Eq("task_id", taskID)).Sorted("tag"))
	if err != nil {
		return nil, fmt.Errorf("loading tags for %s: %w", taskID, err)
	}

	tags := make([]string, len(recs))
	for i, rec := range recs {
		tags[i] = asString(rec["tag"])
	}
	return tags, nil
}

// insert writes t and its tag rows, returning the stored task.
func (r *repository) insert(ctx context.Context, t *Task) (*Task, error) {
	rec, err := r.store.Insert(ctx, store.Tasks, t.record())
	if err != nil {
		return nil, err
	}

	stored := taskFromRecord(rec, r.loc)
	for _, tag := range t.Tags {
		if _, err := r.store.Insert(ctx, store.TaskTags, store.Record{"task_id": stored.ID, "tag": tag}); err != nil {
			return nil, fmt.Errorf("tagging %s: %w", stored.ID, err)
		}
	}
	stored.Tags = t.Tags
	return stored, nil
}

// update patches the task with the given id when every extra filter also matches. It
// returns nil when nothing matched.
func (r *repository) update(ctx context.Context, id string, patch store.Record, where ...store.Filter) (*Task, error) {
	filters := append([]store.Filter{store.Eq("id", id)}, where...)

	recs, err := r.store.Update(ctx, store.Tasks, filters, patch)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return taskFromRecord(recs[0], r.loc), nil
}

// remove physically deletes a task and its tag rows.
func (r *repository) remove(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, store.TaskTags, []store.Filter{store.Eq("task_id", id)}); err != nil {
		return fmt.Errorf("removing tags of %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, store.Tasks, []store.Filter{store.Eq("id", id)}); err != nil {
		return fmt.Errorf("removing task %s: %w", id, err)
	}
	return nil
}
