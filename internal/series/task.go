package series

import (
	"fmt"
	"time"

	"github.com/watzon/cadence/internal/store"
)

// Status is the lifecycle state of a series, stored on its template.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Task is one row of the tasks collection: a plain task, a series template, or an
// occurrence of a series.
type Task struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Notes           string     `json:"notes,omitempty"`
	Urgency         int        `json:"urgency"`
	Tags            []string   `json:"tags,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Skipped         bool       `json:"skipped"`
	Deleted         bool       `json:"deleted"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
	SeriesID        string     `json:"seriesId,omitempty"`
	IsTemplate      bool       `json:"isTemplate"`
	ParentID        string     `json:"parentId,omitempty"`
	Rule            string     `json:"-"`
	Status          Status     `json:"recurrenceStatus,omitempty"`
	Summary         string     `json:"recurrenceSummary,omitempty"`
	OccurrenceIndex int        `json:"occurrenceIndex,omitempty"`
	NeedsRepair     bool       `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// InSeries reports whether the task belongs to a recurring series.
func (t *Task) InSeries() bool {
	return t.SeriesID != ""
}

// IsOpen reports whether t is the live occurrence of its series.
func (t *Task) IsOpen() bool {
	return !t.IsTemplate && !t.Completed && !t.Skipped && !t.Deleted
}

// closed reports whether the task can no longer be completed, skipped or deleted.
func (t *Task) closed() bool {
	return t.Completed || t.Skipped || t.Deleted
}

func (t *Task) record() store.Record {
	rec := store.Record{
		"id":               t.ID,
		"name":             t.Name,
		"notes":            t.Notes,
		"urgency":          t.Urgency,
		"due_date":         t.DueDate,
		"completed":        t.Completed,
		"completed_at":     t.CompletedAt,
		"skipped":          t.Skipped,
		"deleted":          t.Deleted,
		"deleted_at":       t.DeletedAt,
		"is_template":      t.IsTemplate,
		"occurrence_index": t.OccurrenceIndex,
		"needs_repair":     t.NeedsRepair,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
	}
	setOptional(rec, "series_id", t.SeriesID)
	setOptional(rec, "parent_id", t.ParentID)
	setOptional(rec, "recurrence_rule", t.Rule)
	setOptional(rec, "recurrence_status", string(t.Status))
	setOptional(rec, "recurrence_summary", t.Summary)
	return rec
}

func setOptional(rec store.Record, field, value string) {
	if value == "" {
		rec[field] = nil
		return
	}
	rec[field] = value
}

// taskFromRecord converts a stored row. Timestamps are moved into loc so calendar
// arithmetic happens in the configured timezone.
func taskFromRecord(rec store.Record, loc *time.Location) *Task {
	return &Task{
		ID:              asString(rec["id"]),
		Name:            asString(rec["name"]),
		Notes:           asString(rec["notes"]),
		Urgency:         asInt(rec["urgency"]),
		DueDate:         asTime(rec["due_date"], loc),
		Completed:       asBool(rec["completed"]),
		CompletedAt:     asTime(rec["completed_at"], loc),
		Skipped:         asBool(rec["skipped"]),
		Deleted:         asBool(rec["deleted"]),
		DeletedAt:       asTime(rec["deleted_at"], loc),
		SeriesID:        asString(rec["series_id"]),
		IsTemplate:      asBool(rec["is_template"]),
		ParentID:        asString(rec["parent_id"]),
		Rule:            asString(rec["recurrence_rule"]),
		Status:          Status(asString(rec["recurrence_status"])),
		Summary:         asString(rec["recurrence_summary"]),
		OccurrenceIndex: asInt(rec["occurrence_index"]),
		NeedsRepair:     asBool(rec["needs_repair"]),
		CreatedAt:       derefTime(asTime(rec["created_at"], loc)),
		UpdatedAt:       derefTime(asTime(rec["updated_at"], loc)),
	}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val == "1" || val == "true"
	}
	return false
}

func asInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	}
	return 0
}

func asTime(v any, loc *time.Location) *time.Time {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return nil
		}
		t = *val
	case string:
		parsed, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.In(loc)
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
