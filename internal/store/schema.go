package store

import (
	"fmt"
	"time"
)

type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Bool
	Timestamp
)

// Collection describes one table. Key names the column that identifies a row; it may be
// empty for junction tables.
type Collection struct {
	Table   string
	Key     string
	Columns map[string]ColumnType
}

type Schema map[string]Collection

const (
	Tasks    = "tasks"
	TaskTags = "task_tags"
)

// DefaultSchema describes the tables created by the embedded migrations.
func DefaultSchema() Schema {
	return Schema{
		Tasks: {
			Table: "tasks",
			Key:   "id",
			Columns: map[string]ColumnType{
				"id":                 Text,
				"name":               Text,
				"notes":              Text,
				"urgency":            Integer,
				"due_date":           Timestamp,
				"completed":          Bool,
				"completed_at":       Timestamp,
				"skipped":            Bool,
				"deleted":            Bool,
				"deleted_at":         Timestamp,
				"series_id":          Text,
				"is_template":        Bool,
				"parent_id":          Text,
				"recurrence_rule":    Text,
				"recurrence_status":  Text,
				"recurrence_summary": Text,
				"occurrence_index":   Integer,
				"needs_repair":       Bool,
				"created_at":         Timestamp,
				"updated_at":         Timestamp,
			},
		},
		TaskTags: {
			Table: "task_tags",
			Columns: map[string]ColumnType{
				"task_id": Text,
				"tag":     Text,
			},
		},
	}
}

func (s Schema) collection(name string) (Collection, error) {
	c, ok := s[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

func (c Collection) column(field string) (ColumnType, error) {
	typ, ok := c.Columns[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownField, c.Table, field)
	}
	return typ, nil
}

// encode converts a Go value into what the driver stores.
func encode(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		return val.Format(time.RFC3339)
	}
	return v
}

// decode converts a scanned driver value back into the Go type for typ.
func decode(typ ColumnType, v any) any {
	if v == nil {
		return nil
	}

	switch typ {
	case Bool:
		switch val := v.(type) {
		case int64:
			return val != 0
		case bool:
			return val
		}
	case Integer:
		if val, ok := v.(int64); ok {
			return int(val)
		}
	case Timestamp:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	}
	return v
}
