package store

import (
	"context"
	"fmt"

	"github.com/watzon/cadence/internal/database"
)

// SQLStore implements Store over the SQLite database. Only collections and columns
// named in its Schema are reachable.
type SQLStore struct {
	db     *database.DB
	schema Schema
}

func NewSQLStore(db *database.DB, schema Schema) *SQLStore {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &SQLStore{db: db, schema: schema}
}

func (s *SQLStore) Select(ctx context.Context, collection string, q Query) ([]Record, error) {
	c, err := s.schema.collection(collection)
	if err != nil {
		return nil, err
	}
	return s.selectWith(ctx, s.db, c, q)
}

func (s *SQLStore) selectWith(ctx context.Context, db database.Querier, c Collection, q Query) ([]Record, error) {
	filters, err := c.filters(q.Filters)
	if err != nil {
		return nil, err
	}

	qb := database.NewQuery(c.Table).Filters(filters...)
	if q.OrderBy != "" {
		field, order := parseOrder(q.OrderBy)
		if _, err := c.column(field); err != nil {
			return nil, err
		}
		qb.Sort(field, order)
	}
	if q.Limit > 0 {
		qb.Limit(q.Limit)
	}

	rows, err := database.QueryRows(ctx, db, qb)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", c.Table, err)
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = c.decodeRow(row)
	}
	return records, nil
}

func (s *SQLStore) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	c, err := s.schema.collection(collection)
	if err != nil {
		return nil, err
	}

	values, err := c.values(rec)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("inserting into %s: empty record", c.Table)
	}

	query, args := database.NewInsert(c.Table).SetMap(values).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", c.Table, database.ClassifyError(err))
	}

	if c.Key == "" || rec[c.Key] == nil {
		return rec.Clone(), nil
	}

	stored, err := s.selectWith(ctx, s.db, c, Where(Eq(c.Key, rec[c.Key])))
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return rec.Clone(), nil
	}
	return stored[0], nil
}

// Update applies patch to every record matching filters. The matching keys are resolved
// first so the returned records are exactly the ones that were changed, even when the
// patch alters a filtered column.
func (s *SQLStore) Update(ctx context.Context, collection string, filters []Filter, patch Record) ([]Record, error) {
	c, err := s.schema.collection(collection)
	if err != nil {
		return nil, err
	}
	if c.Key == "" {
		return nil, fmt.Errorf("updating %s: %w", c.Table, ErrNoKey)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("updating %s: %w", c.Table, ErrUnfiltered)
	}

	values, err := c.values(patch)
	if err != nil {
		return nil, err
	}

	var updated []Record
	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		matched, err := s.selectWith(ctx, tx, c, Where(filters...))
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return nil
		}

		keys := make([]string, len(matched))
		for i, rec := range matched {
			keys[i] = fmt.Sprint(rec[c.Key])
		}
		byKey := In(c.Key, keys...)

		if len(values) > 0 {
			query, args := database.NewUpdate(c.Table).SetMap(values).Filters(byKey).Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("updating %s: %w", c.Table, database.ClassifyError(err))
			}
		}

		updated, err = s.selectWith(ctx, tx, c, Where(byKey).Sorted(c.Key))
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection string, filters []Filter) error {
	c, err := s.schema.collection(collection)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return fmt.Errorf("deleting from %s: %w", c.Table, ErrUnfiltered)
	}

	encoded, err := c.filters(filters)
	if err != nil {
		return err
	}

	query, args := database.NewDelete(c.Table).Filters(encoded...).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", c.Table, database.ClassifyError(err))
	}
	return nil
}

func (c Collection) filters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		if _, err := c.column(f.Field); err != nil {
			return nil, err
		}
		if f.Op != "" && !f.Op.Valid() {
			return nil, fmt.Errorf("unsupported filter operator %q on %s", f.Op, f.Field)
		}
		f.Value = encode(f.Value)
		out[i] = f
	}
	return out, nil
}

func (c Collection) values(rec Record) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for field, v := range rec {
		if _, err := c.column(field); err != nil {
			return nil, err
		}
		out[field] = encode(v)
	}
	return out, nil
}

func (c Collection) decodeRow(row database.Row) Record {
	rec := make(Record, len(row))
	for field, v := range row {
		rec[field] = decode(c.Columns[field], v)
	}
	return rec
}
