// Package store defines the record-oriented persistence contract used by the series
// manager, along with its SQLite implementation.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/watzon/cadence/internal/database"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnfiltered        = errors.New("refusing to modify a collection without filters")
	ErrNoKey             = errors.New("collection has no key column")
)

// Record is a single row keyed by column name.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Filter = database.Filter

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: database.OpEq, Value: value}
}

func Ne(field string, value any) Filter {
	return Filter{Field: field, Op: database.OpNe, Value: value}
}

func In(field string, values ...string) Filter {
	return Filter{Field: field, Op: database.OpIn, Value: values}
}

func IsNull(field string) Filter {
	return Filter{Field: field, Op: database.OpIsNull}
}

// Query selects records. OrderBy is a field name, optionally prefixed with "-" for
// descending or "+" for ascending order.
type Query struct {
	Filters []Filter
	OrderBy string
	Limit   int
}

// Where starts a query from filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

func (q Query) Sorted(orderBy string) Query {
	q.OrderBy = orderBy
	return q
}

func (q Query) First(n int) Query {
	q.Limit = n
	return q
}

// Store is the persistence contract. Update returns the records as they are after the
// patch is applied.
type Store interface {
	Select(ctx context.Context, collection string, q Query) ([]Record, error)
	Insert(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection string, filters []Filter, patch Record) ([]Record, error)
	Delete(ctx context.Context, collection string, filters []Filter) error
}

func parseOrder(s string) (string, database.SortOrder) {
	if strings.HasPrefix(s, "-") {
		return s[1:], database.SortDesc
	}
	return strings.TrimPrefix(s, "+"), database.SortAsc
}
