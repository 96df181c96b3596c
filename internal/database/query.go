package database

import (
	"fmt"
	"slices"
	"strings"
)

type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpLike     FilterOp = "like"
	OpIn       FilterOp = "in"
	OpContains FilterOp = "contains"
	OpIsNull   FilterOp = "is_null"
	OpNotNull  FilterOp = "not_null"
)

// Valid reports whether op is one of the supported operators.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn, OpContains, OpIsNull, OpNotNull:
		return true
	}
	return false
}

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Sort struct {
	Field string
	Order SortOrder
}

type QueryBuilder struct {
	table   string
	selects []string
	filters []Filter
	sorts   []Sort
	limit   int
	offset  int
}

func NewQuery(table string) *QueryBuilder {
	return &QueryBuilder{
		table:   table,
		selects: []string{"*"},
	}
}

func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	q.selects = fields
	return q
}

func (q *QueryBuilder) Filter(field string, op FilterOp, value any) *QueryBuilder {
	q.filters = append(q.filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *QueryBuilder) Filters(filters ...Filter) *QueryBuilder {
	q.filters = append(q.filters, filters...)
	return q
}

func (q *QueryBuilder) Where(field string, value any) *QueryBuilder {
	return q.Filter(field, OpEq, value)
}

func (q *QueryBuilder) Sort(field string, order SortOrder) *QueryBuilder {
	q.sorts = append(q.sorts, Sort{Field: field, Order: order})
	return q
}

func (q *QueryBuilder) OrderBy(field string) *QueryBuilder {
	return q.Sort(field, SortAsc)
}

func (q *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return q.Sort(field, SortDesc)
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

func (q *QueryBuilder) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	where, args := whereClause(q.filters)
	sb.WriteString(where)

	if len(q.sorts) > 0 {
		sb.WriteString(" ORDER BY ")
		sortClauses := make([]string, len(q.sorts))
		for i, s := range q.sorts {
			sortClauses[i] = fmt.Sprintf("%s %s", s.Field, s.Order)
		}
		sb.WriteString(strings.Join(sortClauses, ", "))
	}

	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
	}

	if q.offset > 0 {
		if q.limit <= 0 {
			sb.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&sb, " OFFSET %d", q.offset)
	}

	return sb.String(), args
}

func (q *QueryBuilder) BuildCount() (string, []any) {
	where, args := whereClause(q.filters)
	return "SELECT COUNT(*) FROM " + q.table + where, args
}

// whereClause renders filters joined by AND, including the leading " WHERE ".
func whereClause(filters []Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	var args []any
	conditions := make([]string, len(filters))
	for i, f := range filters {
		cond, condArgs := buildCondition(f)
		conditions[i] = cond
		args = append(args, condArgs...)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildCondition(f Filter) (string, []any) {
	switch f.Op {
	case OpNe:
		return fmt.Sprintf("%s != ?", f.Field), []any{f.Value}
	case OpGt:
		return fmt.Sprintf("%s > ?", f.Field), []any{f.Value}
	case OpGte:
		return fmt.Sprintf("%s >= ?", f.Field), []any{f.Value}
	case OpLt:
		return fmt.Sprintf("%s < ?", f.Field), []any{f.Value}
	case OpLte:
		return fmt.Sprintf("%s <= ?", f.Field), []any{f.Value}
	case OpLike:
		return fmt.Sprintf("%s LIKE ?", f.Field), []any{f.Value}
	case OpContains:
		return fmt.Sprintf("%s LIKE ?", f.Field), []any{"%" + fmt.Sprint(f.Value) + "%"}
	case OpIn:
		values := inValues(f.Value)
		if len(values) == 0 {
			return "0", nil
		}
		placeholders := strings.Repeat("?, ", len(values))
		return fmt.Sprintf("%s IN (%s)", f.Field, placeholders[:len(placeholders)-2]), values
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", f.Field), nil
	case OpNotNull:
		return fmt.Sprintf("%s IS NOT NULL", f.Field), nil
	default:
		return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
	}
}

func inValues(v any) []any {
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

type InsertBuilder struct {
	table  string
	fields []string
	values []any
}

func NewInsert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

func (b *InsertBuilder) Set(field string, value any) *InsertBuilder {
	b.fields = append(b.fields, field)
	b.values = append(b.values, value)
	return b
}

// SetMap adds every entry of data in key order so the generated SQL is stable.
func (b *InsertBuilder) SetMap(data map[string]any) *InsertBuilder {
	for _, k := range sortedKeys(data) {
		b.Set(k, data[k])
	}
	return b
}

func (b *InsertBuilder) Build() (string, []any) {
	placeholders := strings.Repeat("?, ", len(b.fields))
	if len(placeholders) > 0 {
		placeholders = placeholders[:len(placeholders)-2]
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.table,
		strings.Join(b.fields, ", "),
		placeholders)

	return sql, b.values
}

type UpdateBuilder struct {
	table   string
	sets    []string
	values  []any
	filters []Filter
}

func NewUpdate(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(field string, value any) *UpdateBuilder {
	b.sets = append(b.sets, fmt.Sprintf("%s = ?", field))
	b.values = append(b.values, value)
	return b
}

// SetMap adds every entry of data in key order so the generated SQL is stable.
func (b *UpdateBuilder) SetMap(data map[string]any) *UpdateBuilder {
	for _, k := range sortedKeys(data) {
		b.Set(k, data[k])
	}
	return b
}

func (b *UpdateBuilder) Where(field string, value any) *UpdateBuilder {
	b.filters = append(b.filters, Filter{Field: field, Op: OpEq, Value: value})
	return b
}

func (b *UpdateBuilder) Filters(filters ...Filter) *UpdateBuilder {
	b.filters = append(b.filters, filters...)
	return b
}

func (b *UpdateBuilder) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))

	where, whereArgs := whereClause(b.filters)
	sb.WriteString(where)

	args := make([]any, 0, len(b.values)+len(whereArgs))
	args = append(args, b.values...)
	args = append(args, whereArgs...)

	return sb.String(), args
}

type DeleteBuilder struct {
	table   string
	filters []Filter
}

func NewDelete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

func (b *DeleteBuilder) Where(field string, value any) *DeleteBuilder {
	b.filters = append(b.filters, Filter{Field: field, Op: OpEq, Value: value})
	return b
}

func (b *DeleteBuilder) Filters(filters ...Filter) *DeleteBuilder {
	b.filters = append(b.filters, filters...)
	return b
}

func (b *DeleteBuilder) Build() (string, []any) {
	where, args := whereClause(b.filters)
	return "DELETE FROM " + b.table + where, args
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
