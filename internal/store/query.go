package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/evaluate"
)

// Filter restricts rows by "column operator value".
type Filter struct {
	Column   string `yaml:"column" json:"column"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

var operators = []string{"=", "<>", "<", "<=", ">", ">=", "in", "like"}

// ParseFilter parses "column:operator:value". For "in" the value is a
// comma-separated list.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("%w: %q must be column:operator:value", ErrInvalidFilter, s)
	}
	f := Filter{Column: parts[0], Operator: strings.ToLower(parts[1]), Value: parts[2]}
	if f.Operator == "in" {
		f.Value = strings.Split(parts[2], ",")
	}
	return f, nil
}

// Query selects rows from a table.
type Query struct {
	Filters []Filter
	OrderBy []string
	// Limit caps the row count; zero means no limit.
	Limit int
}

// MetricsQuery groups joined rows and computes metrics per group.
type MetricsQuery struct {
	GroupBy        []string
	IncludeMetrics []string
	OrderBy        []string
	Filters        []Filter
}

// GetJoinedTimeseries returns joined rows.
func (s *Store) GetJoinedTimeseries(ctx context.Context, q Query) (domain.Table, error) {
	if !s.joined.Load() {
		return domain.Table{}, ErrNotJoined
	}
	return s.selectRows(ctx, "joined", joinedTable, q)
}

// GetTimeseries returns rows of the primary or secondary timeseries table.
func (s *Store) GetTimeseries(ctx context.Context, kind domain.DatasetKind, q Query) (domain.Table, error) {
	if !kind.IsTimeseries() {
		return domain.Table{}, fmt.Errorf("dataset kind %q is not a timeseries", kind)
	}
	return s.selectRows(ctx, "timeseries", string(kind)+"_timeseries", q)
}

func (s *Store) selectRows(ctx context.Context, label, table string, q Query) (domain.Table, error) {
	start := time.Now()
	cols, err := s.columns(ctx, table)
	if err != nil {
		return domain.Table{}, err
	}
	where, args, err := whereClause(cols, q.Filters)
	if err != nil {
		return domain.Table{}, err
	}
	order := "rowid"
	if len(q.OrderBy) > 0 {
		if order, err = orderClause(cols, q.OrderBy); err != nil {
			return domain.Table{}, err
		}
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.name)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`, strings.Join(names, ", "), table, where, order)
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Table{}, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	t := newTable(cols)
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return domain.Table{}, fmt.Errorf("query %s: %w", table, err)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.Table{}, fmt.Errorf("query %s: %w", table, err)
	}
	s.metrics.QueryDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return t, nil
}

// GetMetrics computes metrics over joined rows grouped by the given columns.
// The result has the group columns followed by one column per metric.
func (s *Store) GetMetrics(ctx context.Context, q MetricsQuery) (domain.Table, error) {
	if !s.joined.Load() {
		return domain.Table{}, ErrNotJoined
	}
	start := time.Now()

	metricNames, err := evaluate.Resolve(q.IncludeMetrics)
	if err != nil {
		return domain.Table{}, err
	}
	cols, err := s.columns(ctx, joinedTable)
	if err != nil {
		return domain.Table{}, err
	}
	groupCols := make([]column, 0, len(q.GroupBy))
	for _, name := range q.GroupBy {
		c, ok := findColumn(cols, name)
		if !ok {
			return domain.Table{}, fmt.Errorf("%w: group by %q", ErrInvalidColumn, name)
		}
		if !slices.ContainsFunc(groupCols, func(g column) bool { return g.name == name }) {
			groupCols = append(groupCols, c)
		}
	}
	where, args, err := whereClause(cols, q.Filters)
	if err != nil {
		return domain.Table{}, err
	}

	selectList := make([]string, 0, len(groupCols)+3)
	for _, c := range groupCols {
		selectList = append(selectList, quoteIdent(c.name))
	}
	orderList := slices.Clone(selectList)
	selectList = append(selectList, domain.ColValueTime, domain.ColPrimaryValue, domain.ColSecondaryValue)
	orderList = append(orderList, domain.ColValueTime)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`,
		strings.Join(selectList, ", "), joinedTable, where, strings.Join(orderList, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Table{}, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := newTable(groupCols)
	for _, m := range metricNames {
		out.Columns = append(out.Columns, m)
		out.Types = append(out.Types, evaluate.Type(m))
	}

	var (
		key   []any
		pairs []evaluate.Pair
	)
	flush := func() {
		if key == nil {
			return
		}
		out.Rows = append(out.Rows, append(key, evaluate.Compute(pairs, metricNames)...))
	}
	for rows.Next() {
		var (
			valueTime          int64
			primary, secondary sql.NullFloat64
		)
		group := make([]any, len(groupCols))
		dest := make([]any, 0, len(groupCols)+3)
		for i := range group {
			dest = append(dest, &group[i])
		}
		dest = append(dest, &valueTime, &primary, &secondary)
		if err := rows.Scan(dest...); err != nil {
			return domain.Table{}, fmt.Errorf("query metrics: %w", err)
		}
		for i, c := range groupCols {
			group[i] = convertValue(c, group[i])
		}
		if key == nil || !sameKey(key, group) {
			flush()
			key, pairs = group, nil
		}
		if primary.Valid && secondary.Valid {
			pairs = append(pairs, evaluate.Pair{
				ValueTime: time.UnixMilli(valueTime).UTC(),
				Primary:   primary.Float64,
				Secondary: secondary.Float64,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Table{}, fmt.Errorf("query metrics: %w", err)
	}
	flush()

	if len(q.OrderBy) > 0 {
		if err := sortTable(&out, q.OrderBy); err != nil {
			return domain.Table{}, err
		}
	}
	s.metrics.QueryDuration.WithLabelValues("metrics").Observe(time.Since(start).Seconds())
	return out, nil
}

func newTable(cols []column) domain.Table {
	t := domain.Table{Columns: make([]string, len(cols)), Types: make([]domain.FieldType, len(cols))}
	for i, c := range cols {
		t.Columns[i] = c.name
		t.Types[i] = c.typ
	}
	return t
}

func scanRow(rows *sql.Rows, cols []column) ([]any, error) {
	row := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	for i, c := range cols {
		row[i] = convertValue(c, row[i])
	}
	return row, nil
}

// convertValue maps stored values to Table values: unix milliseconds in time
// columns become time.Time and []byte becomes string.
func convertValue(c column, v any) any {
	if v == nil {
		return nil
	}
	if c.typ == domain.FieldTimestamp {
		if t, ok := domain.AsTime(v); ok {
			return t
		}
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func sameKey(a, b []any) bool {
	for i := range a {
		if compareValues(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func whereClause(cols []column, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		c, ok := findColumn(cols, f.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w: filter column %q", ErrInvalidColumn, f.Column)
		}
		op := strings.ToLower(strings.TrimSpace(f.Operator))
		if !slices.Contains(operators, op) {
			return "", nil, fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Operator)
		}

		if op == "in" {
			values, err := listValues(f.Value)
			if err != nil {
				return "", nil, err
			}
			placeholders := make([]string, len(values))
			for i, v := range values {
				bound, err := bindValue(c, v)
				if err != nil {
					return "", nil, err
				}
				placeholders[i] = "?"
				args = append(args, bound)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", quoteIdent(c.name), strings.Join(placeholders, ", ")))
			continue
		}

		bound, err := bindValue(c, f.Value)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", quoteIdent(c.name), strings.ToUpper(op)))
		args = append(args, bound)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func listValues(v any) ([]any, error) {
	var out []any
	switch x := v.(type) {
	case []any:
		out = x
	case []string:
		for _, s := range x {
			out = append(out, strings.TrimSpace(s))
		}
	case string:
		for _, s := range strings.Split(x, ",") {
			out = append(out, strings.TrimSpace(s))
		}
	default:
		out = []any{x}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty in-list", ErrInvalidFilter)
	}
	return out, nil
}

// bindValue converts a filter value to the column's storage form. Time
// columns accept time.Time or timestamp strings; numeric columns accept
// numeric strings.
func bindValue(c column, v any) (any, error) {
	switch c.typ {
	case domain.FieldTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UnixMilli(), nil
		case string:
			t, err := domain.ParseTime(x)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFilter, c.name, err)
			}
			return t.UnixMilli(), nil
		case int, int64, float64:
			return x, nil
		default:
			return nil, fmt.Errorf("%w: %s: unsupported time value %v", ErrInvalidFilter, c.name, v)
		}
	case domain.FieldInteger, domain.FieldReal:
		if x, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidFilter, c.name, x)
			}
			return f, nil
		}
		return v, nil
	default:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v), nil
		}
		return v, nil
	}
}

func orderClause(cols []column, orderBy []string) (string, error) {
	parts := make([]string, len(orderBy))
	for i, name := range orderBy {
		if _, ok := findColumn(cols, name); !ok {
			return "", fmt.Errorf("%w: order by %q", ErrInvalidColumn, name)
		}
		parts[i] = quoteIdent(name)
	}
	return strings.Join(parts, ", "), nil
}

// sortTable orders result rows by the named columns, nulls first.
func sortTable(t *domain.Table, orderBy []string) error {
	idx := make([]int, len(orderBy))
	for i, name := range orderBy {
		if idx[i] = t.Index(name); idx[i] < 0 {
			return fmt.Errorf("%w: order by %q", ErrInvalidColumn, name)
		}
	}
	slices.SortStableFunc(t.Rows, func(a, b []any) int {
		for _, i := range idx {
			if c := compareValues(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	}
	fa, okA := domain.AsFloat(a)
	fb, okB := domain.AsFloat(b)
	if okA && okB {
		return cmp.Compare(fa, fb)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
