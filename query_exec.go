package kvengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corevault/kvengine/query"
	"github.com/doug-martin/goqu/v9"
)

// ExecuteQuery implements query.NativeExecutor for the SQL adapter,
// per spec §4.7's execution mode 1. It translates a query.Plan into a
// goqu.Dataset (the dialect-aware SQL builder teacher's
// store_implementation.go already blank-imports without ever
// constructing one) and runs the resulting SQL through the adapter's
// own *sql.DB. Builder fields are never real columns — they are paths
// into the JSON document stored in the "value" column (spec §4.3's
// `json_extract(value, '$.<path>')` predicate) — so every field is
// translated through jsonColumn before reaching goqu. The manager only
// hands this executor to the builder when encryption and compression
// are both off (see StorageManager.Query), since only then is "value"
// guaranteed to hold plain JSON text json_extract can read.
func (s *sqlAdapter) ExecuteQuery(ctx context.Context, plan query.Plan) (*query.Result, error) {
	dialect := s.dialect
	if dialect != "mysql" && dialect != "postgres" && dialect != "postgresql" && dialect != "pgx" {
		dialect = "sqlite3"
	}

	ds := goqu.Dialect(dialect).From(goqu.T(s.tableName)).Where(goqu.Ex{"namespace": plan.Collection})

	ds, err := s.applyPlanToDataset(ds, plan)
	if err != nil {
		return nil, newErr(KindDatabase, "query translation failed", err)
	}
	ds = ds.Select(goqu.I("key"), goqu.I("value"))

	sqlText, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, newErr(KindDatabase, "query build failed", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, newErr(KindDatabase, "query execution failed", err)
	}
	defer rows.Close()

	data, err := decodeValueRows(rows, plan.Collection, plan.SelectFields)
	if err != nil {
		return nil, newErr(KindDataCorruption, "query decode failed", err)
	}

	countDs := goqu.Dialect(dialect).From(goqu.T(s.tableName)).Where(goqu.Ex{"namespace": plan.Collection})
	countDs, err = applyConditionsToDataset(countDs, plan.Conditions)
	if err != nil {
		return nil, newErr(KindDatabase, "count translation failed", err)
	}
	countSQL, countArgs, err := countDs.Select(goqu.COUNT("*")).Prepared(true).ToSQL()
	if err != nil {
		return nil, newErr(KindDatabase, "count build failed", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		total = len(data)
	}

	return &query.Result{
		Data:     data,
		Total:    total,
		Metadata: query.ResultMetadata{Mode: "native"},
	}, nil
}

func (s *sqlAdapter) applyPlanToDataset(ds *goqu.SelectDataset, plan query.Plan) (*goqu.SelectDataset, error) {
	ds, err := applyConditionsToDataset(ds, plan.Conditions)
	if err != nil {
		return nil, err
	}

	for _, j := range plan.Joins {
		rightTable := goqu.T(s.tableName).As(j.Collection)
		onExpr := goqu.L(
			fmt.Sprintf(
				`json_extract(%q."value", ?) = json_extract(%q."value", ?) AND %q."namespace" = ?`,
				s.tableName, j.Collection, j.Collection,
			),
			jsonPath(j.LeftField), jsonPath(j.RightField), j.Collection,
		)
		switch j.Type {
		case query.JoinLeft:
			ds = ds.LeftJoin(rightTable, goqu.On(onExpr))
		default:
			ds = ds.InnerJoin(rightTable, goqu.On(onExpr))
		}
	}

	if len(plan.GroupBy) > 0 {
		cols := make([]any, len(plan.GroupBy))
		for i, g := range plan.GroupBy {
			cols[i] = jsonColumn(g)
		}
		ds = ds.GroupBy(cols...)
	}

	for _, o := range plan.OrderBy {
		if o.Descending {
			ds = ds.OrderAppend(jsonColumn(o.Field).Desc())
		} else {
			ds = ds.OrderAppend(jsonColumn(o.Field).Asc())
		}
	}

	if plan.Limit > 0 {
		ds = ds.Limit(uint(plan.Limit))
	}
	if plan.Offset > 0 {
		ds = ds.Offset(uint(plan.Offset))
	}

	return ds, nil
}

func applyConditionsToDataset(ds *goqu.SelectDataset, conditions []query.Condition) (*goqu.SelectDataset, error) {
	// Conditions fold left to right, each joined to the predicate so far
	// by its own logical operator, the same chaining executeSimple uses.
	var acc goqu.Expression

	for _, c := range conditions {
		expr, err := conditionExpression(c)
		if err != nil {
			return nil, err
		}
		switch {
		case acc == nil:
			acc = expr
		case c.LogicalOperator == query.LogicalOr:
			acc = goqu.Or(acc, expr)
		default:
			acc = goqu.And(acc, expr)
		}
	}

	if acc != nil {
		ds = ds.Where(acc)
	}
	return ds, nil
}

// jsonPath turns a builder field ("role", or the explicit "json:a.b.c"
// form spec §4.7 also allows) into the SQLite json_extract path
// "$.role" / "$.a.b.c".
func jsonPath(field string) string {
	return "$." + strings.TrimPrefix(field, "json:")
}

// jsonColumn is the json_extract(value, '$.<path>') expression every
// builder field compiles to against the SQL adapter, per spec §4.3.
// The path is still passed as a bound parameter even though it is not
// user-supplied row data, the same prepared-statement discipline the
// rest of this adapter follows.
func jsonColumn(field string) goqu.LiteralExpression {
	return goqu.L(`json_extract("value", ?)`, jsonPath(field))
}

func conditionExpression(c query.Condition) (goqu.Expression, error) {
	col := jsonColumn(c.Field)
	var expr goqu.Expression

	switch c.Operator {
	case query.OpEq:
		expr = col.Eq(c.Value)
	case query.OpNeq, query.OpNeqAlt:
		expr = col.Neq(c.Value)
	case query.OpLt:
		expr = col.Lt(c.Value)
	case query.OpLte:
		expr = col.Lte(c.Value)
	case query.OpGt:
		expr = col.Gt(c.Value)
	case query.OpGte:
		expr = col.Gte(c.Value)
	case query.OpLike:
		expr = col.Like(fmt.Sprintf("%%%v%%", c.Value))
	case query.OpIn:
		expr = col.In(c.Value)
	case query.OpIsNull:
		expr = col.IsNull()
	case query.OpIsNotNull:
		expr = col.IsNotNull()
	case query.OpBetween:
		bounds, ok := c.Value.([]any)
		if !ok || len(bounds) != 2 {
			return nil, fmt.Errorf("between requires a two-element value slice")
		}
		expr = col.Between(goqu.Range(bounds[0], bounds[1]))
	default:
		return nil, fmt.Errorf("unsupported operator %q in native execution", c.Operator)
	}

	if c.Negated {
		return goqu.L("NOT (?)", expr), nil
	}
	return expr, nil
}

// decodeValueRows scans (key, value) pairs and decodes each value as
// the stored JSON document, the same shape executeSimple produces
// from adapter.GetMany, so native and simple mode results are
// interchangeable to a caller. "_key" is the key with the collection
// prefix stripped, matching executeSimple's convention.
func decodeValueRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}, collection string, selectFields []string) ([]map[string]any, error) {
	prefix := collection + ":"
	var out []map[string]any
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, err
		}
		row, ok := decoded.(map[string]any)
		if !ok {
			row = map[string]any{"value": decoded}
		}
		row["_key"] = strings.TrimPrefix(key, prefix)

		if len(selectFields) > 0 {
			row = projectFields(row, selectFields)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// projectFields mirrors query.Builder's "select" projection (and its
// "json:a.b" dotted-path field resolution) for rows decoded here in
// the root package, which keeps its own unexported copy for the
// "simple" execution mode so neither package needs to import the
// other.
func projectFields(row map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	if key, ok := row["_key"]; ok {
		out["_key"] = key
	}
	for _, f := range fields {
		out[f] = resolveField(row, f)
	}
	return out
}

func resolveField(row map[string]any, field string) any {
	if !strings.HasPrefix(field, "json:") {
		return row[field]
	}
	var cur any = row
	for _, seg := range strings.Split(strings.TrimPrefix(field, "json:"), ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

var _ query.NativeExecutor = (*sqlAdapter)(nil)
