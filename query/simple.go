package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var collator = collate.New(language.Und)

// executeSimple is execution mode 2 of spec §4.7: list(prefix) then
// get_many then in-memory filtering, honouring AND/OR chains, with
// JSON-path field support, stable ordering, and pagination.
func executeSimple(ctx context.Context, adapter StorageAdapter, plan Plan) (*Result, error) {
	prefix := plan.Collection + ":"
	keys, err := adapter.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	fetched, err := adapter.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(fetched))
	for key, maybe := range fetched {
		if !maybe.Found {
			continue
		}
		row, ok := asRow(maybe.Value)
		if !ok {
			continue
		}
		row["_key"] = strings.TrimPrefix(key, prefix)
		rows = append(rows, row)
	}

	filtered := applyConditions(rows, plan.Conditions)

	if len(plan.SelectFields) > 0 {
		filtered = lo.Map(filtered, func(row map[string]any, _ int) map[string]any {
			return project(row, plan.SelectFields)
		})
	}

	if len(plan.Aggregates) > 0 {
		return aggregateResult(filtered, plan), nil
	}

	sortRows(filtered, plan.OrderBy)

	total := len(filtered)
	paged := paginate(filtered, plan.Offset, plan.Limit)

	return &Result{
		Data:     paged,
		Total:    total,
		Metadata: ResultMetadata{Mode: "simple"},
	}, nil
}

func asRow(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, true
	default:
		return map[string]any{"value": v}, true
	}
}

func project(row map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	if key, ok := row["_key"]; ok {
		out["_key"] = key
	}
	for _, f := range fields {
		out[f] = fieldValue(row, f)
	}
	return out
}

func applyConditions(rows []map[string]any, conditions []Condition) []map[string]any {
	if len(conditions) == 0 {
		return rows
	}
	return lo.Filter(rows, func(row map[string]any, _ int) bool {
		return evaluateConditions(row, conditions)
	})
}

// evaluateConditions folds conditions left to right, honouring each
// term's own logical_operator against the accumulator so far, per
// spec §4.7's "next logical operator" chaining.
func evaluateConditions(row map[string]any, conditions []Condition) bool {
	if len(conditions) == 0 {
		return true
	}
	result := evaluateCondition(row, conditions[0])
	for _, c := range conditions[1:] {
		match := evaluateCondition(row, c)
		if c.LogicalOperator == LogicalOr {
			result = result || match
		} else {
			result = result && match
		}
	}
	return result
}

func evaluateCondition(row map[string]any, c Condition) bool {
	actual := fieldValue(row, c.Field)
	match := compareOperator(actual, c.Operator, c.Value)
	if c.Negated {
		return !match
	}
	return match
}

func compareOperator(actual any, op Operator, expected any) bool {
	switch op {
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	case OpIn:
		values, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if valuesEqual(actual, v) {
				return true
			}
		}
		return false
	case OpBetween:
		bounds, ok := expected.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		return numericCompare(actual, bounds[0]) >= 0 && numericCompare(actual, bounds[1]) <= 0
	case OpLike:
		pattern, _ := expected.(string)
		s, _ := actual.(string)
		return likeMatch(s, pattern)
	case OpEq:
		return valuesEqual(actual, expected)
	case OpNeq, OpNeqAlt:
		return !valuesEqual(actual, expected)
	case OpLt:
		return numericCompare(actual, expected) < 0
	case OpLte:
		return numericCompare(actual, expected) <= 0
	case OpGt:
		return numericCompare(actual, expected) > 0
	case OpGte:
		return numericCompare(actual, expected) >= 0
	case OpRaw:
		return false
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func numericCompare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return collator.CompareString(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func likeMatch(s, pattern string) bool {
	pattern = strings.ReplaceAll(pattern, "%", "")
	return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))
}

// fieldValue resolves a field, supporting "json:path.to.field" dotted
// navigation per spec §4.7.
func fieldValue(row map[string]any, field string) any {
	if isJSONPath(field) {
		path := strings.Split(strings.TrimPrefix(field, "json:"), ".")
		var cur any = row
		for _, seg := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[seg]
		}
		return cur
	}
	return row[field]
}

// sortRows performs a stable, multi-key sort: numeric compare when
// both sides parse as numbers, otherwise locale-aware string compare,
// nulls first, per spec §4.7.
func sortRows(rows []map[string]any, orderBy []OrderBy) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ob := range orderBy {
			a := fieldValue(rows[i], ob.Field)
			b := fieldValue(rows[j], ob.Field)
			if (a == nil) != (b == nil) {
				return a == nil
			}
			cmp := compareNullsFirst(a, b)
			if cmp == 0 {
				continue
			}
			if ob.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareNullsFirst(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return numericCompare(a, b)
}

func paginate(rows []map[string]any, offset, limit int) []map[string]any {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []map[string]any{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}

func aggregateResult(rows []map[string]any, plan Plan) *Result {
	if len(plan.GroupBy) == 0 {
		row := computeAggregates(rows, plan.Aggregates)
		return &Result{Data: []map[string]any{row}, Total: 1, Metadata: ResultMetadata{Mode: "simple"}}
	}

	groups := lo.GroupBy(rows, func(row map[string]any) string {
		var parts []string
		for _, field := range plan.GroupBy {
			parts = append(parts, fmt.Sprintf("%v", fieldValue(row, field)))
		}
		return strings.Join(parts, "\x00")
	})

	data := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		row := computeAggregates(group, plan.Aggregates)
		for _, field := range plan.GroupBy {
			row[field] = fieldValue(group[0], field)
		}
		data = append(data, row)
	}
	return &Result{Data: data, Total: len(data), Metadata: ResultMetadata{Mode: "simple"}}
}

func computeAggregates(rows []map[string]any, aggregates []AggregateField) map[string]any {
	out := make(map[string]any, len(aggregates))
	for _, agg := range aggregates {
		key := agg.Alias
		if key == "" {
			key = string(agg.Function) + "_" + agg.Field
		}
		out[key] = computeAggregate(rows, agg)
	}
	return out
}

func computeAggregate(rows []map[string]any, agg AggregateField) any {
	switch agg.Function {
	case AggCount:
		return len(rows)
	case AggSum:
		var sum float64
		for _, row := range rows {
			if f, ok := toFloat(fieldValue(row, agg.Field)); ok {
				sum += f
			}
		}
		return sum
	case AggAvg:
		var sum float64
		var n int
		for _, row := range rows {
			if f, ok := toFloat(fieldValue(row, agg.Field)); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return 0.0
		}
		return sum / float64(n)
	case AggMin:
		var best any
		for _, row := range rows {
			v := fieldValue(row, agg.Field)
			if best == nil || numericCompare(v, best) < 0 {
				best = v
			}
		}
		return best
	case AggMax:
		var best any
		for _, row := range rows {
			v := fieldValue(row, agg.Field)
			if best == nil || numericCompare(v, best) > 0 {
				best = v
			}
		}
		return best
	case AggGroupConcat:
		var parts []string
		for _, row := range rows {
			parts = append(parts, fmt.Sprintf("%v", fieldValue(row, agg.Field)))
		}
		return strings.Join(parts, ",")
	default:
		return nil
	}
}
