package query

import (
	"context"

	"github.com/samber/lo"
)

// StorageAdapter is the slice of the root storage API the simple
// execution mode needs; satisfied structurally by the root package's
// adapters without an import.
type StorageAdapter interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GetMany(ctx context.Context, keys []string) (map[string]Maybe, error)
}

// Maybe mirrors the root package's batch-completeness wrapper; kept
// as a local type so this package never imports the root one.
type Maybe struct {
	Value any
	Found bool
}

// NativeExecutor is the optional capability an adapter can implement
// to have Builder delegate execution to it instead of running the
// "simple" in-memory mode, per spec §4.7's execution-mode 1.
type NativeExecutor interface {
	ExecuteQuery(ctx context.Context, plan Plan) (*Result, error)
}

// Builder is the fluent query builder of spec §4.7.
type Builder struct {
	adapter StorageAdapter
	native  NativeExecutor
	cache   *resultCache

	plan Plan

	nextLogicalOperator LogicalOperator
	negateNext          bool
}

// New constructs a Builder over collection, bound to adapter. native
// may be nil; when non-nil, Execute always delegates to it instead of
// running "simple" mode, whether or not the "cache" flag is set.
func New(adapter StorageAdapter, native NativeExecutor, collection string) *Builder {
	b := &Builder{
		adapter: adapter,
		native:  native,
		cache:   defaultResultCache,
	}
	b.plan.Collection = collection
	b.nextLogicalOperator = LogicalAnd
	return b
}

// Where appends a condition using whatever logical operator and
// negation And/Or/Not most recently armed (AND, not negated, by
// default).
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	cond := Condition{
		Field:           field,
		Operator:        op,
		Value:           value,
		LogicalOperator: b.nextLogicalOperator,
		Negated:         b.negateNext,
	}
	b.plan.Conditions = append(b.plan.Conditions, cond)
	b.nextLogicalOperator = LogicalAnd
	b.negateNext = false
	return b
}

// And arms the AND logical operator for the next Where call (the
// default; provided for readability in call chains).
func (b *Builder) And() *Builder {
	b.nextLogicalOperator = LogicalAnd
	return b
}

// Or arms the OR logical operator for the next Where call.
func (b *Builder) Or() *Builder {
	b.nextLogicalOperator = LogicalOr
	return b
}

// Not negates the next Where call's operator, per spec §4.7.
func (b *Builder) Not() *Builder {
	b.negateNext = true
	return b
}

// Join appends a join term.
func (b *Builder) Join(collection, leftField string, op Operator, rightField string, joinType JoinType) *Builder {
	b.plan.Joins = append(b.plan.Joins, Join{
		Collection: collection,
		LeftField:  leftField,
		Operator:   op,
		RightField: rightField,
		Type:       joinType,
	})
	return b
}

func (b *Builder) OrderBy(field string, descending bool) *Builder {
	b.plan.OrderBy = append(b.plan.OrderBy, OrderBy{Field: field, Descending: descending})
	return b
}

func (b *Builder) GroupBy(fields ...string) *Builder {
	b.plan.GroupBy = append(b.plan.GroupBy, fields...)
	return b
}

func (b *Builder) Having(field string, op Operator, value any) *Builder {
	b.plan.Having = append(b.plan.Having, Condition{Field: field, Operator: op, Value: value, LogicalOperator: LogicalAnd})
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.plan.Limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.plan.Offset = n
	return b
}

func (b *Builder) Select(fields ...string) *Builder {
	b.plan.SelectFields = append(b.plan.SelectFields, fields...)
	return b
}

func (b *Builder) Aggregate(fn Aggregate, field, alias string) *Builder {
	b.plan.Aggregates = append(b.plan.Aggregates, AggregateField{Function: fn, Field: field, Alias: alias})
	return b
}

// Cache sets the result-caching flag of spec §4.7.
func (b *Builder) Cache(enabled bool) *Builder {
	b.plan.CacheEnabled = enabled
	return b
}

// Build returns the raw plan, per spec §4.7.
func (b *Builder) Build() Plan {
	return b.plan
}

// Reset restores the builder to its initial state, keeping the
// collection and adapter binding.
func (b *Builder) Reset() *Builder {
	collection := b.plan.Collection
	b.plan = Plan{Collection: collection}
	b.nextLogicalOperator = LogicalAnd
	b.negateNext = false
	return b
}

// Clone produces an independent builder pointing at the same adapter,
// with a deep-enough copy of the plan that mutating the clone never
// affects the original.
func (b *Builder) Clone() *Builder {
	clone := &Builder{
		adapter:             b.adapter,
		native:              b.native,
		cache:               b.cache,
		nextLogicalOperator: b.nextLogicalOperator,
		negateNext:          b.negateNext,
	}
	clone.plan = Plan{
		Collection:   b.plan.Collection,
		Limit:        b.plan.Limit,
		Offset:       b.plan.Offset,
		CacheEnabled: b.plan.CacheEnabled,
	}
	clone.plan.Conditions = append([]Condition{}, b.plan.Conditions...)
	clone.plan.Joins = append([]Join{}, b.plan.Joins...)
	clone.plan.OrderBy = append([]OrderBy{}, b.plan.OrderBy...)
	clone.plan.GroupBy = append([]string{}, b.plan.GroupBy...)
	clone.plan.Having = append([]Condition{}, b.plan.Having...)
	clone.plan.SelectFields = append([]string{}, b.plan.SelectFields...)
	clone.plan.Aggregates = append([]AggregateField{}, b.plan.Aggregates...)
	return clone
}

// Execute runs the plan via the native executor when available,
// otherwise falls back to "simple" in-memory mode, per spec §4.7's two
// execution modes. Result caching wraps whichever mode actually runs.
func (b *Builder) Execute(ctx context.Context) (*Result, error) {
	if b.plan.CacheEnabled {
		if cached, ok := b.cache.get(b.plan); ok {
			cached.Metadata.FromCache = true
			return cached, nil
		}
	}

	var result *Result
	var err error
	if b.native != nil {
		result, err = b.native.ExecuteQuery(ctx, b.plan)
	} else {
		result, err = executeSimple(ctx, b.adapter, b.plan)
	}
	if err != nil {
		return nil, err
	}

	if b.plan.CacheEnabled {
		b.cache.set(b.plan, result)
	}
	return result, nil
}

// Count returns len(data) for the plan's current conditions, ignoring
// limit/offset/select.
func (b *Builder) Count(ctx context.Context) (int, error) {
	probe := b.Clone()
	probe.plan.Limit = 0
	probe.plan.Offset = 0
	probe.plan.SelectFields = nil
	res, err := probe.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// First temporarily sets limit=1, executes, and restores the prior
// limit, per spec §4.7.
func (b *Builder) First(ctx context.Context) (map[string]any, bool, error) {
	prevLimit := b.plan.Limit
	b.plan.Limit = 1
	res, err := b.Execute(ctx)
	b.plan.Limit = prevLimit
	if err != nil {
		return nil, false, err
	}
	if len(res.Data) == 0 {
		return nil, false, nil
	}
	return res.Data[0], true, nil
}

// Exists reports count() > 0.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Explain returns the diagnostic payload of spec §4.7.
func (b *Builder) Explain() ExplainResult {
	complexity, label := b.complexity()
	indexes := b.recommendedIndexes()
	return ExplainResult{
		Collection:          b.plan.Collection,
		Conditions:          len(b.plan.Conditions),
		EstimatedCost:       complexity,
		EstimatedComplexity: label,
		SupportsIndexes:     b.native != nil,
		RecommendedIndexes:  indexes,
		SuggestedIndexes:    indexes,
	}
}

// GetComplexity scores the plan per spec §4.7:
// conditions + 3*joins + 2*aggregates + 2*group_by, bucketed into
// low (<=3), medium (<=10), high (otherwise).
func (b *Builder) GetComplexity() (int, string) {
	return b.complexity()
}

func (b *Builder) complexity() (int, string) {
	score := len(b.plan.Conditions) + 3*len(b.plan.Joins) + 2*len(b.plan.Aggregates) + 2*len(b.plan.GroupBy)
	switch {
	case score <= 3:
		return score, "low"
	case score <= 10:
		return score, "medium"
	default:
		return score, "high"
	}
}

// recommendedIndexes collects every non-JSON field used in
// =/>/>=/</<=, plus every order_by and join field, deduplicated, per
// spec §4.7's index-suggestion rule.
func (b *Builder) recommendedIndexes() []string {
	var fields []string
	indexable := map[Operator]bool{OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true}
	for _, c := range b.plan.Conditions {
		if indexable[c.Operator] && !isJSONPath(c.Field) {
			fields = append(fields, c.Field)
		}
	}
	for _, o := range b.plan.OrderBy {
		if !isJSONPath(o.Field) {
			fields = append(fields, o.Field)
		}
	}
	for _, j := range b.plan.Joins {
		if !isJSONPath(j.LeftField) {
			fields = append(fields, j.LeftField)
		}
		if !isJSONPath(j.RightField) {
			fields = append(fields, j.RightField)
		}
	}
	return lo.Uniq(fields)
}

func isJSONPath(field string) bool {
	return len(field) > 5 && field[:5] == "json:"
}
