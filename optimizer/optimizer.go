// Package optimizer reorders and deduplicates rule sets so that cheap,
// selective rules run first and same-field rules sit next to each other.
package optimizer

import (
	"maps"
	"slices"

	"github.com/s0up4200/smartfolder/rule"
)

// Operator costs, cheapest first.
const (
	costEmptiness       = 1
	costEquality        = 2
	costTextPattern     = 3
	costOrdering        = 4
	costUnknownOperator = 5
)

// DefaultFieldCost applies to fields without an explicit cost.
const DefaultFieldCost = 3

var operatorCosts = map[rule.Operator]int{
	rule.OpIsEmpty:            costEmptiness,
	rule.OpIsNotEmpty:         costEmptiness,
	rule.OpEquals:             costEquality,
	rule.OpNotEquals:          costEquality,
	rule.OpContains:           costTextPattern,
	rule.OpNotContains:        costTextPattern,
	rule.OpStartsWith:         costTextPattern,
	rule.OpEndsWith:           costTextPattern,
	rule.OpGreaterThan:        costOrdering,
	rule.OpLessThan:           costOrdering,
	rule.OpGreaterThanOrEqual: costOrdering,
	rule.OpLessThanOrEqual:    costOrdering,
}

// DefaultFieldCosts ranks flag fields cheapest and free text or dates most
// expensive.
func DefaultFieldCosts() map[string]int {
	return map[string]int{
		"completed":  1,
		"done":       1,
		"archived":   1,
		"pinned":     1,
		"favorite":   1,
		"status":     2,
		"priority":   2,
		"type":       2,
		"folder":     2,
		"tags":       3,
		"title":      4,
		"name":       4,
		"content":    5,
		"body":       5,
		"notes":      5,
		"due":        5,
		"due_date":   5,
		"created":    5,
		"created_at": 5,
		"updated_at": 5,
	}
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithFieldCosts overrides or extends the default field costs.
func WithFieldCosts(costs map[string]int) Option {
	return func(o *Optimizer) {
		maps.Copy(o.fieldCosts, costs)
	}
}

// WithDefaultFieldCost sets the cost of fields missing from the table.
func WithDefaultFieldCost(cost int) Option {
	return func(o *Optimizer) {
		o.defaultFieldCost = cost
	}
}

// Optimizer scores and reorders rule sets. It holds no mutable state after
// construction and is safe for concurrent use.
type Optimizer struct {
	fieldCosts       map[string]int
	defaultFieldCost int
}

// New creates an Optimizer with the default cost tables.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		fieldCosts:       DefaultFieldCosts(),
		defaultFieldCost: DefaultFieldCost,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Score returns operator cost plus field cost.
func (o *Optimizer) Score(r rule.Rule) int {
	opCost, ok := operatorCosts[r.Operator]
	if !ok {
		opCost = costUnknownOperator
	}

	fieldCost, ok := o.fieldCosts[r.Field]
	if !ok {
		fieldCost = o.defaultFieldCost
	}

	return opCost + fieldCost
}

// OptimizeRules sorts by complexity, groups by field and drops duplicates.
// The result is equivalent to the input under AND semantics.
func (o *Optimizer) OptimizeRules(rules []rule.Rule) []rule.Rule {
	return RemoveRedundantRules(GroupRulesByField(o.SortByComplexity(rules)))
}

// SortByComplexity returns a copy of rules stably sorted by ascending score.
func (o *Optimizer) SortByComplexity(rules []rule.Rule) []rule.Rule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b rule.Rule) int {
		return o.Score(a) - o.Score(b)
	})
	return sorted
}

// GroupRulesByField makes rules sharing a field contiguous. Groups keep the
// order in which their field first appears; rules keep their order within
// a group.
func GroupRulesByField(rules []rule.Rule) []rule.Rule {
	groups := make(map[string][]rule.Rule)
	order := make([]string, 0)

	for _, r := range rules {
		if _, ok := groups[r.Field]; !ok {
			order = append(order, r.Field)
		}
		groups[r.Field] = append(groups[r.Field], r)
	}

	out := make([]rule.Rule, 0, len(rules))
	for _, field := range order {
		out = append(out, groups[field]...)
	}
	return out
}

// RemoveRedundantRules keeps the first occurrence of each
// (field, operator, value) triple.
func RemoveRedundantRules(rules []rule.Rule) []rule.Rule {
	seen := make(map[string]struct{}, len(rules))
	out := make([]rule.Rule, 0, len(rules))

	for _, r := range rules {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Step describes one rule of an optimized plan.
type Step struct {
	Rule  rule.Rule
	Score int
}

// Explain returns the optimized plan with per-rule scores.
func (o *Optimizer) Explain(rules []rule.Rule) []Step {
	optimized := o.OptimizeRules(rules)
	steps := make([]Step, len(optimized))
	for i, r := range optimized {
		steps[i] = Step{Rule: r, Score: o.Score(r)}
	}
	return steps
}
