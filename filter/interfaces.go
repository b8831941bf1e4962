package filter

import (
	"github.com/s0up4200/smartfolder/rule"
)

// Evaluator decides whether a single item satisfies a single rule
type Evaluator interface {
	// Evaluate reports whether item matches r
	Evaluate(item rule.Item, r rule.Rule) bool
}

// EvaluatorFunc adapts a plain function to the Evaluator interface
type EvaluatorFunc func(item rule.Item, r rule.Rule) bool

// Evaluate calls f(item, r)
func (f EvaluatorFunc) Evaluate(item rule.Item, r rule.Rule) bool {
	return f(item, r)
}

// Naive filters items by evaluating every item against r, preserving order
func Naive(ev Evaluator, items []rule.Item, r rule.Rule) []rule.Item {
	matches := make([]rule.Item, 0, len(items)/4)
	for _, item := range items {
		if ev.Evaluate(item, r) {
			matches = append(matches, item)
		}
	}
	return matches
}
