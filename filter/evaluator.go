package filter

import (
	"strings"

	"github.com/s0up4200/smartfolder/rule"
)

// Default is the reference rule evaluator. Text operators compare normalized
// text so results agree with the index fast paths.
type Default struct{}

// NewEvaluator returns the reference evaluator
func NewEvaluator() *Default {
	return &Default{}
}

// Evaluate implements Evaluator
func (d *Default) Evaluate(item rule.Item, r rule.Rule) bool {
	value, present := item.Lookup(r.Field)

	switch r.Operator {
	case rule.OpEquals:
		return present && equalNormalized(value, r.Value)
	case rule.OpNotEquals:
		return !present || !equalNormalized(value, r.Value)

	case rule.OpContains:
		return present && strings.Contains(normalizedText(value), normalizedText(r.Value))
	case rule.OpNotContains:
		return !present || !strings.Contains(normalizedText(value), normalizedText(r.Value))
	case rule.OpStartsWith:
		return present && strings.HasPrefix(normalizedText(value), normalizedText(r.Value))
	case rule.OpEndsWith:
		return present && strings.HasSuffix(normalizedText(value), normalizedText(r.Value))

	case rule.OpGreaterThan:
		c, ok := compare(value, r.Value)
		return present && ok && c > 0
	case rule.OpLessThan:
		c, ok := compare(value, r.Value)
		return present && ok && c < 0
	case rule.OpGreaterThanOrEqual:
		c, ok := compare(value, r.Value)
		return present && ok && c >= 0
	case rule.OpLessThanOrEqual:
		c, ok := compare(value, r.Value)
		return present && ok && c <= 0

	case rule.OpIsEmpty:
		return isEmpty(value, present)
	case rule.OpIsNotEmpty:
		return !isEmpty(value, present)
	}

	return false
}

func equalNormalized(a, b rule.Value) bool {
	return rule.Normalize(a).Key() == rule.Normalize(b).Key()
}

func normalizedText(v rule.Value) string {
	return rule.Normalize(v).Text()
}

func isEmpty(v rule.Value, present bool) bool {
	if !present {
		return true
	}
	if s, ok := v.AsString(); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// compare orders two values of the same kind. The second return value is
// false when the kinds are not comparable.
func compare(a, b rule.Value) (int, bool) {
	if a.Kind() != b.Kind() {
		return 0, false
	}

	switch a.Kind() {
	case rule.KindNumber:
		x, _ := a.AsNumber()
		y, _ := b.AsNumber()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, x == y
	case rule.KindTime:
		x, _ := a.AsTime()
		y, _ := b.AsTime()
		return x.Compare(y), true
	case rule.KindString:
		return strings.Compare(normalizedText(a), normalizedText(b)), true
	case rule.KindBool:
		x, _ := a.AsBool()
		y, _ := b.AsBool()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}

	return 0, false
}
