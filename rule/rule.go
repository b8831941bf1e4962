package rule

import (
	"fmt"
	"strings"
)

// Operator names a comparison understood by an evaluator.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
)

// Operators lists the built-in operators.
var Operators = []Operator{
	OpEquals, OpNotEquals,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual,
	OpIsEmpty, OpIsNotEmpty,
}

// IsBuiltin reports whether op is one of the built-in operators.
func (op Operator) IsBuiltin() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Rule is a single field/operator/value predicate.
type Rule struct {
	Field    string
	Operator Operator
	Value    Value
}

// New is shorthand for building a rule from a decoded scalar.
func New(field string, op Operator, value any) Rule {
	return Rule{Field: field, Operator: op, Value: FromAny(value)}
}

// Equal reports whether both rules have the same field, operator and value.
func (r Rule) Equal(o Rule) bool {
	return r.Field == o.Field && r.Operator == o.Operator && r.Value.Equal(o.Value)
}

// Key identifies the (field, operator, value) triple.
func (r Rule) Key() string {
	return r.Field + "\x1f" + string(r.Operator) + "\x1f" + r.Value.Key()
}

func (r Rule) String() string {
	if r.Operator == OpIsEmpty || r.Operator == OpIsNotEmpty {
		return fmt.Sprintf("%s %s", r.Field, r.Operator)
	}
	return fmt.Sprintf("%s %s %s", r.Field, r.Operator, r.Value)
}

// Validate checks that a rule is well formed.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("rule %q: field is required", r.String())
	}
	if strings.TrimSpace(string(r.Operator)) == "" {
		return fmt.Errorf("rule %q: operator is required", r.String())
	}
	return nil
}

// Set is an ordered rule sequence combined with AND semantics.
type Set []Rule

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, " AND ")
}

// Fields returns the distinct fields referenced by the set, in order.
func (s Set) Fields() []string {
	seen := make(map[string]struct{}, len(s))
	fields := make([]string, 0, len(s))
	for _, r := range s {
		if _, ok := seen[r.Field]; ok {
			continue
		}
		seen[r.Field] = struct{}{}
		fields = append(fields, r.Field)
	}
	return fields
}
