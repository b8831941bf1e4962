package filter

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/s0up4200/smartfolder/rule"
)

// ExprOption configures an expr evaluator
type ExprOption func(*ExprEvaluator)

// WithCache sets the size of the compiled program cache
func WithCache(size int) ExprOption {
	return func(e *ExprEvaluator) {
		e.cacheSize = size
	}
}

// WithCustomFunctions adds helper functions available to operator expressions
func WithCustomFunctions(funcs map[string]any) ExprOption {
	return func(e *ExprEvaluator) {
		maps.Copy(e.helperFuncs, funcs)
	}
}

// WithExprLogger sets the logger used for runtime evaluation failures
func WithExprLogger(logger zerolog.Logger) ExprOption {
	return func(e *ExprEvaluator) {
		e.logger = logger
	}
}

// ExprEvaluator evaluates custom operators written in the expr language and
// delegates every other operator to a fallback evaluator.
//
// Operator expressions see the resolved field as `value`, the rule operand
// as `target`, whether the field resolved as `present`, and the raw item
// fields as `item`.
type ExprEvaluator struct {
	fallback    Evaluator
	helperFuncs map[string]any
	cacheSize   int
	cache       *lru.Cache[string, *vm.Program]
	logger      zerolog.Logger

	mu        sync.RWMutex
	operators map[rule.Operator]*operatorProgram
}

type operatorProgram struct {
	expression string
	program    *vm.Program
}

// NewExprEvaluator creates an evaluator for custom operators
func NewExprEvaluator(fallback Evaluator, opts ...ExprOption) *ExprEvaluator {
	if fallback == nil {
		fallback = NewEvaluator()
	}

	e := &ExprEvaluator{
		fallback:    fallback,
		helperFuncs: createHelperFunctions(),
		cacheSize:   100,
		logger:      zerolog.Nop(),
		operators:   make(map[rule.Operator]*operatorProgram),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.cacheSize > 0 {
		// lru.New only fails for non-positive sizes
		e.cache, _ = lru.New[string, *vm.Program](e.cacheSize)
	}

	return e
}

// Register compiles expression and binds it to op, replacing any previous
// definition. Built-in operators cannot be redefined.
func (e *ExprEvaluator) Register(op rule.Operator, expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &CompilationError{
			Operator:   string(op),
			Expression: expression,
			Reason:     "empty expression",
		}
	}
	if op.IsBuiltin() {
		return &CompilationError{
			Operator:   string(op),
			Expression: expression,
			Reason:     "built-in operators cannot be redefined",
		}
	}

	program, err := e.compile(expression)
	if err != nil {
		return &CompilationError{
			Operator:   string(op),
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	e.mu.Lock()
	e.operators[op] = &operatorProgram{expression: expression, program: program}
	e.mu.Unlock()

	return nil
}

// RegisterAll registers several operators, stopping at the first failure
func (e *ExprEvaluator) RegisterAll(defs map[string]string) error {
	names := slices.Sorted(maps.Keys(defs))
	for _, name := range names {
		if err := e.Register(rule.Operator(name), defs[name]); err != nil {
			return err
		}
	}
	return nil
}

// Operators returns the registered custom operators
func (e *ExprEvaluator) Operators() []rule.Operator {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ops := make([]rule.Operator, 0, len(e.operators))
	for op := range e.operators {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// CacheSize returns the number of cached compiled programs
func (e *ExprEvaluator) CacheSize() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

// Evaluate implements Evaluator
func (e *ExprEvaluator) Evaluate(item rule.Item, r rule.Rule) bool {
	e.mu.RLock()
	op, ok := e.operators[r.Operator]
	e.mu.RUnlock()

	if !ok {
		return e.fallback.Evaluate(item, r)
	}

	value, present := item.Lookup(r.Field)
	env := createRuntimeEnvironment(e.helperFuncs, item, value, present, r.Value)

	result, err := expr.Run(op.program, env)
	if err != nil {
		e.logger.Debug().
			Err(&EvaluationError{Rule: r.String(), ItemID: item.ID, Reason: "expression failed", Err: err}).
			Msg("Custom operator evaluation failed")
		return false
	}

	// Result is guaranteed to be bool due to AsBool() option during compilation
	return result.(bool)
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	if e.cache != nil {
		if program, ok := e.cache.Get(expression); ok {
			return program, nil
		}
	}

	env := createRuntimeEnvironment(e.helperFuncs, rule.Item{}, rule.Absent(), false, rule.Absent())
	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Add(expression, program)
	}
	return program, nil
}

// createHelperFunctions creates the helper functions available to expressions
func createHelperFunctions() map[string]any {
	funcs := make(map[string]any, 8)

	// Date helpers
	funcs["daysSince"] = func(t time.Time) int {
		return int(time.Since(t).Hours() / 24)
	}
	funcs["daysAgo"] = func(days int) time.Time {
		return time.Now().AddDate(0, 0, -days)
	}
	funcs["monthsAgo"] = func(months int) time.Time {
		return time.Now().AddDate(0, -months, 0)
	}
	funcs["yearsAgo"] = func(years int) time.Time {
		return time.Now().AddDate(-years, 0, 0)
	}
	funcs["parseDate"] = func(s string) time.Time {
		t, _ := dateparse.ParseAny(s)
		return t
	}
	// Text helpers
	funcs["normalize"] = func(v any) string {
		return rule.Normalize(rule.FromAny(v)).Text()
	}

	return funcs
}

// createRuntimeEnvironment builds the per-evaluation environment
func createRuntimeEnvironment(helpers map[string]any, item rule.Item, value rule.Value, present bool, target rule.Value) map[string]any {
	env := make(map[string]any, len(helpers)+5)
	maps.Copy(env, helpers)

	env["value"] = native(value)
	env["target"] = native(target)
	env["present"] = present
	env["id"] = item.ID
	env["item"] = item.Fields

	return env
}

// native unwraps a Value for use inside an expression
func native(v rule.Value) any {
	switch v.Kind() {
	case rule.KindString:
		s, _ := v.AsString()
		return s
	case rule.KindNumber:
		n, _ := v.AsNumber()
		return n
	case rule.KindBool:
		b, _ := v.AsBool()
		return b
	case rule.KindTime:
		t, _ := v.AsTime()
		return t
	}
	return nil
}
