package engine

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/s0up4200/smartfolder/cache"
	"github.com/s0up4200/smartfolder/filter"
	"github.com/s0up4200/smartfolder/optimizer"
	"github.com/s0up4200/smartfolder/perf"
)

// FailureMode selects how PostProcess reacts to per-item failures
type FailureMode string

const (
	// FailFast aborts on the first failing item
	FailFast FailureMode = "fail_fast"
	// CollectAll processes every item and reports all failures together
	CollectAll FailureMode = "collect"
)

// ParseFailureMode validates a configured failure mode. Empty means FailFast.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast:
		return FailFast, nil
	case CollectAll:
		return CollectAll, nil
	}
	return "", fmt.Errorf("invalid failure mode: %s (must be '%s' or '%s')", s, FailFast, CollectAll)
}

// Option configures an Engine
type Option func(*Engine)

// WithEvaluator sets the rule evaluator used for non-indexed rules
func WithEvaluator(evaluator filter.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = evaluator
	}
}

// WithLogger sets the logger shared by the engine's components
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCache configures the result cache
func WithCache(opts ...cache.Option) Option {
	return func(e *Engine) {
		e.cacheOpts = append(e.cacheOpts, opts...)
	}
}

// WithMonitor sets a custom performance monitor
func WithMonitor(monitor *perf.Monitor) Option {
	return func(e *Engine) {
		e.monitor = monitor
	}
}

// WithOptimizer sets a custom query optimizer
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(e *Engine) {
		e.optimizer = o
	}
}

// WithBatch sets batch size and wave concurrency for PostProcess
func WithBatch(size, concurrency int) Option {
	return func(e *Engine) {
		e.batch.BatchSize = size
		e.batch.Concurrency = concurrency
	}
}

// WithFailureMode sets how PostProcess handles failing items
func WithFailureMode(mode FailureMode) Option {
	return func(e *Engine) {
		e.failureMode = mode
	}
}

// WithAutoIndex builds missing indexes for equals and contains rules on demand
func WithAutoIndex(enabled bool) Option {
	return func(e *Engine) {
		e.autoIndex = enabled
	}
}

// WithWorkers sets the number of goroutines used by EvaluateAll
func WithWorkers(workers int) Option {
	return func(e *Engine) {
		e.workers = workers
	}
}

func defaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}
