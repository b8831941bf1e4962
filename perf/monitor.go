// Package perf records per-operation timing statistics.
package perf

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrorSuffix is appended to an operation name when the operation fails.
const ErrorSuffix = "_error"

// Metric is the derived view of one operation's timings.
type Metric struct {
	Count   int
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
}

type bucket struct {
	count int
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func (b *bucket) record(d time.Duration) {
	if b.count == 0 || d < b.min {
		b.min = d
	}
	if b.count == 0 || d > b.max {
		b.max = d
	}
	b.count++
	b.total += d
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithRegisterer exports every measurement to a Prometheus histogram
// registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		m.durations = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartfolder_operation_duration_seconds",
			Help:    "Duration of measured smart folder operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation", "outcome"})
	}
}

// Monitor wraps operations and keeps running timing buckets per name.
type Monitor struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	logger    zerolog.Logger
	durations *prometheus.HistogramVec
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Measure runs op and records its elapsed time under name, or under
// name+"_error" when op fails. The error is returned unchanged.
func (m *Monitor) Measure(name string, op func() error) error {
	start := m.now()
	err := op()
	m.observe(name, m.now().Sub(start), err)
	return err
}

// Time is Measure for operations that produce a value.
func Time[T any](m *Monitor, name string, op func() (T, error)) (T, error) {
	var out T
	err := m.Measure(name, func() error {
		var err error
		out, err = op()
		return err
	})
	return out, err
}

func (m *Monitor) observe(name string, elapsed time.Duration, err error) {
	key, outcome := name, "success"
	if err != nil {
		key, outcome = name+ErrorSuffix, "error"
	}

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}
	b.record(elapsed)
	m.mu.Unlock()

	if m.durations != nil {
		m.durations.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
	}

	m.logger.Trace().
		Str("operation", name).
		Dur("elapsed", elapsed).
		Bool("failed", err != nil).
		Msg("Operation measured")
}

// Metrics returns a snapshot of every bucket.
func (m *Monitor) Metrics() map[string]Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Metric, len(m.buckets))
	for name, b := range m.buckets {
		metric := Metric{
			Count: b.count,
			Total: b.total,
			Min:   b.min,
			Max:   b.max,
		}
		if b.count > 0 {
			metric.Average = b.total / time.Duration(b.count)
		}
		out[name] = metric
	}
	return out
}

// Names returns the recorded operation names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset clears all buckets. Exported Prometheus series are left untouched.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.buckets = make(map[string]*bucket)
	m.mu.Unlock()
}
