package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMeasureRecordsSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := New(WithClock(clock.Now))

	durations := []time.Duration{48 * time.Millisecond, 50 * time.Millisecond, 52 * time.Millisecond}
	for _, d := range durations {
		err := m.Measure("query", func() error {
			clock.Advance(d)
			return nil
		})
		require.NoError(t, err)
	}

	metrics := m.Metrics()
	require.Contains(t, metrics, "query")

	q := metrics["query"]
	assert.Equal(t, 3, q.Count)
	assert.Equal(t, 150*time.Millisecond, q.Total)
	assert.Equal(t, 50*time.Millisecond, q.Average)
	assert.Equal(t, 48*time.Millisecond, q.Min)
	assert.Equal(t, 52*time.Millisecond, q.Max)
	assert.LessOrEqual(t, q.Min, 50*time.Millisecond)
	assert.GreaterOrEqual(t, q.Max, 50*time.Millisecond)
}

func TestMeasureRecordsFailureSeparately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := New(WithClock(clock.Now))
	boom := errors.New("boom")

	err := m.Measure("sync", func() error {
		clock.Advance(10 * time.Millisecond)
		return boom
	})
	assert.Same(t, boom, err)

	require.NoError(t, m.Measure("sync", func() error {
		clock.Advance(5 * time.Millisecond)
		return nil
	}))

	metrics := m.Metrics()
	assert.Equal(t, 1, metrics["sync"].Count)
	assert.Equal(t, 5*time.Millisecond, metrics["sync"].Total)
	assert.Equal(t, 1, metrics["sync_error"].Count)
	assert.Equal(t, 10*time.Millisecond, metrics["sync_error"].Total)
	assert.Equal(t, []string{"sync", "sync_error"}, m.Names())
}

func TestTimeReturnsValue(t *testing.T) {
	m := New()

	n, err := Time(m, "count", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Time(m, "count", func() (int, error) { return 0, errors.New("nope") })
	assert.EqualError(t, err, "nope")

	assert.Equal(t, 1, m.Metrics()["count"].Count)
	assert.Equal(t, 1, m.Metrics()["count_error"].Count)
}

func TestReset(t *testing.T) {
	m := New()
	require.NoError(t, m.Measure("a", func() error { return nil }))
	require.Len(t, m.Metrics(), 1)

	m.Reset()
	assert.Empty(t, m.Metrics())
	assert.Empty(t, m.Names())
}

func TestPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegisterer(reg))

	require.NoError(t, m.Measure("evaluate", func() error { return nil }))
	require.NoError(t, m.Measure("evaluate", func() error { return nil }))
	_ = m.Measure("evaluate", func() error { return errors.New("fail") })

	// One series per (operation, outcome) pair.
	assert.Equal(t, 2, testutil.CollectAndCount(m.durations))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "smartfolder_operation_duration_seconds", families[0].GetName())

	var total uint64
	for _, metric := range families[0].GetMetric() {
		total += metric.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, uint64(3), total)
}
