package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/smartfolder/batch"
	"github.com/s0up4200/smartfolder/cache"
	"github.com/s0up4200/smartfolder/filter"
	"github.com/s0up4200/smartfolder/rule"
)

func taskItems() []rule.Item {
	return []rule.Item{
		{ID: "t1", Fields: map[string]any{"status": "Open", "priority": 3, "title": "Quarterly report", "tags": "work"}},
		{ID: "t2", Fields: map[string]any{"status": "closed", "priority": 1, "title": "Buy milk", "tags": "home"}},
		{ID: "t3", Fields: map[string]any{"status": "open", "priority": 5, "title": "Review report draft", "tags": "work"}},
		{ID: "t4", Fields: map[string]any{"status": "blocked", "priority": 2, "title": "Plan sprint"}},
		{ID: "t5", Fields: map[string]any{"priority": 4, "title": "Report bug", "tags": "work"}},
	}
}

func reference(items []rule.Item, rules []rule.Rule) []string {
	out := items
	for _, r := range rules {
		out = filter.Naive(filter.NewEvaluator(), out, r)
	}
	return rule.IDs(out)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})
	return e
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		rules []rule.Rule
		want  []string
	}{
		{
			name:  "no rules matches everything",
			rules: nil,
			want:  []string{"t1", "t2", "t3", "t4", "t5"},
		},
		{
			name:  "equals is case insensitive",
			rules: []rule.Rule{rule.New("status", rule.OpEquals, "OPEN")},
			want:  []string{"t1", "t3"},
		},
		{
			name: "conjunction keeps input order",
			rules: []rule.Rule{
				rule.New("title", rule.OpContains, "report"),
				rule.New("priority", rule.OpGreaterThan, 2),
			},
			want: []string{"t1", "t3", "t5"},
		},
		{
			name: "missing field",
			rules: []rule.Rule{
				rule.New("status", rule.OpIsEmpty, nil),
			},
			want: []string{"t5"},
		},
		{
			name: "contradiction",
			rules: []rule.Rule{
				rule.New("status", rule.OpEquals, "open"),
				rule.New("status", rule.OpEquals, "closed"),
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)

			got, err := e.Evaluate(context.Background(), taskItems(), tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.IDs(got))
		})
	}
}

func TestEvaluateMatchesNaiveWithAndWithoutIndexes(t *testing.T) {
	items := taskItems()
	ruleSets := [][]rule.Rule{
		{rule.New("status", rule.OpEquals, "open")},
		{rule.New("tags", rule.OpEquals, "work"), rule.New("status", rule.OpNotEquals, "open")},
		{rule.New("title", rule.OpContains, "REPORT"), rule.New("tags", rule.OpContains, "wor")},
		{rule.New("priority", rule.OpLessThanOrEqual, 3), rule.New("tags", rule.OpIsNotEmpty, nil)},
		{rule.New("title", rule.OpStartsWith, "plan"), rule.New("status", rule.OpEquals, "blocked")},
	}

	plain := newTestEngine(t)
	indexed := newTestEngine(t)
	indexed.BuildIndexes(items, []string{"status", "tags", "title"})
	auto := newTestEngine(t, WithAutoIndex(true))

	for i, rules := range ruleSets {
		want := reference(items, rules)

		for name, e := range map[string]*Engine{"plain": plain, "indexed": indexed, "auto": auto} {
			got, err := e.Evaluate(context.Background(), items, rules)
			require.NoError(t, err)
			assert.Equal(t, want, rule.IDs(got), "engine %s, rule set %d", name, i)
		}
	}
}

func TestEvaluateServesRepeatedQueriesFromCache(t *testing.T) {
	e := newTestEngine(t)
	items := taskItems()
	rules := []rule.Rule{rule.New("tags", rule.OpEquals, "work")}

	first, err := e.Evaluate(context.Background(), items, rules)
	require.NoError(t, err)

	// Callers own the returned slice
	first[0] = rule.Item{ID: "mutated"}

	second, err := e.Evaluate(context.Background(), items, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t5"}, rule.IDs(second))

	stats := e.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestEvaluateCacheKeyCoversItemContents(t *testing.T) {
	e := newTestEngine(t)
	rules := []rule.Rule{rule.New("status", rule.OpEquals, "open")}

	items := taskItems()
	got, err := e.Evaluate(context.Background(), items, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, rule.IDs(got))

	changed := taskItems()
	changed[1].Fields["status"] = "open"

	got, err = e.Evaluate(context.Background(), changed, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, rule.IDs(got))
	assert.Equal(t, uint64(0), e.CacheStats().Hits)
}

func TestEvaluateCacheKeyDistinguishesFieldKinds(t *testing.T) {
	tests := []struct {
		name   string
		first  []rule.Item
		second []rule.Item
		rule   rule.Rule
		want   []string
	}{
		{
			name:   "number vs numeric string",
			first:  []rule.Item{{ID: "a", Fields: map[string]any{"n": 1}}},
			second: []rule.Item{{ID: "a", Fields: map[string]any{"n": "1"}}},
			rule:   rule.New("n", rule.OpEquals, "1"),
			want:   []string{"a"},
		},
		{
			name:   "separator inside string value",
			first:  []rule.Item{{ID: "a", Fields: map[string]any{"a": "x", "b": "y"}}},
			second: []rule.Item{{ID: "a", Fields: map[string]any{"a": "x b:y"}}},
			rule:   rule.New("b", rule.OpEquals, "y"),
			want:   nil,
		},
		{
			name:   "nested maps",
			first:  []rule.Item{{ID: "a", Fields: map[string]any{"meta": map[string]any{"k": 1}}}},
			second: []rule.Item{{ID: "a", Fields: map[string]any{"meta": map[string]any{"k": "1"}}}},
			rule:   rule.New("status", rule.OpIsEmpty, nil),
			want:   []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, fingerprintItems(tt.first), fingerprintItems(tt.second))

			for _, build := range []bool{false, true} {
				e := newTestEngine(t)
				if build {
					e.BuildIndexes(tt.first, []string{tt.rule.Field})
				}
				rules := []rule.Rule{tt.rule}

				_, err := e.Evaluate(context.Background(), tt.first, rules)
				require.NoError(t, err)

				got, err := e.Evaluate(context.Background(), tt.second, rules)
				require.NoError(t, err)
				assert.ElementsMatch(t, tt.want, rule.IDs(got), "indexed=%v", build)
				assert.ElementsMatch(t, reference(tt.second, rules), rule.IDs(got), "indexed=%v", build)
				assert.Equal(t, uint64(0), e.CacheStats().Hits, "indexed=%v", build)
			}
		})
	}
}

func TestEvaluateIgnoresIndexesBuiltForOtherItems(t *testing.T) {
	e := newTestEngine(t)
	e.BuildIndexes(taskItems(), []string{"status"})

	other := []rule.Item{
		{ID: "t1", Fields: map[string]any{"status": "closed"}},
		{ID: "x9", Fields: map[string]any{"status": "open"}},
	}

	got, err := e.Evaluate(context.Background(), other, []rule.Rule{rule.New("status", rule.OpEquals, "open")})
	require.NoError(t, err)
	assert.Equal(t, []string{"x9"}, rule.IDs(got))
}

func TestAutoIndexBuildsIndexesOnDemand(t *testing.T) {
	e := newTestEngine(t, WithAutoIndex(true))
	items := taskItems()

	_, err := e.Evaluate(context.Background(), items, []rule.Rule{
		rule.New("status", rule.OpEquals, "open"),
		rule.New("priority", rule.OpGreaterThan, 1),
	})
	require.NoError(t, err)

	stats := e.IndexStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "status", stats[0].Field)
	assert.Contains(t, e.Metrics(), "build_index")
}

func TestBuildIndexesClearsCache(t *testing.T) {
	e := newTestEngine(t)
	items := taskItems()

	_, err := e.Evaluate(context.Background(), items, []rule.Rule{rule.New("status", rule.OpEquals, "open")})
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheStats().Size)

	e.BuildIndexes(items, []string{"status"})
	assert.Equal(t, 0, e.CacheStats().Size)
	assert.Len(t, e.IndexStats(), 1)

	e.ClearIndexes()
	assert.Empty(t, e.IndexStats())
}

func TestEvaluateRejectsMalformedRules(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Evaluate(context.Background(), taskItems(), []rule.Rule{{Operator: rule.OpEquals}})
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, taskItems(), []rule.Rule{rule.New("status", rule.OpEquals, "open")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, e.Metrics(), "evaluate_error")
}

func TestFolderRegistry(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.RegisterFolder(Folder{
		Name:  "work",
		Rules: []rule.Rule{rule.New("tags", rule.OpEquals, "work")},
	}))

	t.Run("empty name", func(t *testing.T) {
		err := e.RegisterFolder(Folder{Name: "  "})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
	})

	t.Run("all or nothing", func(t *testing.T) {
		err := e.RegisterFolders([]Folder{
			{Name: "open", Rules: []rule.Rule{rule.New("status", rule.OpEquals, "open")}},
			{Name: "broken", Rules: []rule.Rule{{Field: "status"}}},
		})
		require.Error(t, err)
		assert.Equal(t, []string{"work"}, e.ListFolders())
	})

	t.Run("registered copy is isolated", func(t *testing.T) {
		rules := []rule.Rule{rule.New("status", rule.OpEquals, "open")}
		require.NoError(t, e.RegisterFolder(Folder{Name: "open", Rules: rules}))
		rules[0] = rule.New("status", rule.OpEquals, "closed")

		f, ok := e.GetFolder("open")
		require.True(t, ok)
		assert.Equal(t, "open", f.Rules[0].Value.Text())
	})

	assert.Equal(t, []string{"open", "work"}, e.ListFolders())

	got, err := e.EvaluateFolder(context.Background(), "work", taskItems())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t5"}, rule.IDs(got))

	_, err = e.EvaluateFolder(context.Background(), "missing", taskItems())
	assert.ErrorIs(t, err, ErrFolderNotFound)

	e.UnregisterFolder("work")
	_, ok := e.GetFolder("work")
	assert.False(t, ok)
}

func TestEvaluateAll(t *testing.T) {
	e := newTestEngine(t, WithWorkers(2))
	require.NoError(t, e.RegisterFolders([]Folder{
		{Name: "open", Rules: []rule.Rule{rule.New("status", rule.OpEquals, "open")}},
		{Name: "work", Rules: []rule.Rule{rule.New("tags", rule.OpEquals, "work")}},
		{Name: "urgent", Rules: []rule.Rule{rule.New("priority", rule.OpGreaterThanOrEqual, 5)}},
	}))

	results, err := e.EvaluateAll(context.Background(), taskItems())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"t1", "t3"}, rule.IDs(results["open"]))
	assert.Equal(t, []string{"t1", "t3", "t5"}, rule.IDs(results["work"]))
	assert.Equal(t, []string{"t3"}, rule.IDs(results["urgent"]))

	selected, err := e.EvaluateSelected(context.Background(), []string{"urgent"}, taskItems())
	require.NoError(t, err)
	assert.Len(t, selected, 1)

	_, err = e.EvaluateSelected(context.Background(), []string{"nope"}, taskItems())
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestEvaluateAllWithoutFolders(t *testing.T) {
	e := newTestEngine(t)

	results, err := e.EvaluateAll(context.Background(), taskItems())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPostProcess(t *testing.T) {
	items := make([]rule.Item, 40)
	for i := range items {
		items[i] = rule.Item{ID: fmt.Sprintf("n%d", i)}
	}

	failing := func(processed *atomic.Int32) func(context.Context, rule.Item) error {
		return func(_ context.Context, item rule.Item) error {
			processed.Add(1)
			if item.ID == "n3" || item.ID == "n35" {
				return fmt.Errorf("cannot process %s", item.ID)
			}
			return nil
		}
	}

	t.Run("fail fast", func(t *testing.T) {
		e := newTestEngine(t, WithBatch(5, 2))
		var processed atomic.Int32

		err := e.PostProcess(context.Background(), items, failing(&processed))
		require.Error(t, err)

		var itemErr *batch.ItemError
		require.True(t, errors.As(err, &itemErr))
		assert.Equal(t, 3, itemErr.Index)
		// Only the first wave of ten items was scheduled
		assert.LessOrEqual(t, processed.Load(), int32(10))
		assert.Contains(t, e.Metrics(), "post_process_error")
	})

	t.Run("collect", func(t *testing.T) {
		e := newTestEngine(t, WithBatch(5, 2), WithFailureMode(CollectAll))
		var processed atomic.Int32

		err := e.PostProcess(context.Background(), items, failing(&processed))
		require.Error(t, err)
		assert.Equal(t, int32(len(items)), processed.Load())
		assert.Contains(t, err.Error(), "cannot process n3")
		assert.Contains(t, err.Error(), "cannot process n35")
	})

	t.Run("success", func(t *testing.T) {
		e := newTestEngine(t)
		var processed atomic.Int32

		err := e.PostProcess(context.Background(), items, func(context.Context, rule.Item) error {
			processed.Add(1)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(len(items)), processed.Load())
		assert.Equal(t, 1, e.Metrics()["post_process"].Count)
	})
}

func TestMetricsAndReset(t *testing.T) {
	e := newTestEngine(t)
	items := taskItems()
	rules := []rule.Rule{rule.New("status", rule.OpEquals, "open")}

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), items, rules)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, e.Metrics()["evaluate"].Count)

	e.ResetMetrics()
	assert.Empty(t, e.Metrics())
}

func TestCacheOptionsAreApplied(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithCache(
		cache.WithCapacity(1),
		cache.WithTTL(time.Minute),
		cache.WithClock(func() time.Time { return now }),
	))
	items := taskItems()

	_, err := e.Evaluate(context.Background(), items, []rule.Rule{rule.New("status", rule.OpEquals, "open")})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), items, []rule.Rule{rule.New("tags", rule.OpEquals, "work")})
	require.NoError(t, err)

	stats := e.CacheStats()
	assert.Equal(t, 1, stats.Capacity)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Evictions)

	now = now.Add(2 * time.Minute)
	_, err = e.Evaluate(context.Background(), items, []rule.Rule{rule.New("tags", rule.OpEquals, "work")})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.CacheStats().Hits)

	e.ClearCache()
	assert.Equal(t, 0, e.CacheStats().Size)
}

func TestExplainOrdersCheapRulesFirst(t *testing.T) {
	e := newTestEngine(t)

	steps := e.Explain([]rule.Rule{
		rule.New("content", rule.OpContains, "draft"),
		rule.New("done", rule.OpEquals, false),
	})
	require.Len(t, steps, 2)
	assert.Equal(t, "done", steps[0].Rule.Field)
	assert.Less(t, steps[0].Score, steps[1].Score)
}

func TestParseFailureMode(t *testing.T) {
	tests := []struct {
		input   string
		want    FailureMode
		wantErr bool
	}{
		{input: "", want: FailFast},
		{input: "fail_fast", want: FailFast},
		{input: " COLLECT ", want: CollectAll},
		{input: "retry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFailureMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
