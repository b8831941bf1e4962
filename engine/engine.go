package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spaolacci/murmur3"

	"github.com/s0up4200/smartfolder/batch"
	"github.com/s0up4200/smartfolder/cache"
	"github.com/s0up4200/smartfolder/filter"
	"github.com/s0up4200/smartfolder/index"
	"github.com/s0up4200/smartfolder/optimizer"
	"github.com/s0up4200/smartfolder/perf"
	"github.com/s0up4200/smartfolder/rule"
)

// Folder is a saved, dynamically evaluated rule set
type Folder struct {
	Name        string
	Description string
	Rules       []rule.Rule
}

// Engine evaluates smart folders against item collections. Each Engine owns
// its indexes, result cache and metrics; nothing is shared between engines.
type Engine struct {
	evaluator   filter.Evaluator
	optimizer   *optimizer.Optimizer
	indexes     *index.Manager
	cache       *cache.Cache[[]rule.Item]
	cacheOpts   []cache.Option
	monitor     *perf.Monitor
	pool        WorkerPool
	workers     int
	batch       batch.Options
	failureMode FailureMode
	autoIndex   bool
	logger      zerolog.Logger

	// idxMu guards indexedFor and serializes index rebuilds against
	// evaluations that read the indexes.
	idxMu      sync.RWMutex
	indexedFor string

	mu      sync.RWMutex
	folders map[string]Folder
}

// New creates an engine
func New(opts ...Option) *Engine {
	e := &Engine{
		failureMode: FailFast,
		workers:     defaultWorkers(),
		logger:      zerolog.Nop(),
		folders:     make(map[string]Folder),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.evaluator == nil {
		e.evaluator = filter.NewEvaluator()
	}
	if e.optimizer == nil {
		e.optimizer = optimizer.New()
	}
	if e.monitor == nil {
		e.monitor = perf.New(perf.WithLogger(e.logger))
	}

	e.indexes = index.NewManager(e.evaluator, index.WithLogger(e.logger))
	e.cache = cache.New[[]rule.Item](append([]cache.Option{cache.WithLogger(e.logger)}, e.cacheOpts...)...)
	e.pool = NewWorkerPool(e.workers)

	logger := e.logger
	e.batch.Logger = &logger

	return e
}

// RegisterFolder registers a new smart folder or replaces an existing one
func (e *Engine) RegisterFolder(f Folder) error {
	if err := validateFolder(f); err != nil {
		return err
	}

	e.mu.Lock()
	e.folders[f.Name] = cloneFolder(f)
	e.mu.Unlock()

	return nil
}

// RegisterFolders registers several folders. Nothing is registered unless
// every folder is valid.
func (e *Engine) RegisterFolders(folders []Folder) error {
	validated := make(map[string]Folder, len(folders))

	for _, f := range folders {
		if err := validateFolder(f); err != nil {
			return err
		}
		validated[f.Name] = cloneFolder(f)
	}

	e.mu.Lock()
	maps.Copy(e.folders, validated)
	e.mu.Unlock()

	return nil
}

// UnregisterFolder removes a folder
func (e *Engine) UnregisterFolder(name string) {
	e.mu.Lock()
	delete(e.folders, name)
	e.mu.Unlock()
}

// GetFolder returns a registered folder by name
func (e *Engine) GetFolder(name string) (Folder, bool) {
	e.mu.RLock()
	f, exists := e.folders[name]
	e.mu.RUnlock()
	return f, exists
}

// ListFolders returns all registered folder names, sorted
func (e *Engine) ListFolders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Sorted(maps.Keys(e.folders))
}

func validateFolder(f Folder) error {
	if strings.TrimSpace(f.Name) == "" {
		return &ValidationError{Reason: "folder name is required"}
	}
	for _, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return &ValidationError{Folder: f.Name, Reason: err.Error(), Err: err}
		}
	}
	return nil
}

func cloneFolder(f Folder) Folder {
	f.Rules = slices.Clone(f.Rules)
	return f
}

// Evaluate returns the items matching every rule, in input order.
//
// Identical queries over an identical item collection are answered from the
// cache. Otherwise the rules are optimized and applied one at a time to a
// shrinking candidate set, using indexes where they were built over this
// same collection.
func (e *Engine) Evaluate(ctx context.Context, items []rule.Item, rules []rule.Rule) ([]rule.Item, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, &ValidationError{Reason: err.Error(), Err: err}
		}
	}

	return perf.Time(e.monitor, "evaluate", func() ([]rule.Item, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		itemsKey := fingerprintItems(items)
		key := fingerprintRules(rules) + ":" + itemsKey

		if cached, ok := e.cache.Get(key); ok {
			e.logger.Debug().
				Str("rules", rule.Set(rules).String()).
				Int("matches", len(cached)).
				Msg("Served smart folder from cache")
			return slices.Clone(cached), nil
		}

		plan := e.optimizer.OptimizeRules(rules)
		matches, err := e.evaluatePlan(ctx, items, itemsKey, plan)
		if err != nil {
			return nil, err
		}

		e.cache.Set(key, matches)

		e.logger.Debug().
			Str("rules", rule.Set(plan).String()).
			Int("items", len(items)).
			Int("matches", len(matches)).
			Msg("Evaluated smart folder")

		return slices.Clone(matches), nil
	})
}

// evaluatePlan applies the optimized rules with early pruning
func (e *Engine) evaluatePlan(ctx context.Context, items []rule.Item, itemsKey string, plan []rule.Rule) ([]rule.Item, error) {
	if e.autoIndex {
		e.ensureIndexes(items, itemsKey, plan)
	}

	e.idxMu.RLock()
	defer e.idxMu.RUnlock()

	useIndex := e.indexedFor == itemsKey
	if !useIndex && e.indexedFor != "" {
		e.logger.Debug().Msg("Indexes were built for a different item collection, evaluating without them")
	}

	candidates := slices.Clone(items)
	for _, r := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}

		if useIndex {
			candidates = e.indexes.FilterUsingIndex(candidates, r)
		} else {
			candidates = filter.Naive(e.evaluator, candidates, r)
		}
	}

	return candidates, nil
}

// ensureIndexes builds missing indexes for the plan's indexable rules,
// starting over when the item collection changed.
func (e *Engine) ensureIndexes(items []rule.Item, itemsKey string, plan []rule.Rule) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()

	if e.indexedFor != itemsKey {
		e.indexes.ClearIndexes()
		e.indexedFor = itemsKey
	}

	for _, r := range plan {
		if r.Operator != rule.OpEquals && r.Operator != rule.OpContains {
			continue
		}
		if e.indexes.HasIndex(r.Field) {
			continue
		}
		_ = e.monitor.Measure("build_index", func() error {
			e.indexes.BuildIndex(items, r.Field)
			return nil
		})
	}
}

// EvaluateFolder evaluates a registered folder
func (e *Engine) EvaluateFolder(ctx context.Context, name string, items []rule.Item) ([]rule.Item, error) {
	f, exists := e.GetFolder(name)
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrFolderNotFound, name)
	}

	return e.Evaluate(ctx, items, f.Rules)
}

type folderResult struct {
	name    string
	matches []rule.Item
	err     error
}

// EvaluateAll evaluates every registered folder concurrently. Folders that
// fail are left out of the result map and their errors are joined.
func (e *Engine) EvaluateAll(ctx context.Context, items []rule.Item) (map[string][]rule.Item, error) {
	e.mu.RLock()
	folders := make(map[string]Folder, len(e.folders))
	maps.Copy(folders, e.folders)
	e.mu.RUnlock()

	return e.evaluateFolders(ctx, folders, items)
}

// EvaluateSelected evaluates only the named folders
func (e *Engine) EvaluateSelected(ctx context.Context, names []string, items []rule.Item) (map[string][]rule.Item, error) {
	folders := make(map[string]Folder, len(names))
	for _, name := range names {
		f, exists := e.GetFolder(name)
		if !exists {
			return nil, fmt.Errorf("%w: '%s'", ErrFolderNotFound, name)
		}
		folders[name] = f
	}

	return e.evaluateFolders(ctx, folders, items)
}

func (e *Engine) evaluateFolders(ctx context.Context, folders map[string]Folder, items []rule.Item) (map[string][]rule.Item, error) {
	results := make(map[string][]rule.Item, len(folders))
	if len(folders) == 0 {
		return results, nil
	}

	resultChan := make(chan folderResult, len(folders))

	var wg sync.WaitGroup
	for name, f := range folders {
		wg.Add(1)

		err := e.pool.Submit(ctx, func() {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				resultChan <- folderResult{name: name, err: err}
				return
			}

			matches, err := e.Evaluate(ctx, items, f.Rules)
			resultChan <- folderResult{name: name, matches: matches, err: err}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}

	// Close result channel when all work is done
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var errs []error
	for result := range resultChan {
		if result.err != nil {
			errs = append(errs, fmt.Errorf("folder '%s': %w", result.name, result.err))
			continue
		}
		results[result.name] = result.matches
	}

	return results, errors.Join(errs...)
}

// PostProcess runs fn over items through the batch processor, honouring the
// configured failure mode. In CollectAll mode every item is attempted and
// the failures are returned joined.
func (e *Engine) PostProcess(ctx context.Context, items []rule.Item, fn func(ctx context.Context, item rule.Item) error) error {
	opts := e.batch
	opts.OnProgress = func(processed, total int) {
		e.logger.Debug().
			Int("processed", processed).
			Int("total", total).
			Msg("Post-processing progress")
	}

	process := func(ctx context.Context, item rule.Item) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	}

	return e.monitor.Measure("post_process", func() error {
		if e.failureMode != CollectAll {
			_, err := batch.Process(ctx, items, process, opts)
			return err
		}

		results, err := batch.ProcessAll(ctx, items, process, opts)
		if err != nil {
			return err
		}

		failed := batch.Failed(results)
		if len(failed) > 0 {
			e.logger.Warn().
				Int("failed", len(failed)).
				Int("total", len(items)).
				Msg("Post-processing finished with failures")
		}
		return errors.Join(failed...)
	})
}

// BuildIndexes indexes fields over items. Evaluations over the same item
// collection use these indexes; the result cache is cleared.
func (e *Engine) BuildIndexes(items []rule.Item, fields []string) {
	itemsKey := fingerprintItems(items)

	e.idxMu.Lock()
	defer e.idxMu.Unlock()

	_ = e.monitor.Measure("build_index", func() error {
		if e.indexedFor != itemsKey {
			e.indexes.ClearIndexes()
		}
		e.indexes.BuildIndexes(items, fields)
		return nil
	})
	e.indexedFor = itemsKey
	e.cache.Clear()
}

// ClearIndexes drops every index and clears the result cache
func (e *Engine) ClearIndexes() {
	e.idxMu.Lock()
	e.indexes.ClearIndexes()
	e.indexedFor = ""
	e.idxMu.Unlock()

	e.cache.Clear()
}

// IndexStats describes the current indexes
func (e *Engine) IndexStats() []index.Stats {
	return e.indexes.Stats()
}

// Explain returns the optimized plan for rules
func (e *Engine) Explain(rules []rule.Rule) []optimizer.Step {
	return e.optimizer.Explain(rules)
}

// ClearCache empties the result cache
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// CacheStats reports result cache statistics
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Metrics returns the recorded operation timings
func (e *Engine) Metrics() map[string]perf.Metric {
	return e.monitor.Metrics()
}

// ResetMetrics clears the recorded operation timings
func (e *Engine) ResetMetrics() {
	e.monitor.Reset()
}

// Monitor exposes the engine's performance monitor so callers can measure
// their own operations alongside the engine's
func (e *Engine) Monitor() *perf.Monitor {
	return e.monitor
}

// Close gracefully shuts down the engine's worker pool
func (e *Engine) Close(ctx context.Context) error {
	return e.pool.Stop(ctx)
}

// fingerprintRules hashes the rule sequence
func fingerprintRules(rules []rule.Rule) string {
	h := murmur3.New128()
	for _, r := range rules {
		h.Write([]byte(r.Key()))
		h.Write([]byte{0x1e})
	}
	a, b := h.Sum128()
	return fmt.Sprintf("%016x%016x", a, b)
}

// fingerprintItems hashes item IDs and contents. Fields are written in
// sorted key order with kind-tagged values, so equal collections hash
// equally and values of different kinds never collide.
func fingerprintItems(items []rule.Item) string {
	h := murmur3.New128()
	for _, it := range items {
		h.Write([]byte(strconv.Quote(it.ID)))
		writeFields(h, it.Fields)
		h.Write([]byte{0x1e})
	}
	a, b := h.Sum128()
	return fmt.Sprintf("%d:%016x%016x", len(items), a, b)
}

func writeFields(w io.Writer, fields map[string]any) {
	io.WriteString(w, "{")
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		io.WriteString(w, strconv.Quote(k))
		io.WriteString(w, "=")
		writeFieldValue(w, fields[k])
		io.WriteString(w, ",")
	}
	io.WriteString(w, "}")
}

func writeFieldValue(w io.Writer, v any) {
	switch x := v.(type) {
	case map[string]any:
		writeFields(w, x)
	case []any:
		io.WriteString(w, "[")
		for _, el := range x {
			writeFieldValue(w, el)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "]")
	default:
		io.WriteString(w, strconv.Quote(rule.FromAny(v).Key()))
	}
}
