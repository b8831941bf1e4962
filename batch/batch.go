// Package batch runs a per-item operation over large collections in
// fixed-size batches, a bounded number of batches at a time.
//
// Batches are grouped into waves of up to Concurrency batches. Every item of
// a wave runs concurrently, so at most Concurrency*BatchSize operations are
// in flight. Results always come back in input order.
package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Defaults used when Options leaves a field unset
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 3
)

// ProgressFunc receives an upper bound on the items scheduled so far.
type ProgressFunc func(processed, total int)

// Options controls batching.
type Options struct {
	BatchSize   int
	Concurrency int
	OnProgress  ProgressFunc
	Logger      *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Result is the outcome for one item in collect-all mode.
type Result[R any] struct {
	Value R
	Err   error
}

// ItemError reports which item failed a fail-fast run.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Process runs fn over items and fails fast: the first error cancels the
// running wave and is returned without partial results.
func Process[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts Options) ([]R, error) {
	results := make([]R, len(items))

	err := run(ctx, len(items), opts, func(ctx context.Context, g *errgroup.Group, i int) {
		g.Go(func() error {
			v, err := fn(ctx, items[i])
			if err != nil {
				return &ItemError{Index: i, Err: err}
			}
			results[i] = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ProcessAll runs fn over every item and records each outcome. Item
// failures never stop the run; only context cancellation does.
func ProcessAll[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts Options) ([]Result[R], error) {
	results := make([]Result[R], len(items))

	err := run(ctx, len(items), opts, func(ctx context.Context, g *errgroup.Group, i int) {
		g.Go(func() error {
			v, err := fn(ctx, items[i])
			results[i] = Result[R]{Value: v, Err: err}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Failed returns the errors from results, keeping their order.
func Failed[R any](results []Result[R]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// run drives the waves. schedule must start item i on g.
func run(ctx context.Context, total int, opts Options, schedule func(context.Context, *errgroup.Group, int)) error {
	opts = opts.withDefaults()
	if total == 0 {
		return nil
	}

	waveSize := opts.BatchSize * opts.Concurrency
	waves := (total + waveSize - 1) / waveSize

	for wave := 0; wave < waves; wave++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := wave * waveSize
		end := min(start+waveSize, total)

		g, waveCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			schedule(waveCtx, g, i)
		}

		if err := g.Wait(); err != nil {
			opts.Logger.Debug().
				Err(err).
				Int("wave", wave).
				Msg("Batch wave failed")
			return err
		}

		opts.Logger.Trace().
			Int("wave", wave).
			Int("waves", waves).
			Int("items", end-start).
			Msg("Batch wave completed")

		if opts.OnProgress != nil {
			opts.OnProgress(end, total)
		}
	}

	return nil
}
