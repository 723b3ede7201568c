package engine

import (
	"context"
	"sync/atomic"

	"github.com/Veraticus/ledgerline/internal/model"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome for one request of a batch. Err is set only for
// structurally invalid requests.
type BatchItem struct {
	Err    error
	Result model.CategorizationResult
}

// BatchOption configures ClassifyBatch.
type BatchOption func(*batchOptions)

type batchOptions struct {
	progress func(done, total int)
}

// WithProgress reports completed requests as the batch runs.
func WithProgress(fn func(done, total int)) BatchOption {
	return func(o *batchOptions) { o.progress = fn }
}

// ClassifyBatch classifies requests with at most workers in flight and
// returns results in input order. workers is capped at the configured pool
// size. It stops early only when ctx is canceled.
func (e *Engine) ClassifyBatch(ctx context.Context, reqs []Request, workers int, opts ...BatchOption) ([]BatchItem, error) {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if workers <= 0 || workers > e.cfg.Workers {
		workers = e.cfg.Workers
	}

	items := make([]BatchItem, len(reqs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range reqs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := e.Classify(gctx, reqs[i])
			items[i] = BatchItem{Result: result, Err: err}
			if o.progress != nil {
				o.progress(int(done.Add(1)), len(reqs))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return items, err
	}
	if err := ctx.Err(); err != nil {
		return items, err
	}

	e.logger.Info("Batch classified", "count", len(reqs), "workers", workers)
	return items, nil
}
