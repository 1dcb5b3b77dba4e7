package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxParallel bounds concurrent action batches per action.
const DefaultMaxParallel = 4

// Executor applies policy actions to matched resources. Actions run in
// policy order; within one action, resources are chunked to the action's
// batch limit and batches run on a bounded worker pool.
type Executor struct {
	maxParallel int
	logger      zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxParallel sets the number of batches processed concurrently.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		maxParallel: DefaultMaxParallel,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// batch is one unit of work: a chunk of resources and where their result
// slots start in the per-action result slice.
type batch struct {
	resources []Resource
	offset    int
}

// Apply runs each action over the resource set and returns one result per
// resource per action, in resource order within each action. A failure on
// one batch never aborts the others; only cancellation stops scheduling new
// batches, and resources whose batch never started are reported skipped.
func (e *Executor) Apply(ctx context.Context, resources []Resource, actions []Action) []Result {
	var all []Result
	for _, action := range actions {
		results := e.applyAction(ctx, resources, action)
		all = append(all, results...)
	}
	return all
}

func (e *Executor) applyAction(ctx context.Context, resources []Resource, action Action) []Result {
	if len(resources) == 0 {
		return nil
	}

	limit := action.BatchLimit()
	if limit <= 0 {
		limit = 1
	}

	var batches []batch
	for start := 0; start < len(resources); start += limit {
		end := min(start+limit, len(resources))
		batches = append(batches, batch{resources: resources[start:end], offset: start})
	}

	results := make([]Result, len(resources))

	workerCount := min(e.maxParallel, len(batches))
	workQueue := make(chan batch, len(batches))
	for _, b := range batches {
		workQueue <- b
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range workQueue {
				// Drain without executing once cancelled; the
				// slots are filled as skipped below.
				select {
				case <-ctx.Done():
					e.fillBatch(results, b, action.Name(), StatusSkipped, ctx.Err())
					continue
				default:
				}
				e.runBatch(ctx, action, b, results)
			}
		}()
	}
	wg.Wait()

	return results
}

func (e *Executor) runBatch(ctx context.Context, action Action, b batch, results []Result) {
	err := action.ProcessBatch(ctx, b.resources)

	switch {
	case err == nil:
		e.fillBatch(results, b, action.Name(), StatusApplied, nil)

	case IsNotFound(err):
		// The resource vanished between query and action; the desired
		// end state already holds.
		e.fillBatch(results, b, action.Name(), StatusSkipped, err)

	default:
		var batchErr *BatchError
		if errors.As(err, &batchErr) {
			e.fillPartialBatch(results, b, action.Name(), batchErr)
			break
		}
		e.logger.Warn().
			Err(err).
			Str("action", action.Name()).
			Int("batch_size", len(b.resources)).
			Msg("action batch failed")
		e.fillBatch(results, b, action.Name(), StatusFailed, err)
	}
}

func (e *Executor) fillBatch(results []Result, b batch, action string, status ResultStatus, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	for i, r := range b.resources {
		results[b.offset+i] = Result{
			ResourceID: r.ID(),
			Action:     action,
			Status:     status,
			Error:      msg,
		}
	}
}

// fillPartialBatch marks only the resources the batch error implicates as
// failed; the rest of the batch was applied.
func (e *Executor) fillPartialBatch(results []Result, b batch, action string, batchErr *BatchError) {
	for i, r := range b.resources {
		result := Result{ResourceID: r.ID(), Action: action, Status: StatusApplied}
		if err, failed := batchErr.Failed[r.ID()]; failed {
			result.Status = StatusFailed
			result.Error = err.Error()
		}
		results[b.offset+i] = result
	}
}
