// internal/batching/executor.go
package batching

import (
	"context"
	"sync"
	"time"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/metrics"

	"golang.org/x/sync/errgroup"
)

// RetryConfig controls chunk retry behavior. Failed chunks are retried in
// sweeps: sweep n waits BaseDelay * 2^n plus the fixed SweepDelay.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	SweepDelay time.Duration
}

// Settings bundles everything the executor needs for one stage.
type Settings struct {
	Chunk       ChunkConfig
	Concurrency ConcurrencyConfig
	Retry       RetryConfig
}

// ChunkFunc performs one remote call for a single chunk of requests.
type ChunkFunc[Req, Res any] func(ctx context.Context, chunk []Req) ([]Res, error)

// Executor reliably runs a large request list against the scoring service:
// it partitions requests into advisor-sized chunks, dispatches them with
// bounded concurrency and retries failed chunks with exponential backoff.
// A chunk that exhausts its retries yields zero results; siblings are
// unaffected, so failure is scoped to the chunk, never the whole call.
type Executor[Req, Res any] struct {
	stage    string
	settings Settings
	logger   logger.Logger
}

func NewExecutor[Req, Res any](stage string, settings Settings, log logger.Logger) *Executor[Req, Res] {
	return &Executor[Req, Res]{
		stage:    stage,
		settings: settings,
		logger:   log,
	}
}

type chunkState[Req any] struct {
	index    int
	requests []Req
}

// Execute runs all requests and returns the merged results in
// chunk-dispatch order. Chunks that were retried may complete later than
// their siblings; callers must not rely on cross-chunk ordering.
func (e *Executor[Req, Res]) Execute(ctx context.Context, requests []Req, call ChunkFunc[Req, Res]) []Res {
	if len(requests) == 0 {
		return nil
	}

	plan := OptimalChunkSize(len(requests), e.settings.Chunk)
	chunks := partition(requests, plan.Size)
	concurrency := ConcurrencyLevel(len(chunks), e.settings.Concurrency)

	e.logger.Debug("Dispatching scoring chunks", map[string]interface{}{
		"stage":       e.stage,
		"requests":    len(requests),
		"chunkSize":   plan.Size,
		"constraint":  plan.Constraint,
		"chunks":      len(chunks),
		"concurrency": concurrency,
	})

	results := make([][]Res, len(chunks))
	pending := make([]chunkState[Req], len(chunks))
	for i, c := range chunks {
		pending[i] = chunkState[Req]{index: i, requests: c}
	}

	for attempt := 0; attempt <= e.settings.Retry.MaxRetries && len(pending) > 0; attempt++ {
		if attempt > 0 {
			metrics.ChunksRetried.WithLabelValues(e.stage).Add(float64(len(pending)))
			if !e.sleep(ctx, e.backoff(attempt-1)) {
				break
			}
		}

		var mu sync.Mutex
		var failed []chunkState[Req]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, chunk := range pending {
			chunk := chunk
			g.Go(func() error {
				metrics.ChunksDispatched.WithLabelValues(e.stage).Inc()
				res, err := call(gctx, chunk.requests)
				if err != nil {
					mu.Lock()
					if errors.IsRetryable(err) {
						failed = append(failed, chunk)
					} else {
						metrics.ChunksFailed.WithLabelValues(e.stage).Inc()
						e.logger.Warn("Dropping chunk after non-retryable error", map[string]interface{}{
							"stage": e.stage,
							"chunk": chunk.index,
							"size":  len(chunk.requests),
							"error": err.Error(),
						})
					}
					mu.Unlock()
					// The error is handled here; returning it would cancel
					// sibling chunks through the group context.
					return nil
				}
				mu.Lock()
				results[chunk.index] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}

		if len(failed) > 0 && attempt < e.settings.Retry.MaxRetries {
			e.logger.Warn("Chunk sweep finished with failures, scheduling retry", map[string]interface{}{
				"stage":   e.stage,
				"failed":  len(failed),
				"attempt": attempt,
			})
		}
		pending = failed
	}

	if len(pending) > 0 {
		metrics.ChunksFailed.WithLabelValues(e.stage).Add(float64(len(pending)))
		e.logger.Error("Chunks exhausted retries, results for their members are dropped", map[string]interface{}{
			"stage":  e.stage,
			"chunks": len(pending),
		})
	}

	var merged []Res
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

func (e *Executor[Req, Res]) backoff(attempt int) time.Duration {
	return e.settings.Retry.BaseDelay*(1<<attempt) + e.settings.Retry.SweepDelay
}

func (e *Executor[Req, Res]) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
