package batching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(maxChunk, maxRetries int) Settings {
	return Settings{
		Chunk: ChunkConfig{
			MaxChunkSize:      maxChunk,
			MemoryLimitMB:     100000,
			NetworkLatencyMs:  100000,
			Complexity:        ComplexityMedium,
			ServerConcurrency: 2,
		},
		Concurrency: ConcurrencyConfig{
			InputsPerWorker: 2,
			MinConcurrency:  2,
			MaxConcurrency:  4,
		},
		Retry: RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  time.Millisecond,
			SweepDelay: time.Millisecond,
		},
	}
}

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestExecutor_AllChunksSucceed_NoLossNoDuplicates(t *testing.T) {
	exec := NewExecutor[int, int]("l2", testSettings(10, 3), logger.NewNoOpLogger())

	requests := intRange(100)
	results := exec.Execute(context.Background(), requests, func(_ context.Context, chunk []int) ([]int, error) {
		out := make([]int, len(chunk))
		copy(out, chunk)
		return out, nil
	})

	require.Len(t, results, len(requests))
	seen := make(map[int]bool)
	for _, r := range results {
		assert.False(t, seen[r], "duplicate result %d", r)
		seen[r] = true
	}
}

func TestExecutor_EventualSuccessAfterRetries(t *testing.T) {
	exec := NewExecutor[int, int]("l2", testSettings(10, 3), logger.NewNoOpLogger())

	var mu sync.Mutex
	attempts := make(map[string]int)

	requests := intRange(60)
	results := exec.Execute(context.Background(), requests, func(_ context.Context, chunk []int) ([]int, error) {
		key := fmt.Sprintf("%d", chunk[0])
		mu.Lock()
		attempts[key]++
		n := attempts[key]
		mu.Unlock()

		// Every chunk fails twice before succeeding.
		if n <= 2 {
			return nil, fmt.Errorf("transient: connection reset")
		}
		out := make([]int, len(chunk))
		copy(out, chunk)
		return out, nil
	})

	assert.Len(t, results, len(requests))
}

func TestExecutor_ExhaustedChunkIsIsolated(t *testing.T) {
	exec := NewExecutor[int, int]("l1", testSettings(10, 2), logger.NewNoOpLogger())

	requests := intRange(60) // 6 chunks of 10
	results := exec.Execute(context.Background(), requests, func(_ context.Context, chunk []int) ([]int, error) {
		// The chunk starting at 20 always fails.
		if chunk[0] == 20 {
			return nil, fmt.Errorf("transient: 503")
		}
		out := make([]int, len(chunk))
		copy(out, chunk)
		return out, nil
	})

	assert.Len(t, results, 50)
	for _, r := range results {
		assert.False(t, r >= 20 && r < 30, "item %d from the dead chunk leaked through", r)
	}
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	exec := NewExecutor[int, int]("l3", testSettings(10, 5), logger.NewNoOpLogger())

	var mu sync.Mutex
	calls := 0

	requests := intRange(10) // single chunk
	results := exec.Execute(context.Background(), requests, func(_ context.Context, _ []int) ([]int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.NewScoringValidationRejectError("field 'features' missing")
	})

	assert.Empty(t, results)
	assert.Equal(t, 1, calls, "validation rejection must not be retried")
}

func TestExecutor_MergePreservesChunkDispatchOrder(t *testing.T) {
	exec := NewExecutor[int, int]("l2", testSettings(10, 3), logger.NewNoOpLogger())

	var mu sync.Mutex
	failedOnce := false

	requests := intRange(40) // 4 chunks
	results := exec.Execute(context.Background(), requests, func(_ context.Context, chunk []int) ([]int, error) {
		// First chunk fails once, so it completes after its siblings.
		mu.Lock()
		shouldFail := chunk[0] == 0 && !failedOnce
		if shouldFail {
			failedOnce = true
		}
		mu.Unlock()
		if shouldFail {
			return nil, fmt.Errorf("transient")
		}
		out := make([]int, len(chunk))
		copy(out, chunk)
		return out, nil
	})

	require.Len(t, results, 40)
	// Merged output still follows chunk-dispatch order despite the retry.
	for i, r := range results {
		assert.Equal(t, i, r)
	}
}

func TestExecutor_EmptyInput(t *testing.T) {
	exec := NewExecutor[int, int]("l1", testSettings(10, 3), logger.NewNoOpLogger())

	results := exec.Execute(context.Background(), nil, func(_ context.Context, _ []int) ([]int, error) {
		t.Fatal("call must not be invoked for empty input")
		return nil, nil
	})
	assert.Empty(t, results)
}

func TestExecutor_ContextCancelStopsRetrySweeps(t *testing.T) {
	settings := testSettings(10, 10)
	settings.Retry.BaseDelay = 50 * time.Millisecond
	exec := NewExecutor[int, int]("l2", settings, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0

	start := time.Now()
	results := exec.Execute(ctx, intRange(10), func(_ context.Context, _ []int) ([]int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		cancel()
		return nil, fmt.Errorf("transient")
	})

	assert.Empty(t, results)
	assert.Less(t, time.Since(start), 2*time.Second)
	mu.Lock()
	// Only the first sweep ran; cancellation stopped further retry sweeps.
	assert.LessOrEqual(t, calls, 2)
	mu.Unlock()
}
