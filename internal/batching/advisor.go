// internal/batching/advisor.go
package batching

import "math"

// Complexity classifies how expensive one scoring input is for the remote
// service. Harder items get smaller chunks to bound per-chunk latency.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

func (c Complexity) multiplier() float64 {
	switch c {
	case ComplexityLow:
		return 1.5
	case ComplexityHigh:
		return 0.7
	default:
		return 1.0
	}
}

// ChunkConfig holds the static constraints chunk sizing works under.
type ChunkConfig struct {
	MaxChunkSize      int
	MemoryLimitMB     int
	NetworkLatencyMs  int
	Complexity        Complexity
	ServerConcurrency int
}

// ChunkPlan is the advisor's output: the chunk size to use and which
// constraint bound it. Constraint is informational only.
type ChunkPlan struct {
	Size       int
	Constraint string
}

// Binding-constraint labels reported in ChunkPlan.
const (
	ConstraintSmallWorkload     = "small-workload"
	ConstraintServerConcurrency = "server-concurrency"
	ConstraintNetworkLatency    = "network-latency"
	ConstraintMemoryLimit       = "memory-limit"
	ConstraintMaxChunkSize      = "max-chunk-size"
	ConstraintWorkloadSize      = "workload-size"
)

// OptimalChunkSize computes the chunk size for a workload of totalInputs
// items. Small workloads get chunk size 1 to maximize parallelism; larger
// ones take the minimum of four candidates: concurrency-based (scaled by
// complexity), network-optimal, memory-based and the configured cap.
// All inputs are clamped defensively; the result is always >= 1.
func OptimalChunkSize(totalInputs int, cfg ChunkConfig) ChunkPlan {
	if totalInputs < 1 {
		totalInputs = 1
	}
	maxChunk := cfg.MaxChunkSize
	if maxChunk < 1 {
		maxChunk = 1
	}
	serverConcurrency := cfg.ServerConcurrency
	if serverConcurrency < 1 {
		serverConcurrency = 1
	}

	if totalInputs <= 2*serverConcurrency {
		return ChunkPlan{Size: 1, Constraint: ConstraintSmallWorkload}
	}

	concurrencyBased := math.Ceil(float64(totalInputs)/float64(serverConcurrency)) * cfg.Complexity.multiplier()
	networkOptimal := clampFloat(float64(cfg.NetworkLatencyMs)/10, 3, float64(maxChunk))
	memoryBased := math.Floor(float64(cfg.MemoryLimitMB) / 50)

	size := concurrencyBased
	constraint := ConstraintServerConcurrency
	if networkOptimal < size {
		size = networkOptimal
		constraint = ConstraintNetworkLatency
	}
	if memoryBased < size {
		size = memoryBased
		constraint = ConstraintMemoryLimit
	}
	if float64(maxChunk) < size {
		size = float64(maxChunk)
		constraint = ConstraintMaxChunkSize
	}

	final := int(math.Floor(size))
	if final < 1 {
		final = 1
	}
	// Avoid over-chunking workloads that already fit under the cap.
	if totalInputs <= maxChunk && final > totalInputs {
		final = totalInputs
		constraint = ConstraintWorkloadSize
	}

	return ChunkPlan{Size: final, Constraint: constraint}
}

// ConcurrencyConfig sizes the worker pool used to dispatch chunks. It is
// independent from chunk sizing.
type ConcurrencyConfig struct {
	InputsPerWorker int
	MinConcurrency  int
	MaxConcurrency  int // 0 means uncapped
}

// ConcurrencyLevel computes the worker count for workCount units of work:
// max(ceil(workCount / inputsPerWorker), minConcurrency), capped at
// MaxConcurrency when set.
func ConcurrencyLevel(workCount int, cfg ConcurrencyConfig) int {
	if workCount < 1 {
		workCount = 1
	}
	perWorker := cfg.InputsPerWorker
	if perWorker < 1 {
		perWorker = 1
	}
	minConcurrency := cfg.MinConcurrency
	if minConcurrency < 1 {
		minConcurrency = 1
	}

	level := int(math.Ceil(float64(workCount) / float64(perWorker)))
	if level < minConcurrency {
		level = minConcurrency
	}
	if cfg.MaxConcurrency > 0 && level > cfg.MaxConcurrency {
		level = cfg.MaxConcurrency
	}
	return level
}

func clampFloat(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
