package graph

import (
	"time"

	"github.com/dshills/agentgraph-go/graph/emit"
)

// RunnerOptions configures a GraphRunner. Mirrors the teacher's functional
// option pattern, trimmed to what a sequential-per-run executor needs —
// spec.md §5 makes node loop execution strictly sequential per run, so the
// teacher's concurrent-engine-only knobs (MaxConcurrentNodes, QueueDepth,
// BackpressureTimeout) have no equivalent here; ParallelNode owns its own
// internal concurrency instead (see graph/node/parallel.go).
type RunnerOptions struct {
	// MaxSteps bounds the node loop to prevent runaway graphs (cycles
	// without a terminating condition). Zero means no limit.
	MaxSteps int

	// DefaultNodeTimeout applies to nodes without an explicit
	// NodePolicy.Timeout. Zero means no per-node deadline.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds total Execute/Resume wall-clock time.
	// Zero means no overall deadline beyond the caller's context.
	RunWallClockBudget time.Duration

	// DefaultIdempotencyTTL is used when a node's policy doesn't specify
	// one. Zero means cached entries never expire.
	DefaultIdempotencyTTL time.Duration

	// ReplayMode, when true, serves recordable node I/O from the replay
	// harness instead of invoking it live (spec.md §9 supplemental
	// replay/determinism harness).
	ReplayMode bool

	// StrictReplay fails the run with ErrReplayMismatch when replayed I/O
	// disagrees with what was recorded; when false, mismatches are
	// tolerated (best-effort replay).
	StrictReplay bool

	Metrics *RunnerMetrics

	// Logger receives diagnostic events (node start/complete, errors,
	// retries) alongside whatever the graph's EventBus publishes to domain
	// subscribers. The EventBus is the spec's pub/sub contract for
	// consumers; Logger is the ambient observability sink a deployment
	// wires to stdout, a log aggregator, or OpenTelemetry. Nil disables
	// diagnostic logging (the default).
	Logger emit.Emitter
}

// Option is a functional option for configuring a GraphRunner.
type Option func(*RunnerOptions)

// WithMaxSteps bounds the node loop. Default: 0 (unbounded).
func WithMaxSteps(n int) Option {
	return func(o *RunnerOptions) { o.MaxSteps = n }
}

// WithDefaultNodeTimeout sets the per-node deadline used when a node's own
// policy doesn't specify one. Default: 0 (no timeout).
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *RunnerOptions) { o.DefaultNodeTimeout = d }
}

// WithRunWallClockBudget bounds total run time. Default: 0 (unbounded).
func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *RunnerOptions) { o.RunWallClockBudget = d }
}

// WithDefaultIdempotencyTTL sets the TTL used for idempotency-store writes
// when a node's policy doesn't specify one. Default: 0 (no expiry).
func WithDefaultIdempotencyTTL(d time.Duration) Option {
	return func(o *RunnerOptions) { o.DefaultIdempotencyTTL = d }
}

// WithReplayMode enables serving recordable node I/O from the replay
// harness instead of live execution.
func WithReplayMode(enabled bool) Option {
	return func(o *RunnerOptions) { o.ReplayMode = enabled }
}

// WithStrictReplay controls whether a replay mismatch fails the run.
// Default: true.
func WithStrictReplay(enabled bool) Option {
	return func(o *RunnerOptions) { o.StrictReplay = enabled }
}

// WithMetrics attaches Prometheus metrics collection to the runner.
func WithMetrics(m *RunnerMetrics) Option {
	return func(o *RunnerOptions) { o.Metrics = m }
}

// WithLogger attaches a diagnostic event emitter to the runner.
func WithLogger(e emit.Emitter) Option {
	return func(o *RunnerOptions) { o.Logger = e }
}

func defaultRunnerOptions() RunnerOptions {
	return RunnerOptions{StrictReplay: true}
}
