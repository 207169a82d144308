package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/updohilo/updohilo/pkg/engine"

// Runner executes a compiled graph. A Runner holds no per-run state and may
// drive any number of concurrent runs; each run owns its RunState.
type Runner struct {
	graph    *Graph
	observer Observer
	tracer   trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver adds a lifecycle observer.
func WithObserver(obs Observer) RunnerOption {
	return func(r *Runner) {
		if obs == nil {
			return
		}
		if existing, ok := r.observer.(Observers); ok {
			r.observer = append(existing, obs)
			return
		}
		r.observer = Observers{obs}
	}
}

// NewRunner compiles graph and creates a runner for it.
func NewRunner(graph *Graph, opts ...RunnerOption) (*Runner, error) {
	if graph == nil {
		return nil, NewInvalidError("graph is nil")
	}
	if err := graph.Compile(); err != nil {
		return nil, err
	}

	r := &Runner{
		graph:    graph,
		observer: Observers{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Graph returns the compiled graph.
func (r *Runner) Graph() *Graph {
	return r.graph
}

// Run executes one pipeline run over store. The returned result is always
// non-nil; the error is the classified failure, if any. A run rejected for
// an invalid cfg executes no node and is not reported to observers.
func (r *Runner) Run(ctx context.Context, store *ResourceStore, cfg RunConfig) (*RunResult, error) {
	runID := uuid.New().String()
	if err := cfg.Validate(); err != nil {
		return rejectedRun(runID, store, err), err
	}

	state := NewRunState(runID, store, cfg)
	logger := zerolog.Ctx(ctx).With().Str("run_id", state.RunID).Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", state.RunID),
			attribute.Bool("run.dry_run", state.Config.DryRun),
			attribute.Int("run.max_retries", state.Config.RetryLimit()),
		),
	)
	defer span.End()

	result := &RunResult{
		RunID:     state.RunID,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	logger.Info().
		Strs("seeds", state.Store.Keys()).
		Bool("dry_run", state.Config.DryRun).
		Int("max_retries", state.Config.RetryLimit()).
		Msg("Run started")
	r.observer.RunStarted(ctx, state)

	final, err := r.graph.walk(ctx, state, func(ctx context.Context, exec NodeExecution) {
		r.traceNode(ctx, exec)
		result.Executions = append(result.Executions, exec)
		r.observer.NodeFinished(ctx, state.RunID, exec)
	})

	result.CompletedAt = time.Now()
	result.Status = StatusFor(err)
	result.Iterations = final.Iteration
	result.Store = final.Store.Snapshot()
	result.Log = final.Log

	if err != nil {
		result.Failure = &Failure{
			Node:    failedNode(err),
			Kind:    KindOf(err),
			Message: err.Error(),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).
			Str("status", string(result.Status)).
			Int("iterations", result.Iterations).
			Msg("Run failed")
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info().
			Int("iterations", result.Iterations).
			Dur("duration", result.CompletedAt.Sub(result.StartedAt)).
			Msg("Run completed")
	}

	r.observer.RunFinished(ctx, result)
	return result, err
}

// rejectedRun is the result of a run that failed before its first node.
func rejectedRun(runID string, store *ResourceStore, err error) *RunResult {
	now := time.Now()
	result := &RunResult{
		RunID:       runID,
		Status:      StatusFor(err),
		StartedAt:   now,
		CompletedAt: now,
		Failure:     &Failure{Kind: KindOf(err), Message: err.Error()},
	}
	if store != nil {
		result.Store = store.Snapshot()
	}
	return result
}

// traceNode records a completed node as a span with its real start time.
func (r *Runner) traceNode(ctx context.Context, exec NodeExecution) {
	_, span := r.tracer.Start(ctx, "node."+exec.Node,
		trace.WithTimestamp(exec.StartedAt),
		trace.WithAttributes(
			attribute.String("node.id", exec.Node),
			attribute.String("node.kind", string(exec.Kind)),
			attribute.Int("node.iteration", exec.Iteration),
		),
	)
	if exec.Error != "" {
		span.SetStatus(codes.Error, exec.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(exec.StartedAt.Add(exec.Duration)))
}

// failedNode returns the outermost node identifier in the error chain.
func failedNode(err error) string {
	for err != nil {
		if e, ok := err.(*EngineError); ok && e.Node != "" {
			return e.Node
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
