package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// RunRequest is one executable policy: the resource type to enumerate, the
// compiled filter nodes and the compiled actions.
type RunRequest struct {
	PolicyName   string
	ResourceType string
	Region       string
	Filters      []any
	Actions      []Action
	DryRun       bool
}

// Runner drives the query, filter, act pipeline for a single policy run.
type Runner struct {
	queries  *QueryManager
	filters  FilterEvaluator
	executor *Executor
	store    ReportStore
	events   EventSink
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithReportStore persists each report after the run completes.
func WithReportStore(store ReportStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithEventSink records run lifecycle events.
func WithEventSink(sink EventSink) RunnerOption {
	return func(r *Runner) { r.events = sink }
}

// WithMetrics records run counters.
func WithMetrics(m MetricsRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer emits a span per pipeline phase.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a runner.
func NewRunner(queries *QueryManager, filters FilterEvaluator, executor *Executor, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		queries:  queries,
		filters:  filters,
		executor: executor,
		tracer:   noop.NewTracerProvider().Tracer("cloudwarden"),
		logger:   logger.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one policy end to end and returns its report. The report is
// returned even when the run fails partway; Report.Err carries the cause.
// In dry-run mode matched resources are reported skipped without invoking
// any action.
func (r *Runner) Run(ctx context.Context, req RunRequest) *Report {
	report := &Report{
		RunID:        uuid.New().String(),
		Policy:       req.PolicyName,
		ResourceType: req.ResourceType,
		Region:       req.Region,
		StartedAt:    time.Now().UTC(),
	}
	logger := r.logger.With().
		Str("run_id", report.RunID).
		Str("policy", req.PolicyName).
		Str("resource_type", req.ResourceType).
		Logger()

	ctx, span := r.tracer.Start(ctx, "policy.run", trace.WithAttributes(
		attribute.String("policy.name", req.PolicyName),
		attribute.String("resource.type", req.ResourceType),
	))
	defer span.End()

	defer func() {
		report.CompletedAt = time.Now().UTC()
		failSpan(span, report.Err)
		r.finish(ctx, logger, report)
	}()

	queryCtx, querySpan := r.tracer.Start(ctx, "policy.query")
	resources, err := r.queries.Query(queryCtx, req.ResourceType)
	failSpan(querySpan, err)
	querySpan.End()
	if err != nil {
		report.Err = err
		return report
	}
	report.Queried = len(resources)

	filterCtx, filterSpan := r.tracer.Start(ctx, "policy.filter")
	matched, err := r.filters.Evaluate(filterCtx, resources, req.Filters)
	failSpan(filterSpan, err)
	filterSpan.End()
	if err != nil {
		report.Err = err
		return report
	}
	report.Matched = len(matched)
	logger.Info().
		Int("queried", report.Queried).
		Int("matched", report.Matched).
		Msg("resources matched")
	r.recordEvent(ctx, logger, report.RunID, "info",
		fmt.Sprintf("matched %d of %d resources", report.Matched, report.Queried))

	if len(matched) == 0 || len(req.Actions) == 0 {
		return report
	}

	if req.DryRun {
		for _, action := range req.Actions {
			for _, res := range matched {
				report.Results = append(report.Results, Result{
					ResourceID: res.ID(),
					Action:     action.Name(),
					Status:     StatusSkipped,
				})
			}
		}
		logger.Info().Int("would_affect", len(matched)).Msg("dry run, actions not executed")
		return report
	}

	actCtx, actSpan := r.tracer.Start(ctx, "policy.act")
	report.Results = r.executor.Apply(actCtx, matched, req.Actions)
	actSpan.End()

	return report
}

func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, report *Report) {
	duration := report.CompletedAt.Sub(report.StartedAt)

	evt := logger.Info()
	if report.Err != nil {
		evt = logger.Error().Err(report.Err)
	}
	evt.Dur("duration", duration).
		Int("applied", report.Applied()).
		Int("skipped", report.Skipped()).
		Int("failed", report.Failed()).
		Msg("run completed")

	if r.metrics != nil {
		r.metrics.RecordRun(report.Policy, duration, report.Err != nil)
		r.metrics.RecordResources(report.Policy, report.Queried, report.Matched)
		for _, result := range report.Results {
			r.metrics.RecordResult(report.Policy, result.Action, result.Status)
		}
	}

	if report.Err != nil {
		r.recordEvent(ctx, logger, report.RunID, "error", report.Err.Error())
	} else {
		r.recordEvent(ctx, logger, report.RunID, "info",
			fmt.Sprintf("run completed: %d applied, %d skipped, %d failed",
				report.Applied(), report.Skipped(), report.Failed()))
	}

	if r.store != nil {
		if err := r.store.SaveReport(ctx, report); err != nil {
			logger.Warn().Err(err).Msg("failed to persist run report")
		}
	}
}

// failSpan marks a phase span failed. A nil error is a no-op so callers
// need not branch.
func failSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (r *Runner) recordEvent(ctx context.Context, logger zerolog.Logger, runID, level, message string) {
	if r.events == nil {
		return
	}
	event := RunEvent{RunID: runID, Level: level, Message: message, Timestamp: time.Now().UTC()}
	if err := r.events.AppendEvent(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to append run event")
	}
}
