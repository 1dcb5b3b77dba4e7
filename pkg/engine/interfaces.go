package engine

import (
	"context"
	"time"
)

// FilterEvaluator narrows a resource set to the subset matching a policy's
// filter nodes. Implemented by pkg/filter.
type FilterEvaluator interface {
	// Evaluate applies the filter nodes in order. The returned slice
	// preserves the original resource order and contains no duplicates.
	Evaluate(ctx context.Context, resources []Resource, nodes []any) ([]Resource, error)
}

// ReportStore persists run reports for later inspection. Implemented by
// pkg/stores.
type ReportStore interface {
	// SaveReport persists a completed run report and its results.
	SaveReport(ctx context.Context, report *Report) error
}

// RunEvent is one entry in a run's append-only event log.
type RunEvent struct {
	RunID     string
	Level     string
	Message   string
	Timestamp time.Time
}

// EventSink records run lifecycle events as they happen, so a failed run
// leaves a trail even when its report is never written. Implemented by
// pkg/stores.
type EventSink interface {
	AppendEvent(ctx context.Context, event RunEvent) error
}

// MetricsRecorder receives run-level counters. Implemented by
// pkg/telemetry.
type MetricsRecorder interface {
	RecordRun(policy string, duration time.Duration, failed bool)
	RecordResources(policy string, queried, matched int)
	RecordResult(policy, action string, status ResultStatus)
}
