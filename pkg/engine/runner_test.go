package engine

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// passthroughFilters keeps resources whose status attribute equals the
// configured value, erroring when told to.
type passthroughFilters struct {
	status string
	err    error
}

func (f *passthroughFilters) Evaluate(_ context.Context, resources []Resource, _ []any) ([]Resource, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.status == "" {
		return resources, nil
	}
	var matched []Resource
	for _, r := range resources {
		if r["status"] == f.status {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

type memoryStore struct {
	saved []*Report
	err   error
}

func (s *memoryStore) SaveReport(_ context.Context, report *Report) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, report)
	return nil
}

type memoryEvents struct {
	appended []RunEvent
}

func (s *memoryEvents) AppendEvent(_ context.Context, event RunEvent) error {
	s.appended = append(s.appended, event)
	return nil
}

func runnerFixture(t *testing.T, filters FilterEvaluator, opts ...RunnerOption) (*Runner, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "eip", Pagination: PaginationOffset, PageSize: 10},
		pages: []*Page{{
			Items: []Resource{
				{IDKey: "eip-1", "status": "DOWN"},
				{IDKey: "eip-2", "status": "ACTIVE"},
				{IDKey: "eip-3", "status": "DOWN"},
			},
			Total: 3,
		}},
	}
	registry := NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := NewRunner(
		NewQueryManager(registry, testLogger()),
		filters,
		NewExecutor(testLogger()),
		testLogger(),
		opts...,
	)
	return runner, adapter
}

func TestRunnerPipeline(t *testing.T) {
	store := &memoryStore{}
	runner, _ := runnerFixture(t, &passthroughFilters{status: "DOWN"}, WithReportStore(store))
	action := &fakeAction{name: "delete", batchLimit: 10}

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "down-eips",
		ResourceType: "eip",
		Region:       "cn-north-1",
		Actions:      []Action{action},
	})

	if report.Err != nil {
		t.Fatalf("run failed: %v", report.Err)
	}
	if report.Queried != 3 || report.Matched != 2 {
		t.Errorf("expected queried=3 matched=2, got %d/%d", report.Queried, report.Matched)
	}
	if report.Applied() != 2 {
		t.Errorf("expected 2 applied, got %d", report.Applied())
	}
	if action.calls != 1 {
		t.Errorf("expected a single batch, got %d", action.calls)
	}
	if len(store.saved) != 1 || store.saved[0].RunID != report.RunID {
		t.Errorf("expected the report persisted, got %+v", store.saved)
	}
	if report.CompletedAt.Before(report.StartedAt) {
		t.Error("expected a completion timestamp")
	}
}

func TestRunnerDryRun(t *testing.T) {
	runner, _ := runnerFixture(t, &passthroughFilters{status: "DOWN"})
	action := &fakeAction{name: "delete", batchLimit: 10}

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "down-eips",
		ResourceType: "eip",
		Actions:      []Action{action},
		DryRun:       true,
	})

	if report.Err != nil {
		t.Fatalf("run failed: %v", report.Err)
	}
	if action.calls != 0 {
		t.Errorf("expected no action execution in dry run, got %d calls", action.calls)
	}
	if report.Skipped() != 2 {
		t.Errorf("expected 2 skipped results, got %d", report.Skipped())
	}
}

func TestRunnerFilterFailureReported(t *testing.T) {
	wantErr := NewUnsupportedFilterError("unknown filter type \"bogus\"")
	runner, _ := runnerFixture(t, &passthroughFilters{err: wantErr})

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "broken",
		ResourceType: "eip",
	})

	if !errors.Is(report.Err, wantErr) {
		t.Fatalf("expected the filter error on the report, got %v", report.Err)
	}
	if report.Queried != 3 || report.Matched != 0 {
		t.Errorf("expected queried recorded before the failure, got %+v", report)
	}
}

func TestRunnerQueryFailureReported(t *testing.T) {
	store := &memoryStore{}
	runner, adapter := runnerFixture(t, &passthroughFilters{}, WithReportStore(store))
	adapter.listErr = NewTransientError("listing blew up", nil)

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "unlistable",
		ResourceType: "eip",
	})

	if report.Err == nil {
		t.Fatal("expected a run error")
	}
	// Failed runs are persisted too; the report carries the error.
	if len(store.saved) != 1 {
		t.Errorf("expected the failed report persisted, got %d", len(store.saved))
	}
}

func TestRunnerNoActionsStopsAfterFilter(t *testing.T) {
	runner, _ := runnerFixture(t, &passthroughFilters{status: "DOWN"})

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "report-only",
		ResourceType: "eip",
	})

	if report.Err != nil {
		t.Fatalf("run failed: %v", report.Err)
	}
	if report.Matched != 2 || len(report.Results) != 0 {
		t.Errorf("expected matches with no results, got %+v", report)
	}
}

func TestRunnerRecordsEvents(t *testing.T) {
	events := &memoryEvents{}
	runner, _ := runnerFixture(t, &passthroughFilters{status: "DOWN"}, WithEventSink(events))
	action := &fakeAction{name: "delete", batchLimit: 10}

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "down-eips",
		ResourceType: "eip",
		Actions:      []Action{action},
	})
	if report.Err != nil {
		t.Fatalf("run failed: %v", report.Err)
	}

	if len(events.appended) != 2 {
		t.Fatalf("expected a match event and a completion event, got %d", len(events.appended))
	}
	for _, event := range events.appended {
		if event.RunID != report.RunID {
			t.Errorf("expected events tagged with the run id, got %q", event.RunID)
		}
		if event.Level != "info" {
			t.Errorf("expected info level, got %q", event.Level)
		}
	}
}

func TestRunnerRecordsErrorEvent(t *testing.T) {
	events := &memoryEvents{}
	runner, adapter := runnerFixture(t, &passthroughFilters{}, WithEventSink(events))
	adapter.listErr = NewTransientError("listing blew up", nil)

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "unlistable",
		ResourceType: "eip",
	})
	if report.Err == nil {
		t.Fatal("expected a run error")
	}

	if len(events.appended) != 1 {
		t.Fatalf("expected a single error event, got %d", len(events.appended))
	}
	if events.appended[0].Level != "error" {
		t.Errorf("expected error level, got %q", events.appended[0].Level)
	}
}

func TestRunnerMarksFailedSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	runner, adapter := runnerFixture(t, &passthroughFilters{},
		WithTracer(provider.Tracer("test")))
	adapter.listErr = NewTransientError("listing blew up", nil)

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "unlistable",
		ResourceType: "eip",
	})
	if report.Err == nil {
		t.Fatal("expected a run error")
	}

	statuses := map[string]codes.Code{}
	for _, span := range recorder.Ended() {
		statuses[span.Name()] = span.Status().Code
	}
	if statuses["policy.query"] != codes.Error {
		t.Errorf("expected the query span marked failed, got %v", statuses["policy.query"])
	}
	if statuses["policy.run"] != codes.Error {
		t.Errorf("expected the run span marked failed, got %v", statuses["policy.run"])
	}
}

func TestRunnerStoreFailureDoesNotFailRun(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	runner, _ := runnerFixture(t, &passthroughFilters{}, WithReportStore(store))

	report := runner.Run(context.Background(), RunRequest{
		PolicyName:   "persist-anyway",
		ResourceType: "eip",
	})
	if report.Err != nil {
		t.Fatalf("expected the run to succeed despite the store failure, got %v", report.Err)
	}
}
