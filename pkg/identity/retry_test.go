package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

func TestWithRefreshRetrySuccess(t *testing.T) {
	iam := &fakeIAM{
		domains:  `{"domains": [{"id": "dom-1"}]}`,
		projects: `{"projects": [{"id": "prj-1", "name": "cn-north-1"}]}`,
	}
	resolver := newTestResolver(t, iam)

	calls := 0
	err := WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		calls++
		if id.ProjectID != "prj-1" {
			t.Errorf("expected resolved identity, got %+v", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefreshRetry failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRefreshRetryRefreshesOnceOnStaleAuth(t *testing.T) {
	iam := &fakeIAM{
		domains:  `{"domains": [{"id": "dom-1"}]}`,
		projects: `{"projects": [{"id": "prj-1", "name": "cn-north-1"}]}`,
	}
	resolver := newTestResolver(t, iam)

	calls := 0
	err := WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		calls++
		if calls == 1 {
			return engine.NewAuthStaleError("stale identity", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefreshRetry failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	// Invalidate throws away the cache entry, so the refresh re-runs both
	// IAM lookups.
	if got := iam.domainCalls.Load(); got != 2 {
		t.Errorf("expected 2 domain lookups, got %d", got)
	}
}

type countingRefreshes struct{ n int }

func (c *countingRefreshes) RecordIdentityRefresh() { c.n++ }

func TestWithRefreshRetryCountsRefreshes(t *testing.T) {
	iam := &fakeIAM{
		domains:  `{"domains": [{"id": "dom-1"}]}`,
		projects: `{"projects": [{"id": "prj-1", "name": "cn-north-1"}]}`,
	}
	refreshes := &countingRefreshes{}
	resolver := newTestResolver(t, iam, WithRefreshRecorder(refreshes))

	calls := 0
	err := WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		calls++
		if calls == 1 {
			return engine.NewAuthStaleError("stale identity", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefreshRetry failed: %v", err)
	}
	if refreshes.n != 1 {
		t.Errorf("expected 1 refresh recorded, got %d", refreshes.n)
	}

	err = WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefreshRetry failed: %v", err)
	}
	if refreshes.n != 1 {
		t.Errorf("expected clean calls to record nothing, got %d", refreshes.n)
	}
}

func TestWithRefreshRetryGivesUpAfterSecondStale(t *testing.T) {
	iam := &fakeIAM{
		domains:  `{"domains": [{"id": "dom-1"}]}`,
		projects: `{"projects": [{"id": "prj-1", "name": "cn-north-1"}]}`,
	}
	resolver := newTestResolver(t, iam)

	calls := 0
	err := WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		calls++
		return engine.NewAuthStaleError("stale identity", nil)
	})
	if !engine.IsAuthStale(err) {
		t.Fatalf("expected auth-stale error surfaced, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls)
	}
}

func TestWithRefreshRetryPassesThroughOtherErrors(t *testing.T) {
	iam := &fakeIAM{
		domains:  `{"domains": [{"id": "dom-1"}]}`,
		projects: `{"projects": [{"id": "prj-1", "name": "cn-north-1"}]}`,
	}
	resolver := newTestResolver(t, iam)

	boom := errors.New("boom")
	calls := 0
	err := WithRefreshRetry(context.Background(), resolver, "cn-north-1", func(id *engine.Identity) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the call error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
