package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

// fakeAdapter serves pre-cut pages and records the requests it saw.
type fakeAdapter struct {
	info       TypeInfo
	pages      []*Page
	requests   []PageRequest
	listErr    error
	augment    func(r Resource) (Resource, error)
	augmentIDs []string
}

func (f *fakeAdapter) Type() TypeInfo { return f.info }

func (f *fakeAdapter) ListPage(_ context.Context, req PageRequest) (*Page, error) {
	f.requests = append(f.requests, req)
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := len(f.requests) - 1
	if idx >= len(f.pages) {
		return &Page{Total: -1}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeAdapter) Augment(_ context.Context, r Resource) (Resource, error) {
	f.augmentIDs = append(f.augmentIDs, r.ID())
	if f.augment != nil {
		return f.augment(r)
	}
	return r, nil
}

func (f *fakeAdapter) Action(string) (Action, bool) { return nil, false }

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func items(ids ...string) []Resource {
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, Resource{IDKey: id})
	}
	return out
}

func queryManagerFor(t *testing.T, adapter Adapter) *QueryManager {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return NewQueryManager(registry, testLogger())
}

func TestQueryOffsetPagination(t *testing.T) {
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "eip", Pagination: PaginationOffset, PageSize: 2},
		pages: []*Page{
			{Items: items("a", "b"), Total: -1},
			{Items: items("c", "d"), Total: -1},
			{Items: items("e"), Total: -1},
		},
	}

	got, err := queryManagerFor(t, adapter).Query(context.Background(), "eip")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 resources, got %d", len(got))
	}

	wantOffsets := []int{0, 2, 4}
	for i, req := range adapter.requests {
		if req.Limit != 2 || req.Offset != wantOffsets[i] {
			t.Errorf("request %d: expected limit=2 offset=%d, got %+v", i, wantOffsets[i], req)
		}
	}
}

func TestQueryOffsetStopsAtTotal(t *testing.T) {
	// Both pages are full, but the reported total says there is nothing
	// beyond them; no third request should be issued.
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "eip", Pagination: PaginationOffset, PageSize: 2},
		pages: []*Page{
			{Items: items("a", "b"), Total: 4},
			{Items: items("c", "d"), Total: 4},
		},
	}

	got, err := queryManagerFor(t, adapter).Query(context.Background(), "eip")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 resources, got %d", len(got))
	}
	if len(adapter.requests) != 2 {
		t.Errorf("expected 2 list calls, got %d", len(adapter.requests))
	}
}

func TestQueryMarkerPagination(t *testing.T) {
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "dns-zone", Pagination: PaginationMarker, PageSize: 2},
		pages: []*Page{
			{Items: items("a", "b"), Total: -1, NextMarker: "m1"},
			{Items: items("c"), Total: -1, NextMarker: ""},
		},
	}

	got, err := queryManagerFor(t, adapter).Query(context.Background(), "dns-zone")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 resources, got %d", len(got))
	}
	if len(adapter.requests) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(adapter.requests))
	}
	if adapter.requests[0].Marker != "" || adapter.requests[1].Marker != "m1" {
		t.Errorf("unexpected markers: %+v", adapter.requests)
	}
}

func TestQueryDedupesAcrossPages(t *testing.T) {
	// "b" shows up on both pages, as happens when the set mutates while
	// paging. The first occurrence wins.
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "eip", Pagination: PaginationOffset, PageSize: 2},
		pages: []*Page{
			{Items: items("a", "b"), Total: -1},
			{Items: items("b", "c"), Total: -1},
			{Items: nil, Total: -1},
		},
	}

	got, err := queryManagerFor(t, adapter).Query(context.Background(), "eip")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID())
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestQueryAugmentFailureDegrades(t *testing.T) {
	adapter := &fakeAdapter{
		info: TypeInfo{Name: "rds", Pagination: PaginationOffset, PageSize: 10},
		pages: []*Page{
			{Items: items("a", "b"), Total: 2},
		},
		augment: func(r Resource) (Resource, error) {
			if r.ID() == "b" {
				return nil, errors.New("tag fetch failed")
			}
			r["tags"] = map[string]any{"env": "prod"}
			return r, nil
		},
	}

	got, err := queryManagerFor(t, adapter).Query(context.Background(), "rds")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(got))
	}
	if _, ok := got[0]["tags"]; !ok {
		t.Error("expected first resource to carry augmented tags")
	}
	if _, ok := got[1]["tags"]; ok {
		t.Error("expected failed augment to keep the pre-augment form")
	}
}

func TestQueryUnknownType(t *testing.T) {
	q := NewQueryManager(NewRegistry(), testLogger())
	_, err := q.Query(context.Background(), "nope")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	a := &fakeAdapter{info: TypeInfo{Name: "eip"}}
	if err := registry.Register(a); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := registry.Register(a); !IsValidation(err) {
		t.Fatalf("expected validation error on duplicate, got %v", err)
	}
}
