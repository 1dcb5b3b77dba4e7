package filter

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(zerolog.New(nil).Level(zerolog.Disabled))
}

func resourceSet(ids ...string) []engine.Resource {
	out := make([]engine.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, engine.Resource{"id": id})
	}
	return out
}

func idsOf(resources []engine.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID())
	}
	return out
}

func TestValueFilter(t *testing.T) {
	resource := engine.Resource{
		"id":     "r-1",
		"name":   "web-server-01",
		"status": "ACTIVE",
		"port":   float64(8080),
		"spec": map[string]any{
			"flavor": "small",
			"rules":  []any{map[string]any{"proto": "tcp"}},
		},
		"tags": []any{
			map[string]any{"key": "env", "value": "prod"},
		},
	}

	tests := []struct {
		name  string
		node  map[string]any
		match bool
	}{
		{
			name:  "equal on string",
			node:  map[string]any{"type": "value", "key": "status", "value": "ACTIVE"},
			match: true,
		},
		{
			name:  "equal across numeric types",
			node:  map[string]any{"type": "value", "key": "port", "value": 8080},
			match: true,
		},
		{
			name:  "not-equal",
			node:  map[string]any{"type": "value", "key": "status", "op": "not-equal", "value": "SHUTOFF"},
			match: true,
		},
		{
			name:  "in",
			node:  map[string]any{"type": "value", "key": "status", "op": "in", "value": []any{"ACTIVE", "BUILD"}},
			match: true,
		},
		{
			name:  "not-in",
			node:  map[string]any{"type": "value", "key": "status", "op": "not-in", "value": []any{"SHUTOFF"}},
			match: true,
		},
		{
			name:  "contains on string",
			node:  map[string]any{"type": "value", "key": "name", "op": "contains", "value": "server"},
			match: true,
		},
		{
			name:  "greater-than",
			node:  map[string]any{"type": "value", "key": "port", "op": "greater-than", "value": 1024},
			match: true,
		},
		{
			name:  "less-than fails",
			node:  map[string]any{"type": "value", "key": "port", "op": "less-than", "value": 1024},
			match: false,
		},
		{
			name:  "regex",
			node:  map[string]any{"type": "value", "key": "name", "op": "regex", "value": `^web-server-\d+$`},
			match: true,
		},
		{
			name:  "nested path",
			node:  map[string]any{"type": "value", "key": "spec.flavor", "value": "small"},
			match: true,
		},
		{
			name:  "indexed path",
			node:  map[string]any{"type": "value", "key": "spec.rules[0].proto", "value": "tcp"},
			match: true,
		},
		{
			name:  "tag shorthand path",
			node:  map[string]any{"type": "value", "key": "tag:env", "value": "prod"},
			match: true,
		},
		{
			name:  "absent on missing key",
			node:  map[string]any{"type": "value", "key": "deleted_at", "op": "absent"},
			match: true,
		},
		{
			name:  "present on missing key fails",
			node:  map[string]any{"type": "value", "key": "deleted_at", "op": "present"},
			match: false,
		},
		{
			name:  "value absent string is an existence check",
			node:  map[string]any{"type": "value", "key": "deleted_at", "value": "absent"},
			match: true,
		},
		{
			name:  "positive op on missing key fails",
			node:  map[string]any{"type": "value", "key": "deleted_at", "value": "x"},
			match: false,
		},
		{
			name:  "negative op on missing key fails by default",
			node:  map[string]any{"type": "value", "key": "deleted_at", "op": "not-equal", "value": "x"},
			match: false,
		},
		{
			name:  "negative op on missing key matches with allow_absent",
			node:  map[string]any{"type": "value", "key": "deleted_at", "op": "not-equal", "value": "x", "allow_absent": true},
			match: true,
		},
	}

	e := testEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(context.Background(), resource, []any{tt.node})
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if got != tt.match {
				t.Errorf("expected match=%v, got %v", tt.match, got)
			}
		})
	}
}

func TestValueShorthand(t *testing.T) {
	e := testEvaluator()
	resource := engine.Resource{"id": "r-1", "status": "ACTIVE"}

	got, err := e.Match(context.Background(), resource, []any{
		map[string]any{"status": "ACTIVE"},
	})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !got {
		t.Error("expected shorthand equality to match")
	}
}

func TestValueFilterBadRegex(t *testing.T) {
	e := testEvaluator()
	_, err := e.Evaluate(context.Background(), resourceSet("a"), []any{
		map[string]any{"type": "value", "key": "name", "op": "regex", "value": "("},
	})
	if !engine.IsUnsupportedFilter(err) {
		t.Fatalf("expected unsupported-filter error, got %v", err)
	}
}

func TestUnknownFilterType(t *testing.T) {
	e := testEvaluator()
	_, err := e.Evaluate(context.Background(), resourceSet("a"), []any{
		map[string]any{"type": "no-such-filter"},
	})
	if !engine.IsUnsupportedFilter(err) {
		t.Fatalf("expected unsupported-filter error, got %v", err)
	}
}

func TestCombinators(t *testing.T) {
	resources := []engine.Resource{
		{"id": "a", "status": "ACTIVE", "size": float64(10)},
		{"id": "b", "status": "ACTIVE", "size": float64(50)},
		{"id": "c", "status": "SHUTOFF", "size": float64(50)},
	}
	e := testEvaluator()

	tests := []struct {
		name string
		node map[string]any
		want []string
	}{
		{
			name: "and is the intersection",
			node: map[string]any{"and": []any{
				map[string]any{"status": "ACTIVE"},
				map[string]any{"type": "value", "key": "size", "op": "greater-than", "value": 20},
			}},
			want: []string{"b"},
		},
		{
			name: "or is the union",
			node: map[string]any{"or": []any{
				map[string]any{"status": "SHUTOFF"},
				map[string]any{"type": "value", "key": "size", "value": 10},
			}},
			want: []string{"a", "c"},
		},
		{
			name: "not negates",
			node: map[string]any{"not": []any{
				map[string]any{"status": "ACTIVE"},
			}},
			want: []string{"c"},
		},
		{
			name: "double negation restores the set",
			node: map[string]any{"not": []any{
				map[string]any{"not": []any{
					map[string]any{"status": "ACTIVE"},
				}},
			}},
			want: []string{"a", "b"},
		},
		{
			name: "empty and matches everything",
			node: map[string]any{"type": "and", "filters": []any{}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "empty or matches nothing",
			node: map[string]any{"type": "or", "filters": []any{}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), resources, []any{tt.node})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			gotIDs := idsOf(got)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, gotIDs)
			}
			for i := range tt.want {
				if gotIDs[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, gotIDs)
				}
			}
		})
	}
}

func TestSequentialNodesNarrow(t *testing.T) {
	resources := []engine.Resource{
		{"id": "a", "status": "ACTIVE", "size": float64(10)},
		{"id": "b", "status": "ACTIVE", "size": float64(50)},
		{"id": "c", "status": "SHUTOFF", "size": float64(50)},
	}
	e := testEvaluator()

	got, err := e.Evaluate(context.Background(), resources, []any{
		map[string]any{"status": "ACTIVE"},
		map[string]any{"type": "value", "key": "size", "value": 50},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("expected [b], got %v", idsOf(got))
	}
}

func TestListItemFilter(t *testing.T) {
	resources := []engine.Resource{
		{"id": "open", "rules": []any{
			map[string]any{"port": float64(22)},
			map[string]any{"port": float64(443)},
		}},
		{"id": "closed", "rules": []any{
			map[string]any{"port": float64(443)},
		}},
		{"id": "norules"},
	}
	e := testEvaluator()

	got, err := e.Evaluate(context.Background(), resources, []any{
		map[string]any{
			"type": "list-item",
			"key":  "rules",
			"filters": []any{
				map[string]any{"type": "value", "key": "port", "value": 22},
			},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "open" {
		t.Errorf("expected [open], got %v", idsOf(got))
	}
}

func TestListItemMatchAll(t *testing.T) {
	resources := []engine.Resource{
		{"id": "all443", "rules": []any{
			map[string]any{"port": float64(443)},
			map[string]any{"port": float64(443)},
		}},
		{"id": "mixed", "rules": []any{
			map[string]any{"port": float64(443)},
			map[string]any{"port": float64(22)},
		}},
	}
	e := testEvaluator()

	got, err := e.Evaluate(context.Background(), resources, []any{
		map[string]any{
			"type":  "list-item",
			"key":   "rules",
			"match": "all",
			"filters": []any{
				map[string]any{"type": "value", "key": "port", "value": 443},
			},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "all443" {
		t.Errorf("expected [all443], got %v", idsOf(got))
	}
}

func TestSetFilterCannotNest(t *testing.T) {
	e := testEvaluator()
	_, err := e.Evaluate(context.Background(), resourceSet("a"), []any{
		map[string]any{"and": []any{
			map[string]any{"type": "reduce", "key": "size", "op": "top", "limit": 1},
		}},
	})
	if !engine.IsUnsupportedFilter(err) {
		t.Fatalf("expected unsupported-filter error, got %v", err)
	}
}
