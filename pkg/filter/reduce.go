package filter

import (
	"context"
	"sort"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// reduceFilter is a whole-set filter: it sorts the candidate set by an
// attribute and keeps either the top N or only the resources sharing the
// extreme value. Resources missing the sort key are dropped.
type reduceFilter struct {
	key   string
	op    string // "top", "max", "min"
	desc  bool
	limit int
}

func (e *Evaluator) compileReduce(m map[string]any) (SetFilter, error) {
	key, _ := m["key"].(string)
	if key == "" {
		return nil, engine.NewUnsupportedFilterError("reduce filter requires a sort key")
	}
	f := &reduceFilter{key: key, op: "top"}
	if op, ok := m["op"].(string); ok {
		f.op = op
	}
	switch f.op {
	case "top", "max", "min":
	default:
		return nil, engine.NewUnsupportedFilterError("reduce op must be top, max or min")
	}
	if order, ok := m["order"].(string); ok && order == "desc" {
		f.desc = true
	}
	if n, ok := toFloat(m["limit"]); ok {
		f.limit = int(n)
	}
	if f.op == "top" && f.limit <= 0 {
		return nil, engine.NewUnsupportedFilterError("reduce top requires a positive limit")
	}
	return f, nil
}

func (f *reduceFilter) Reduce(_ context.Context, resources []engine.Resource) ([]engine.Resource, error) {
	type entry struct {
		r   engine.Resource
		val any
	}
	entries := make([]entry, 0, len(resources))
	for _, r := range resources {
		val, found := resolvePath(r, f.key)
		if !found {
			continue
		}
		entries = append(entries, entry{r: r, val: val})
	}
	if len(entries) == 0 {
		return nil, nil
	}

	switch f.op {
	case "max", "min":
		extreme := entries[0].val
		for _, e := range entries[1:] {
			cmp, ok := compareValues(e.val, extreme)
			if !ok {
				continue
			}
			if (f.op == "max" && cmp > 0) || (f.op == "min" && cmp < 0) {
				extreme = e.val
			}
		}
		var kept []engine.Resource
		for _, e := range entries {
			if cmp, ok := compareValues(e.val, extreme); ok && cmp == 0 {
				kept = append(kept, e.r)
			}
		}
		return kept, nil
	default:
		sort.SliceStable(entries, func(i, j int) bool {
			cmp, ok := compareValues(entries[i].val, entries[j].val)
			if !ok {
				return false
			}
			if f.desc {
				return cmp > 0
			}
			return cmp < 0
		})
		if f.limit < len(entries) {
			entries = entries[:f.limit]
		}
		kept := make([]engine.Resource, 0, len(entries))
		for _, e := range entries {
			kept = append(kept, e.r)
		}
		return kept, nil
	}
}
