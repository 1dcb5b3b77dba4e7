package filter

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/tags"
)

// tagCountFilter matches on the number of user tags a resource carries.
// System tags (keys prefixed "_sys") do not count toward quota and are
// excluded.
type tagCountFilter struct {
	count int
	op    string
}

const systemTagPrefix = "_sys"

func (e *Evaluator) compileTagCount(m map[string]any) (Predicate, error) {
	f := &tagCountFilter{count: 5, op: "gte"}
	if n, ok := toFloat(m["count"]); ok {
		f.count = int(n)
	}
	if op, ok := m["op"].(string); ok {
		f.op = op
	}
	switch f.op {
	case "gte", "greater-or-equal", "gt", "greater-than", "lte", "less-or-equal", "lt", "less-than", "eq", "equal", "ne", "not-equal":
	default:
		return nil, engine.NewUnsupportedFilterError("unknown tag-count op")
	}
	return f, nil
}

func (f *tagCountFilter) Match(_ context.Context, r engine.Resource) (bool, error) {
	n := 0
	for _, tag := range r.Tags() {
		if strings.HasPrefix(tag.Key, systemTagPrefix) {
			continue
		}
		n++
	}
	switch f.op {
	case "gt", "greater-than":
		return n > f.count, nil
	case "lte", "less-or-equal":
		return n <= f.count, nil
	case "lt", "less-than":
		return n < f.count, nil
	case "eq", "equal":
		return n == f.count, nil
	case "ne", "not-equal":
		return n != f.count, nil
	default:
		return n >= f.count, nil
	}
}

// markedForOpFilter selects resources previously marked by a mark-for-op
// action whose due time has arrived.
type markedForOpFilter struct {
	op   string
	tag  string
	skew time.Duration
	now  func() time.Time
}

func (e *Evaluator) compileMarkedForOp(m map[string]any) (Predicate, error) {
	op, _ := m["op"].(string)
	if op == "" {
		return nil, engine.NewUnsupportedFilterError("marked-for-op filter requires an op")
	}
	f := &markedForOpFilter{op: op, tag: tags.DefaultMarkerTag, now: e.now}
	if tag, ok := m["tag"].(string); ok && tag != "" {
		f.tag = tag
	}
	// skew moves the reference time forward, matching marks that come due
	// within the next N days.
	if days, ok := toFloat(m["skew"]); ok {
		f.skew = time.Duration(days * 24 * float64(time.Hour))
	}
	return f, nil
}

func (f *markedForOpFilter) Match(_ context.Context, r engine.Resource) (bool, error) {
	val, found := r.Tag(f.tag)
	if !found {
		return false, nil
	}
	mark, err := tags.ParseMark(val)
	if err != nil {
		return false, nil
	}
	if mark.Action != f.op {
		return false, nil
	}
	return !f.now().Add(f.skew).Before(mark.DueAt), nil
}
