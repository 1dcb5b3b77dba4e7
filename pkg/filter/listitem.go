package filter

import (
	"context"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// listItemFilter applies child filters to each element of a list attribute.
// Default is existential: the resource matches when at least one element
// matches all children. With match: all, every element must match.
type listItemFilter struct {
	key      string
	matchAll bool
	children []Predicate
}

func (e *Evaluator) compileListItem(m map[string]any) (Predicate, error) {
	key, _ := m["key"].(string)
	if key == "" {
		return nil, engine.NewUnsupportedFilterError("list-item filter requires a key")
	}
	children, err := e.compileChildren(m["filters"])
	if err != nil {
		return nil, err
	}
	f := &listItemFilter{key: key, children: children}
	if mode, ok := m["match"].(string); ok && mode == "all" {
		f.matchAll = true
	}
	return f, nil
}

func (f *listItemFilter) Match(ctx context.Context, r engine.Resource) (bool, error) {
	raw, found := resolvePath(r, f.key)
	if !found {
		return false, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return false, nil
	}
	if f.matchAll && len(list) == 0 {
		return true, nil
	}

	inner := andFilter{children: f.children}
	for _, elem := range list {
		item, ok := elem.(map[string]any)
		if !ok {
			// Scalar elements are wrapped so value filters can
			// address them by a fixed key.
			item = map[string]any{"value": elem}
		}
		matched, err := inner.Match(ctx, engine.Resource(item))
		if err != nil {
			return false, err
		}
		if f.matchAll {
			if !matched {
				return false, nil
			}
		} else if matched {
			return true, nil
		}
	}
	return f.matchAll, nil
}
