package filter

import (
	"context"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

type andFilter struct{ children []Predicate }

type orFilter struct{ children []Predicate }

type notFilter struct{ children []Predicate }

func (e *Evaluator) compileCombinator(kind string, raw any) (Predicate, error) {
	children, err := e.compileChildren(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "and":
		return &andFilter{children: children}, nil
	case "or":
		return &orFilter{children: children}, nil
	default:
		return &notFilter{children: children}, nil
	}
}

// Match for And short-circuits left to right; an empty And matches.
func (f *andFilter) Match(ctx context.Context, r engine.Resource) (bool, error) {
	for _, child := range f.children {
		ok, err := child.Match(ctx, r)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Match for Or short-circuits left to right; an empty Or matches nothing.
func (f *orFilter) Match(ctx context.Context, r engine.Resource) (bool, error) {
	for _, child := range f.children {
		ok, err := child.Match(ctx, r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Match for Not negates the conjunction of its children.
func (f *notFilter) Match(ctx context.Context, r engine.Resource) (bool, error) {
	inner := andFilter{children: f.children}
	ok, err := inner.Match(ctx, r)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
