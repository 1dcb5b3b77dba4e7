// Package filter evaluates policy filter-expression trees against resource
// sets. Filters compile from untyped policy nodes at evaluation time; an
// unknown variant is an unsupported-filter error then, not at policy load.
package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// Predicate is a per-resource filter. Match never mutates the resource.
type Predicate interface {
	Match(ctx context.Context, r engine.Resource) (bool, error)
}

// SetFilter operates over the whole candidate set rather than per resource
// (top-N, max/min). This is why the resource set is materialized, not
// streamed.
type SetFilter interface {
	Reduce(ctx context.Context, resources []engine.Resource) ([]engine.Resource, error)
}

// Evaluator compiles and evaluates filter trees.
type Evaluator struct {
	logger zerolog.Logger

	// now is the reference time for age and marked-for-op filters,
	// overridable in tests.
	now func() time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With().Str("component", "filter").Logger(),
		now:    time.Now,
	}
}

// Evaluate applies the filter nodes in order and returns the matched subset
// in stable original order, without duplicates. Per-resource predicates
// narrow the set; set filters reduce it wholesale.
func (e *Evaluator) Evaluate(ctx context.Context, resources []engine.Resource, nodes []any) ([]engine.Resource, error) {
	current := resources
	for i, node := range nodes {
		f, err := e.compile(node)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}

		switch typed := f.(type) {
		case SetFilter:
			current, err = typed.Reduce(ctx, current)
			if err != nil {
				return nil, fmt.Errorf("filter %d: %w", i, err)
			}
		case Predicate:
			var kept []engine.Resource
			for _, r := range current {
				ok, err := typed.Match(ctx, r)
				if err != nil {
					return nil, fmt.Errorf("filter %d: %w", i, err)
				}
				if ok {
					kept = append(kept, r)
				}
			}
			current = kept
		}
	}
	return current, nil
}

// Match evaluates the filter nodes against a single resource as an implicit
// And. Set filters cannot be used in this mode.
func (e *Evaluator) Match(ctx context.Context, r engine.Resource, nodes []any) (bool, error) {
	matched, err := e.Evaluate(ctx, []engine.Resource{r}, nodes)
	if err != nil {
		return false, err
	}
	return len(matched) == 1, nil
}

// compile turns one untyped policy node into a filter.
func (e *Evaluator) compile(node any) (any, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("filter node must be a mapping, got %T", node))
	}

	if typeName, ok := m["type"].(string); ok {
		return e.compileTyped(typeName, m)
	}

	// Single-key shorthands: boolean combinators and value equality.
	if len(m) == 1 {
		for key, val := range m {
			switch key {
			case "and", "or", "not":
				return e.compileCombinator(key, val)
			default:
				return e.compileValueShorthand(key, val)
			}
		}
	}

	return nil, engine.NewUnsupportedFilterError("filter node has no type and is not a shorthand")
}

func (e *Evaluator) compileTyped(typeName string, m map[string]any) (any, error) {
	switch typeName {
	case "value":
		return e.compileValue(m)
	case "and", "or", "not":
		return e.compileCombinator(typeName, m["filters"])
	case "list-item":
		return e.compileListItem(m)
	case "reduce":
		return e.compileReduce(m)
	case "age", "resource-time":
		return e.compileAge(m)
	case "tag-count":
		return e.compileTagCount(m)
	case "marked-for-op":
		return e.compileMarkedForOp(m)
	case "rego":
		return e.compileRego(m)
	case "jq":
		return e.compileJQ(m)
	default:
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("unknown filter type %q", typeName))
	}
}

// compileChildren compiles a list of nodes into predicates. Set filters are
// rejected: whole-set semantics cannot nest under a per-resource predicate.
func (e *Evaluator) compileChildren(raw any) ([]Predicate, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, engine.NewUnsupportedFilterError("combinator requires a list of child filters")
	}
	children := make([]Predicate, 0, len(list))
	for _, item := range list {
		f, err := e.compile(item)
		if err != nil {
			return nil, err
		}
		p, ok := f.(Predicate)
		if !ok {
			return nil, engine.NewUnsupportedFilterError("set filters cannot nest under a boolean combinator")
		}
		children = append(children, p)
	}
	return children, nil
}
