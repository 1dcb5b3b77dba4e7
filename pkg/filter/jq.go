package filter

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// jqFilter runs a jq expression over the whole candidate set. The program
// receives the resources as a JSON array and whatever objects it emits
// become the new set, so it can slice, sort and project in one expression.
type jqFilter struct {
	code *gojq.Code
}

func (e *Evaluator) compileJQ(m map[string]any) (SetFilter, error) {
	expr, _ := m["expr"].(string)
	if expr == "" {
		return nil, engine.NewUnsupportedFilterError("jq filter requires an expr")
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("invalid jq expression: %v", err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("jq compile: %v", err))
	}
	return &jqFilter{code: code}, nil
}

func (f *jqFilter) Reduce(ctx context.Context, resources []engine.Resource) ([]engine.Resource, error) {
	input := make([]any, 0, len(resources))
	for _, r := range resources {
		input = append(input, map[string]any(r))
	}

	var results []engine.Resource
	appendValue := func(value any) {
		if m, ok := value.(map[string]any); ok {
			results = append(results, engine.Resource(m))
		}
	}

	iter := f.code.RunWithContext(ctx, input)
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := value.(error); ok {
			return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("jq evaluation: %v", err))
		}
		if arr, ok := value.([]any); ok {
			for _, entry := range arr {
				appendValue(entry)
			}
			continue
		}
		appendValue(value)
	}
	return results, nil
}
