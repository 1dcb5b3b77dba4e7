package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// regoFilter evaluates a Rego module per resource, with the resource as
// input. The resource matches when the queried rule is true or yields a
// non-empty set.
type regoFilter struct {
	moduleName string
	source     string
	query      string
}

func (e *Evaluator) compileRego(m map[string]any) (Predicate, error) {
	source, _ := m["module"].(string)
	if source == "" {
		source, _ = m["source"].(string)
	}
	if source == "" {
		return nil, engine.NewUnsupportedFilterError("rego filter requires a module")
	}
	if _, err := ast.ParseModule("filter.rego", source); err != nil {
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("invalid rego module: %v", err))
	}

	f := &regoFilter{moduleName: "filter.rego", source: source}
	if q, ok := m["query"].(string); ok && q != "" {
		f.query = q
	} else {
		f.query = fmt.Sprintf("data.%s.match", extractPackageName(source))
	}
	return f, nil
}

func (f *regoFilter) Match(ctx context.Context, r engine.Resource) (bool, error) {
	eval := rego.New(
		rego.Module(f.moduleName, f.source),
		rego.Query(f.query),
		rego.Input(map[string]any(r)),
	)

	results, err := eval.Eval(ctx)
	if err != nil {
		return false, engine.NewUnsupportedFilterError(fmt.Sprintf("rego evaluation: %v", err))
	}
	for _, result := range results {
		for _, expr := range result.Expressions {
			switch v := expr.Value.(type) {
			case bool:
				if v {
					return true, nil
				}
			case []any:
				if len(v) > 0 {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// extractPackageName pulls the package path from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "package "); ok {
			if fields := strings.Fields(after); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return "warden"
}
