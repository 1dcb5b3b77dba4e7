package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// valueFilter matches a single attribute of a resource against an operand.
type valueFilter struct {
	key         string
	op          string
	value       any
	allowAbsent bool

	re *regexp.Regexp
}

func (e *Evaluator) compileValue(m map[string]any) (Predicate, error) {
	key, _ := m["key"].(string)
	if key == "" {
		return nil, engine.NewUnsupportedFilterError("value filter requires a key")
	}

	f := &valueFilter{key: key}
	if op, ok := m["op"].(string); ok {
		f.op = op
	}
	f.value = m["value"]
	if b, ok := m["allow_absent"].(bool); ok {
		f.allowAbsent = b
	}

	// "value: absent" / "value: present" are existence checks, not
	// comparisons against the literal strings.
	if s, ok := f.value.(string); ok && f.op == "" && (s == "absent" || s == "present") {
		f.op = s
		f.value = nil
	}
	if f.op == "" {
		if f.value == nil {
			f.op = "present"
		} else {
			f.op = "equal"
		}
	}

	if f.op == "regex" {
		pattern, ok := f.value.(string)
		if !ok {
			return nil, engine.NewUnsupportedFilterError("regex op requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("invalid regex pattern: %v", err))
		}
		f.re = re
	}

	switch f.op {
	case "equal", "eq", "not-equal", "ne", "in", "not-in", "ni",
		"contains", "greater-than", "gt", "gte", "less-than", "lt", "lte",
		"regex", "absent", "present":
	default:
		return nil, engine.NewUnsupportedFilterError(fmt.Sprintf("unknown value op %q", f.op))
	}
	return f, nil
}

// compileValueShorthand handles {attr: operand} single-key nodes.
func (e *Evaluator) compileValueShorthand(key string, val any) (Predicate, error) {
	return e.compileValue(map[string]any{"key": key, "value": val})
}

func (f *valueFilter) Match(_ context.Context, r engine.Resource) (bool, error) {
	got, found := resolvePath(r, f.key)

	switch f.op {
	case "absent":
		return !found, nil
	case "present":
		return found, nil
	}

	if !found {
		// A missing key fails positive comparisons. Negative ops only
		// treat absence as a match when explicitly opted in, so that
		// not-equal does not silently sweep up resources lacking the
		// attribute entirely.
		switch f.op {
		case "not-equal", "ne", "not-in", "ni":
			return f.allowAbsent, nil
		default:
			return false, nil
		}
	}

	switch f.op {
	case "equal", "eq":
		return looseEqual(got, f.value), nil
	case "not-equal", "ne":
		return !looseEqual(got, f.value), nil
	case "in":
		return memberOf(f.value, got), nil
	case "not-in", "ni":
		return !memberOf(f.value, got), nil
	case "contains":
		return containsValue(got, f.value), nil
	case "greater-than", "gt":
		cmp, ok := compareValues(got, f.value)
		return ok && cmp > 0, nil
	case "gte":
		cmp, ok := compareValues(got, f.value)
		return ok && cmp >= 0, nil
	case "less-than", "lt":
		cmp, ok := compareValues(got, f.value)
		return ok && cmp < 0, nil
	case "lte":
		cmp, ok := compareValues(got, f.value)
		return ok && cmp <= 0, nil
	case "regex":
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprintf("%v", got)
		}
		return f.re.MatchString(s), nil
	}
	return false, nil
}

var indexSuffix = regexp.MustCompile(`\[(\d+)\]`)

// resolvePath walks a dotted path with optional list indexes, like
// "spec.rules[0].port". A "tag:Name" path resolves through the resource's
// normalized tag set.
func resolvePath(r engine.Resource, path string) (any, bool) {
	if key, ok := strings.CutPrefix(path, "tag:"); ok {
		val, found := r.Tag(key)
		if !found {
			return nil, false
		}
		return val, true
	}

	var current any = map[string]any(r)
	for _, seg := range strings.Split(path, ".") {
		name := seg
		var indexes []int
		if matches := indexSuffix.FindAllStringSubmatch(seg, -1); matches != nil {
			name = seg[:strings.Index(seg, "[")]
			for _, match := range matches {
				idx, err := strconv.Atoi(match[1])
				if err != nil {
					return nil, false
				}
				indexes = append(indexes, idx)
			}
		}

		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indexes {
			list, ok := current.([]any)
			if !ok || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}
	return current, true
}

// looseEqual compares across the numeric representations JSON and YAML
// decoding produce (int vs float64) and falls back to string equality for
// like types.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// memberOf reports whether candidate appears in the operand list.
func memberOf(operand, candidate any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(candidate, item) {
			return true
		}
	}
	return false
}

// containsValue: string containment for strings, element membership for
// lists.
func containsValue(got, operand any) bool {
	switch v := got.(type) {
	case string:
		return strings.Contains(v, fmt.Sprintf("%v", operand))
	case []any:
		for _, item := range v {
			if looseEqual(item, operand) {
				return true
			}
		}
	}
	return false
}

// compareValues orders two values numerically when both convert, otherwise
// lexically when both are strings.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
