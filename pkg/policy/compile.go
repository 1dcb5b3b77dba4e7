package policy

import (
	"fmt"
	"sort"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/tags"
)

// Compiler turns policy action nodes into executable actions. Filters stay
// untyped here; they compile inside the evaluator at run time.
type Compiler struct {
	registry *engine.Registry
	tags     *tags.Manager
	region   string
}

// NewCompiler creates a compiler bound to a resource type registry and a
// tag manager.
func NewCompiler(registry *engine.Registry, tagManager *tags.Manager, region string) *Compiler {
	return &Compiler{registry: registry, tags: tagManager, region: region}
}

// Compile resolves a policy into a run request. Unknown resource types and
// unknown action names are validation errors here, before anything is
// queried.
func (c *Compiler) Compile(p Policy, dryRun bool) (engine.RunRequest, error) {
	adapter, err := c.registry.Get(p.Resource)
	if err != nil {
		return engine.RunRequest{}, fmt.Errorf("policy %q: %w", p.Name, err)
	}

	actions := make([]engine.Action, 0, len(p.Actions))
	for i, node := range p.Actions {
		action, err := c.compileAction(adapter, node)
		if err != nil {
			return engine.RunRequest{}, fmt.Errorf("policy %q action %d: %w", p.Name, i, err)
		}
		actions = append(actions, action)
	}

	return engine.RunRequest{
		PolicyName:   p.Name,
		ResourceType: p.Resource,
		Region:       c.region,
		Filters:      p.Filters,
		Actions:      actions,
		DryRun:       dryRun,
	}, nil
}

// compileAction accepts either a bare action name or a configured mapping
// with a type key.
func (c *Compiler) compileAction(adapter engine.Adapter, node any) (engine.Action, error) {
	var name string
	var m map[string]any

	switch typed := node.(type) {
	case string:
		name = typed
		m = map[string]any{}
	case map[string]any:
		m = typed
		name, _ = m["type"].(string)
	}
	if name == "" {
		return nil, engine.NewValidationError("action node must be a name or a mapping with a type", nil)
	}

	switch name {
	case "tag", "create-tag":
		return c.compileTag(m)
	case "remove-tag", "untag":
		return c.compileRemoveTag(m)
	case "mark-for-op":
		return c.compileMarkForOp(m)
	case "auto-tag-user":
		return c.compileAutoTagUser(m)
	}

	// Resource-specific actions come from the adapter.
	if action, ok := adapter.Action(name); ok {
		return action, nil
	}
	return nil, engine.NewValidationError(fmt.Sprintf("unknown action %q for resource type %s", name, adapter.Type().Name), nil)
}

func (c *Compiler) compileTag(m map[string]any) (engine.Action, error) {
	var tagList []engine.Tag

	if raw, ok := m["tags"].(map[string]any); ok {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tagList = append(tagList, engine.Tag{Key: k, Value: fmt.Sprintf("%v", raw[k])})
		}
	}
	if key, ok := m["key"].(string); ok && key != "" {
		// YAML scalars are not always strings; numbers and booleans
		// stringify the same way the tags map branch does.
		var value string
		if raw, ok := m["value"]; ok && raw != nil {
			value = fmt.Sprintf("%v", raw)
		}
		tagList = append(tagList, engine.Tag{Key: key, Value: value})
	}
	if len(tagList) == 0 {
		return nil, engine.NewValidationError("tag action requires key/value or a tags map", nil)
	}
	return &tags.TagAction{Manager: c.tags, Tags: tagList}, nil
}

func (c *Compiler) compileRemoveTag(m map[string]any) (engine.Action, error) {
	var keys []string
	switch raw := m["tags"].(type) {
	case []any:
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
	case string:
		keys = append(keys, raw)
	}
	if key, ok := m["key"].(string); ok && key != "" {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, engine.NewValidationError("remove-tag action requires tag keys", nil)
	}
	return &tags.RemoveTagAction{Manager: c.tags, Keys: keys}, nil
}

func (c *Compiler) compileMarkForOp(m map[string]any) (engine.Action, error) {
	op, _ := m["op"].(string)
	if op == "" {
		return nil, engine.NewValidationError("mark-for-op action requires an op", nil)
	}
	action := &tags.MarkForOpAction{Manager: c.tags, Op: op}
	if tag, ok := m["tag"].(string); ok {
		action.TagKey = tag
	}
	if days, ok := m["days"].(int); ok {
		action.Days = days
	} else if days, ok := m["days"].(float64); ok {
		action.Days = int(days)
	}
	return action, nil
}

func (c *Compiler) compileAutoTagUser(m map[string]any) (engine.Action, error) {
	key, _ := m["tag"].(string)
	if key == "" {
		key, _ = m["key"].(string)
	}
	if key == "" {
		return nil, engine.NewValidationError("auto-tag-user action requires a tag key", nil)
	}
	action := &tags.AutoTagUserAction{Manager: c.tags, TagKey: key}
	if attr, ok := m["user_attribute"].(string); ok {
		action.UserAttribute = attr
	}
	return action, nil
}
