package tags

import (
	"context"
	"sort"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// groupByTagType splits a batch by tagging-service resource type so every
// tagging call references a single resource_type, as the endpoint requires.
// Resources without an ID or a tagging type cannot be addressed; they come
// back in untaggable so callers report them instead of claiming success.
func groupByTagType(batch []engine.Resource) (groups map[string][]string, untaggable map[string]error) {
	groups = make(map[string][]string)
	for _, r := range batch {
		t := r.TagResourceType()
		if t == "" || r.ID() == "" {
			if untaggable == nil {
				untaggable = make(map[string]error)
			}
			untaggable[r.ID()] = engine.NewValidationError("resource has no id or tagging type", nil)
			continue
		}
		groups[t] = append(groups[t], r.ID())
	}
	return groups, untaggable
}

// untaggableError wraps the skipped-resource map in a batch error, or nil
// when every resource was addressable.
func untaggableError(untaggable map[string]error) error {
	if len(untaggable) == 0 {
		return nil
	}
	return &engine.BatchError{Failed: untaggable}
}

func sortedKeys(groups map[string][]string) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TagAction attaches a fixed set of tags to every matched resource.
// The policy surface accepts either key/value or a tags map; both funnel
// into Tags here.
type TagAction struct {
	Manager *Manager
	Tags    []engine.Tag
}

// Name implements engine.Action.
func (a *TagAction) Name() string { return "tag" }

// BatchLimit implements engine.Action.
func (a *TagAction) BatchLimit() int { return MaxResourcesPerCall }

// ProcessBatch implements engine.Action.
func (a *TagAction) ProcessBatch(ctx context.Context, batch []engine.Resource) error {
	groups, untaggable := groupByTagType(batch)
	for _, tagType := range sortedKeys(groups) {
		if err := a.Manager.CreateTags(ctx, tagType, groups[tagType], a.Tags); err != nil {
			return err
		}
	}
	return untaggableError(untaggable)
}

// RemoveTagAction removes tag keys from every matched resource.
type RemoveTagAction struct {
	Manager *Manager
	Keys    []string
}

// Name implements engine.Action.
func (a *RemoveTagAction) Name() string { return "remove-tag" }

// BatchLimit implements engine.Action.
func (a *RemoveTagAction) BatchLimit() int { return MaxResourcesPerCall }

// ProcessBatch implements engine.Action.
func (a *RemoveTagAction) ProcessBatch(ctx context.Context, batch []engine.Resource) error {
	groups, untaggable := groupByTagType(batch)
	for _, tagType := range sortedKeys(groups) {
		if err := a.Manager.DeleteTags(ctx, tagType, groups[tagType], a.Keys); err != nil {
			return err
		}
	}
	return untaggableError(untaggable)
}

// MarkForOpAction records a deferred operation in a marker tag. The
// marked-for-op filter picks resources up once the due time passes.
type MarkForOpAction struct {
	Manager *Manager

	// Op is the deferred action name (e.g. "delete").
	Op string

	// TagKey is the marker tag key; empty means DefaultMarkerTag.
	TagKey string

	// Days is the grace period before the mark comes due.
	Days int

	// now is overridable in tests.
	now func() time.Time
}

// Name implements engine.Action.
func (a *MarkForOpAction) Name() string { return "mark-for-op" }

// BatchLimit implements engine.Action.
func (a *MarkForOpAction) BatchLimit() int { return MaxResourcesPerCall }

// ProcessBatch implements engine.Action.
func (a *MarkForOpAction) ProcessBatch(ctx context.Context, batch []engine.Resource) error {
	key := a.TagKey
	if key == "" {
		key = DefaultMarkerTag
	}
	nowFn := a.now
	if nowFn == nil {
		nowFn = time.Now
	}
	mark := Mark{
		Action: a.Op,
		DueAt:  nowFn().AddDate(0, 0, a.Days),
	}

	groups, untaggable := groupByTagType(batch)
	for _, tagType := range sortedKeys(groups) {
		tags := []engine.Tag{{Key: key, Value: mark.String()}}
		if err := a.Manager.CreateTags(ctx, tagType, groups[tagType], tags); err != nil {
			return err
		}
	}
	return untaggableError(untaggable)
}

// AutoTagUserAction tags each resource with the principal recorded in one of
// its attributes, when the target tag is not already present. Values differ
// per resource, so the action runs one call per resource.
type AutoTagUserAction struct {
	Manager *Manager

	// TagKey is the tag to write (e.g. "owner").
	TagKey string

	// UserAttribute is the resource attribute carrying the principal;
	// empty means "user_name".
	UserAttribute string
}

// Name implements engine.Action.
func (a *AutoTagUserAction) Name() string { return "auto-tag-user" }

// BatchLimit implements engine.Action.
func (a *AutoTagUserAction) BatchLimit() int { return 1 }

// ProcessBatch implements engine.Action.
func (a *AutoTagUserAction) ProcessBatch(ctx context.Context, batch []engine.Resource) error {
	attr := a.UserAttribute
	if attr == "" {
		attr = "user_name"
	}

	var untaggable map[string]error
	for _, r := range batch {
		if _, tagged := r.Tag(a.TagKey); tagged {
			continue
		}
		user, _ := r[attr].(string)
		if user == "" {
			continue
		}
		tagType := r.TagResourceType()
		if tagType == "" {
			if untaggable == nil {
				untaggable = make(map[string]error)
			}
			untaggable[r.ID()] = engine.NewValidationError("resource has no tagging type", nil)
			continue
		}
		tags := []engine.Tag{{Key: a.TagKey, Value: user}}
		if err := a.Manager.CreateTags(ctx, tagType, []string{r.ID()}, tags); err != nil {
			return err
		}
	}
	return untaggableError(untaggable)
}
