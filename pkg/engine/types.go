// Package engine provides the core types and components of the cloudwarden
// governance engine: the resource model, the adapter contract, the
// query-and-paginate layer, and the action executor. The pipeline for one
// policy run is query -> filter -> act.
package engine

import (
	"context"
	"time"
)

// Resource is an immutable attribute snapshot of one cloud resource, taken at
// query time. The shape is JSON-like: scalars, nested maps, and sequences.
// No resource outlives one engine invocation.
type Resource map[string]any

// IDKey is the attribute every adapter normalizes its native identifier into.
const IDKey = "id"

// TagResourceTypeKey carries the tagging-service resource type an adapter
// attaches per item (the original provider stamps it during enumeration).
const TagResourceTypeKey = "tag_resource_type"

// ID returns the resource's unique identifier, or "" when absent.
func (r Resource) ID() string {
	if v, ok := r[IDKey].(string); ok {
		return v
	}
	return ""
}

// TagResourceType returns the tagging-service resource type for this
// resource, or "" when the adapter did not attach one.
func (r Resource) TagResourceType() string {
	if v, ok := r[TagResourceTypeKey].(string); ok {
		return v
	}
	return ""
}

// Tag is a single key/value tag.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags normalizes the resource's tag attribute into an ordered list.
// Both wire shapes are accepted: a list of {key,value} objects and a flat
// string map. Keys are unique within a resource; for the map shape the
// order is unspecified.
func (r Resource) Tags() []Tag {
	switch v := r["tags"].(type) {
	case []any:
		tags := make([]Tag, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, _ := m["key"].(string)
			if key == "" {
				continue
			}
			value, _ := m["value"].(string)
			tags = append(tags, Tag{Key: key, Value: value})
		}
		return tags
	case map[string]any:
		tags := make([]Tag, 0, len(v))
		for key, raw := range v {
			value, _ := raw.(string)
			tags = append(tags, Tag{Key: key, Value: value})
		}
		return tags
	default:
		return nil
	}
}

// Tag returns the value of the named tag and whether it is present.
func (r Resource) Tag(key string) (string, bool) {
	for _, t := range r.Tags() {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Clone returns a shallow copy. Augment steps work on a copy so a failed
// augmentation can degrade to the pre-augment form.
func (r Resource) Clone() Resource {
	out := make(Resource, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Identity is the resolved domain/project scoping required to make
// authorized calls in a region. Exactly one Identity is live per region per
// run; it is shared-read and refreshed only by the credential resolver.
type Identity struct {
	DomainID   string    `json:"domain_id"`
	ProjectID  string    `json:"project_id"`
	Region     string    `json:"region"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// PaginationKind selects the cursor convention an adapter's list API uses.
type PaginationKind string

const (
	// PaginationOffset pages with limit/offset query parameters; the last
	// page is the first one returning fewer items than the limit.
	PaginationOffset PaginationKind = "offset"

	// PaginationMarker pages with an opaque marker cursor; an empty next
	// marker ends the listing.
	PaginationMarker PaginationKind = "marker"
)

// DefaultPageSize is used when an adapter declares no page size.
const DefaultPageSize = 100

// TypeInfo describes a resource type's enumeration and tagging contract.
type TypeInfo struct {
	// Name is the policy-facing resource type name (e.g. "dns-zone").
	Name string

	// Service is the cloud service hosting the list API.
	Service string

	// IDField is the native attribute holding the unique identifier,
	// normalized into IDKey during enumeration.
	IDField string

	// TagResourceType is the tagging-service type for this resource kind;
	// empty when the kind is not taggable.
	TagResourceType string

	// Pagination is the cursor convention of the list API.
	Pagination PaginationKind

	// PageSize is the per-page limit; 0 means DefaultPageSize.
	PageSize int
}

// PageRequest addresses one page of a resource listing.
type PageRequest struct {
	// Limit is the page size.
	Limit int

	// Offset is the item offset for offset pagination.
	Offset int

	// Marker is the cursor for marker pagination; empty on the first page.
	Marker string
}

// Page is one page of enumeration results.
type Page struct {
	// Items are the resources on this page, already normalized (IDKey set).
	Items []Resource

	// Total is the item count the API reported, or -1 when not provided.
	Total int

	// NextMarker is the cursor of the next page for marker pagination;
	// empty means end of pages.
	NextMarker string
}

// Adapter is the per-resource-type capability contract. The engine is
// generic over this interface and never branches on resource kinds.
type Adapter interface {
	// Type describes the resource type served by this adapter.
	Type() TypeInfo

	// ListPage fetches a single page of the resource listing.
	ListPage(ctx context.Context, req PageRequest) (*Page, error)

	// Augment enriches one resource after the full set is materialized,
	// typically attaching tags fetched from a side channel. Failures
	// degrade the resource to its pre-augment form.
	Augment(ctx context.Context, r Resource) (Resource, error)

	// Action returns the adapter's resource-specific action by name.
	Action(name string) (Action, bool)
}

// Action is one mutating operation applied to matched resources.
type Action interface {
	// Name is the policy-facing action name.
	Name() string

	// BatchLimit is the maximum resources per mutating call; values <= 0
	// mean one call per resource.
	BatchLimit() int

	// ProcessBatch applies the action to a batch. A *BatchError return
	// implicates specific resources; any other error fails the batch.
	ProcessBatch(ctx context.Context, batch []Resource) error
}

// ResultStatus is the per-resource outcome of an action.
type ResultStatus string

const (
	// StatusApplied indicates the mutation succeeded.
	StatusApplied ResultStatus = "applied"

	// StatusSkipped indicates the end state already matched intent
	// (e.g. the resource vanished before the action ran).
	StatusSkipped ResultStatus = "skipped"

	// StatusFailed indicates the mutation failed after its retry budget.
	StatusFailed ResultStatus = "failed"
)

// Result is the outcome of one action on one resource.
type Result struct {
	// ResourceID identifies the resource.
	ResourceID string `json:"resource_id"`

	// Action is the action name.
	Action string `json:"action"`

	// Status is the outcome.
	Status ResultStatus `json:"status"`

	// Error holds the failure message for failed results.
	Error string `json:"error,omitempty"`
}

// Report aggregates one policy run.
type Report struct {
	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// Policy is the policy name.
	Policy string `json:"policy"`

	// ResourceType is the queried resource type.
	ResourceType string `json:"resource_type"`

	// Region is the region the run executed against.
	Region string `json:"region"`

	// Queried is the number of resources enumerated.
	Queried int `json:"queried"`

	// Matched is the number of resources passing all filters.
	Matched int `json:"matched"`

	// Results are the per-resource action outcomes.
	Results []Result `json:"results"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Err is the run-level fatal error, if one occurred.
	Err error `json:"-"`
}

// Applied returns the count of applied results.
func (r *Report) Applied() int { return r.count(StatusApplied) }

// Skipped returns the count of skipped results.
func (r *Report) Skipped() int { return r.count(StatusSkipped) }

// Failed returns the count of failed results.
func (r *Report) Failed() int { return r.count(StatusFailed) }

func (r *Report) count(status ResultStatus) int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Status == status {
			n++
		}
	}
	return n
}
