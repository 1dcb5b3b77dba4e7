// Package resources provides the resource type adapters: generic HTTP
// enumeration with jq item extraction, plus the catalog of supported cloud
// resource types.
package resources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
)

// Spec declares one resource type over a cloud list API. Paths may contain
// {project_id}, substituted from the resolved identity.
type Spec struct {
	// Info is the type's enumeration and tagging contract.
	Info engine.TypeInfo

	// ListPath is the list endpoint path.
	ListPath string

	// ItemsExpr is a jq expression extracting the resource objects from
	// the list response, e.g. ".instances[]".
	ItemsExpr string

	// TotalExpr optionally extracts the reported total item count.
	TotalExpr string

	// MarkerExpr optionally extracts the next-page cursor for marker
	// pagination.
	MarkerExpr string

	// TagsPath optionally names a per-resource endpoint returning the
	// resource's tags, used to augment list results. It may contain {id}.
	TagsPath string

	// Query is appended to every list request.
	Query url.Values

	// Actions are the resource-specific actions, keyed by policy name.
	Actions map[string]engine.Action
}

// HTTPAdapter enumerates a resource type by walking its list API and
// normalizing items with jq programs.
type HTTPAdapter struct {
	spec     Spec
	client   *cloud.Client
	resolver *identity.Resolver
	logger   zerolog.Logger

	items  *gojq.Code
	total  *gojq.Code
	marker *gojq.Code
	tags   *gojq.Code
}

// NewHTTPAdapter compiles the Spec's jq programs and returns the adapter.
func NewHTTPAdapter(client *cloud.Client, resolver *identity.Resolver, spec Spec, logger zerolog.Logger) (*HTTPAdapter, error) {
	a := &HTTPAdapter{
		spec:     spec,
		client:   client,
		resolver: resolver,
		logger:   logger.With().Str("component", "adapter").Str("resource_type", spec.Info.Name).Logger(),
	}

	var err error
	if a.items, err = compileJQ(spec.ItemsExpr); err != nil {
		return nil, fmt.Errorf("resource type %s: items expression: %w", spec.Info.Name, err)
	}
	if a.items == nil {
		return nil, fmt.Errorf("resource type %s: items expression is required", spec.Info.Name)
	}
	if a.total, err = compileJQ(spec.TotalExpr); err != nil {
		return nil, fmt.Errorf("resource type %s: total expression: %w", spec.Info.Name, err)
	}
	if a.marker, err = compileJQ(spec.MarkerExpr); err != nil {
		return nil, fmt.Errorf("resource type %s: marker expression: %w", spec.Info.Name, err)
	}
	if a.tags, err = compileJQ(".tags"); err != nil {
		return nil, fmt.Errorf("resource type %s: tags expression: %w", spec.Info.Name, err)
	}
	return a, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	return gojq.Compile(query)
}

// Type implements engine.Adapter.
func (a *HTTPAdapter) Type() engine.TypeInfo { return a.spec.Info }

// Action implements engine.Adapter.
func (a *HTTPAdapter) Action(name string) (engine.Action, bool) {
	action, ok := a.spec.Actions[name]
	return action, ok
}

// ListPage implements engine.Adapter. Items are normalized: the native ID
// field is remapped to the canonical id key and the tagging type is
// stamped on.
func (a *HTTPAdapter) ListPage(ctx context.Context, req engine.PageRequest) (*engine.Page, error) {
	query := url.Values{}
	for k, vs := range a.spec.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("limit", strconv.Itoa(req.Limit))
	switch a.spec.Info.Pagination {
	case engine.PaginationMarker:
		if req.Marker != "" {
			query.Set("marker", req.Marker)
		}
	default:
		query.Set("offset", strconv.Itoa(req.Offset))
	}

	var body map[string]any
	err := identity.WithRefreshRetry(ctx, a.resolver, a.client.Region(), func(id *engine.Identity) error {
		path := expandPath(a.spec.ListPath, id.ProjectID, "")
		resp, err := a.client.DoWithRetry(ctx, a.spec.Info.Service, "GET", path, query, nil)
		if err != nil {
			return err
		}
		body = nil
		return resp.Decode(&body)
	})
	if err != nil {
		return nil, err
	}

	items, err := a.extractItems(body)
	if err != nil {
		return nil, err
	}

	page := &engine.Page{Items: items, Total: -1}
	if a.total != nil {
		if n, ok := toInt(runJQFirst(a.total, body)); ok {
			page.Total = n
		}
	}
	if a.marker != nil {
		if s, ok := runJQFirst(a.marker, body).(string); ok {
			page.NextMarker = s
		}
	}
	return page, nil
}

func (a *HTTPAdapter) extractItems(body map[string]any) ([]engine.Resource, error) {
	var items []engine.Resource

	appendItem := func(value any) {
		m, ok := value.(map[string]any)
		if !ok {
			return
		}
		items = append(items, a.normalize(engine.Resource(m)))
	}

	iter := a.items.Run(body)
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := value.(error); ok {
			return nil, engine.NewValidationError(fmt.Sprintf("resource type %s: item extraction", a.spec.Info.Name), err)
		}
		if arr, ok := value.([]any); ok {
			for _, entry := range arr {
				appendItem(entry)
			}
			continue
		}
		appendItem(value)
	}
	return items, nil
}

// normalize remaps the native identifier onto the canonical id key and
// stamps the tagging type so downstream stages never consult the Spec.
func (a *HTTPAdapter) normalize(r engine.Resource) engine.Resource {
	if a.spec.Info.IDField != "" && a.spec.Info.IDField != engine.IDKey {
		if v, ok := r[a.spec.Info.IDField]; ok {
			r[engine.IDKey] = v
		}
	}
	if a.spec.Info.TagResourceType != "" {
		r[engine.TagResourceTypeKey] = a.spec.Info.TagResourceType
	}
	return r
}

// Augment implements engine.Adapter. When the type declares a tags
// endpoint, the resource's tags are fetched and attached.
func (a *HTTPAdapter) Augment(ctx context.Context, r engine.Resource) (engine.Resource, error) {
	if a.spec.TagsPath == "" {
		return r, nil
	}

	var body map[string]any
	err := identity.WithRefreshRetry(ctx, a.resolver, a.client.Region(), func(id *engine.Identity) error {
		path := expandPath(a.spec.TagsPath, id.ProjectID, r.ID())
		resp, err := a.client.DoWithRetry(ctx, a.spec.Info.Service, "GET", path, nil, nil)
		if err != nil {
			return err
		}
		body = nil
		return resp.Decode(&body)
	})
	if err != nil {
		return nil, err
	}

	if tags := runJQFirst(a.tags, body); tags != nil {
		r["tags"] = tags
	}
	return r, nil
}

// runJQFirst returns the first non-error value a jq program emits.
func runJQFirst(code *gojq.Code, input any) any {
	iter := code.Run(input)
	for {
		value, ok := iter.Next()
		if !ok {
			return nil
		}
		if _, isErr := value.(error); isErr {
			continue
		}
		if value != nil {
			return value
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// expandPath substitutes the {project_id} and {id} placeholders.
func expandPath(path, projectID, resourceID string) string {
	path = strings.ReplaceAll(path, "{project_id}", projectID)
	if resourceID != "" {
		path = strings.ReplaceAll(path, "{id}", url.PathEscape(resourceID))
	}
	return path
}
