package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// QueryManager paginates a resource type's list API into a complete,
// deduplicated resource set. Results are eager and materialized: set-level
// filters need the full set, so the listing is never streamed.
type QueryManager struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewQueryManager creates a query manager over a registry.
func NewQueryManager(registry *Registry, logger zerolog.Logger) *QueryManager {
	return &QueryManager{
		registry: registry,
		logger:   logger.With().Str("component", "query").Logger(),
	}
}

// Query enumerates all resources of the named type. Pagination is
// sequential: each page's cursor depends on the previous page. Items seen on
// two pages (concurrent mutation during paging) are deduplicated by ID,
// keeping the first occurrence and its position.
func (q *QueryManager) Query(ctx context.Context, typeName string) ([]Resource, error) {
	adapter, err := q.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	info := adapter.Type()
	limit := info.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var resources []Resource
	switch info.Pagination {
	case PaginationOffset, "":
		resources, err = q.pageByOffset(ctx, adapter, limit)
	case PaginationMarker:
		resources, err = q.pageByMarker(ctx, adapter, limit)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported pagination kind %q", info.Pagination), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", typeName, err)
	}

	resources = dedupeByID(resources)
	q.logger.Debug().
		Str("resource_type", typeName).
		Int("count", len(resources)).
		Msg("Resource set materialized")

	return q.augment(ctx, adapter, resources), nil
}

func (q *QueryManager) pageByOffset(ctx context.Context, adapter Adapter, limit int) ([]Resource, error) {
	var all []Resource
	offset := 0
	for {
		page, err := adapter.ListPage(ctx, PageRequest{Limit: limit, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)

		if page.Total >= 0 && len(all) >= page.Total {
			return all, nil
		}
		if len(page.Items) < limit {
			return all, nil
		}
		offset += limit
	}
}

func (q *QueryManager) pageByMarker(ctx context.Context, adapter Adapter, limit int) ([]Resource, error) {
	var all []Resource
	marker := ""
	for {
		page, err := adapter.ListPage(ctx, PageRequest{Limit: limit, Marker: marker})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)

		if page.NextMarker == "" {
			return all, nil
		}
		marker = page.NextMarker
	}
}

// augment runs the adapter's per-resource augment step once per resource
// after the full list is materialized. A failed augmentation degrades that
// resource to its pre-augment form; it never fails the run.
func (q *QueryManager) augment(ctx context.Context, adapter Adapter, resources []Resource) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		augmented, err := adapter.Augment(ctx, r.Clone())
		if err != nil {
			q.logger.Warn().
				Err(err).
				Str("resource_type", adapter.Type().Name).
				Str("resource_id", r.ID()).
				Msg("Augment failed, keeping pre-augment form")
			out = append(out, r)
			continue
		}
		out = append(out, augmented)
	}
	return out
}

func dedupeByID(resources []Resource) []Resource {
	seen := make(map[string]bool, len(resources))
	out := resources[:0]
	for _, r := range resources {
		id := r.ID()
		if id != "" && seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}
