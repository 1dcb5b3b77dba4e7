// Package tags performs batched tag mutations through the identity-scoped
// tagging endpoint, and provides the built-in tag actions and helpers used
// by tag filters.
package tags

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
)

const (
	tmsService = "tms"

	createPath = "/v1.0/resource-tags/batch-create"
	deletePath = "/v1.0/resource-tags/batch-delete"

	// Batch limits of the tagging endpoint.
	MaxResourcesPerCall = 50
	MaxTagsPerCall      = 10
)

// Manager performs batched, idempotent tag create/delete calls. Creating a
// tag that already has the same key/value, or deleting an absent tag, is a
// success on the provider side; the manager adds no state of its own.
type Manager struct {
	client   *cloud.Client
	resolver *identity.Resolver
	region   string
	logger   zerolog.Logger
}

// NewManager creates a tag manager bound to one region.
func NewManager(client *cloud.Client, resolver *identity.Resolver, region string, logger zerolog.Logger) *Manager {
	return &Manager{
		client:   client,
		resolver: resolver,
		region:   region,
		logger:   logger.With().Str("component", "tags").Logger(),
	}
}

type taggedResource struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

type batchTagRequest struct {
	ProjectID string           `json:"project_id"`
	Resources []taggedResource `json:"resources"`
	Tags      []engine.Tag     `json:"tags"`
}

type deleteTagRequest struct {
	ProjectID string           `json:"project_id"`
	Resources []taggedResource `json:"resources"`
	Tags      []deleteTagKey   `json:"tags"`
}

type deleteTagKey struct {
	Key string `json:"key"`
}

// CreateTags attaches tags to the identified resources. All resources in one
// call must share a resource type; batches above the endpoint limits are
// split transparently. One identity refresh is attempted per failed batch
// before surfacing the failure.
func (m *Manager) CreateTags(ctx context.Context, resourceType string, resourceIDs []string, tags []engine.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	if len(tags) > MaxTagsPerCall {
		return engine.NewValidationError(
			fmt.Sprintf("cannot tag more than %d tags at once", MaxTagsPerCall), nil)
	}

	for _, batch := range chunk(resourceIDs, MaxResourcesPerCall) {
		batch := batch
		err := identity.WithRefreshRetry(ctx, m.resolver, m.region, func(id *engine.Identity) error {
			body := batchTagRequest{
				ProjectID: id.ProjectID,
				Resources: asTaggedResources(resourceType, batch),
				Tags:      tags,
			}
			_, err := m.client.DoWithRetry(ctx, tmsService, "POST", createPath, nil, body)
			return err
		})
		if err != nil {
			return fmt.Errorf("tagging %d %s resource(s): %w", len(batch), resourceType, err)
		}
		m.logger.Info().
			Str("resource_type", resourceType).
			Int("resources", len(batch)).
			Int("tags", len(tags)).
			Msg("Tagged resources")
	}
	return nil
}

// DeleteTags removes the named tag keys from the identified resources.
// Deleting keys that are already absent succeeds.
func (m *Manager) DeleteTags(ctx context.Context, resourceType string, resourceIDs []string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tagKeys := make([]deleteTagKey, len(keys))
	for i, k := range keys {
		tagKeys[i] = deleteTagKey{Key: k}
	}

	for _, batch := range chunk(resourceIDs, MaxResourcesPerCall) {
		batch := batch
		err := identity.WithRefreshRetry(ctx, m.resolver, m.region, func(id *engine.Identity) error {
			body := deleteTagRequest{
				ProjectID: id.ProjectID,
				Resources: asTaggedResources(resourceType, batch),
				Tags:      tagKeys,
			}
			_, err := m.client.DoWithRetry(ctx, tmsService, "POST", deletePath, nil, body)
			if engine.IsNotFound(err) {
				// Already gone: the end state matches intent.
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("untagging %d %s resource(s): %w", len(batch), resourceType, err)
		}
		m.logger.Info().
			Str("resource_type", resourceType).
			Int("resources", len(batch)).
			Int("keys", len(keys)).
			Msg("Removed tags")
	}
	return nil
}

func asTaggedResources(resourceType string, ids []string) []taggedResource {
	out := make([]taggedResource, len(ids))
	for i, id := range ids {
		out[i] = taggedResource{ResourceID: id, ResourceType: resourceType}
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
