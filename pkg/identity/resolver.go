// Package identity resolves and caches the domain/project identity required
// to make authorized calls in a region, and provides the one-shot
// refresh-and-retry used by every mutating call path.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

const iamService = "iam"

// Resolver resolves and caches one Identity per region for the process
// lifetime. It is safe for concurrent use across regions; the cache stores
// immutable snapshots, so readers see either the old or the new Identity,
// never a torn value.
type Resolver struct {
	client    *cloud.Client
	logger    zerolog.Logger
	refreshes RefreshRecorder

	mu    sync.RWMutex
	cache map[string]*engine.Identity
}

// RefreshRecorder counts stale-auth identity refreshes. Satisfied by
// telemetry.Metrics.
type RefreshRecorder interface {
	RecordIdentityRefresh()
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRefreshRecorder attaches a counter incremented on every stale-auth
// refresh.
func WithRefreshRecorder(rec RefreshRecorder) ResolverOption {
	return func(r *Resolver) { r.refreshes = rec }
}

// NewResolver creates a resolver over the IAM endpoint.
func NewResolver(client *cloud.Client, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client: client,
		logger: logger.With().Str("component", "identity").Logger(),
		cache:  make(map[string]*engine.Identity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the region's Identity, fetching and caching it on first
// use. Zero or more-than-one matching record from either lookup is an
// IdentityResolutionError, fatal for any operation needing that region.
func (r *Resolver) Resolve(ctx context.Context, region string) (*engine.Identity, error) {
	r.mu.RLock()
	if id, ok := r.cache[region]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	domainID, err := r.lookupDomain(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := r.lookupProject(ctx, domainID, region)
	if err != nil {
		return nil, err
	}

	id := &engine.Identity{
		DomainID:   domainID,
		ProjectID:  projectID,
		Region:     region,
		ResolvedAt: time.Now(),
	}

	r.mu.Lock()
	r.cache[region] = id
	r.mu.Unlock()

	r.logger.Debug().
		Str("region", region).
		Str("project_id", projectID).
		Msg("Identity resolved")

	return id, nil
}

// Invalidate clears the region's cache entry, forcing the next Resolve to
// re-fetch both the domain and project IDs.
func (r *Resolver) Invalidate(region string) {
	r.mu.Lock()
	delete(r.cache, region)
	r.mu.Unlock()

	r.logger.Debug().Str("region", region).Msg("Identity invalidated")
}

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r *Resolver) lookupDomain(ctx context.Context) (string, error) {
	resp, err := r.client.DoWithRetry(ctx, iamService, "GET", "/v3/auth/domains", nil, nil)
	if err != nil {
		return "", engine.NewIdentityError("listing auth domains", err)
	}

	var body struct {
		Domains []record `json:"domains"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", engine.NewIdentityError("decoding auth domains", err)
	}
	if len(body.Domains) != 1 {
		return "", engine.NewIdentityError(
			fmt.Sprintf("expected exactly one auth domain, got %d", len(body.Domains)), nil)
	}
	return body.Domains[0].ID, nil
}

func (r *Resolver) lookupProject(ctx context.Context, domainID, region string) (string, error) {
	query := url.Values{}
	query.Set("domain_id", domainID)
	query.Set("name", region)

	resp, err := r.client.DoWithRetry(ctx, iamService, "GET", "/v3/projects", query, nil)
	if err != nil {
		return "", engine.NewIdentityError(fmt.Sprintf("listing projects for %s", region), err)
	}

	var body struct {
		Projects []record `json:"projects"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", engine.NewIdentityError("decoding projects", err)
	}

	var matches []record
	for _, p := range body.Projects {
		if p.Name == region {
			matches = append(matches, p)
		}
	}
	if len(matches) != 1 {
		return "", engine.NewIdentityError(
			fmt.Sprintf("expected exactly one project named %s, got %d", region, len(matches)), nil)
	}
	return matches[0].ID, nil
}
