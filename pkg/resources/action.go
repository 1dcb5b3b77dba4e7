package resources

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
)

// HTTPAction is a resource-specific mutating call: one request per resource
// against a templated path. Paths may contain {project_id} and {id}.
type HTTPAction struct {
	ActionName string
	Service    string
	Method     string
	Path       string
	Body       map[string]any

	Client   *cloud.Client
	Resolver *identity.Resolver
	Logger   zerolog.Logger
}

// Name implements engine.Action.
func (a *HTTPAction) Name() string { return a.ActionName }

// BatchLimit implements engine.Action. Mutating resource endpoints address
// one resource per call.
func (a *HTTPAction) BatchLimit() int { return 1 }

// ProcessBatch implements engine.Action. A failure on one resource is
// reported through a batch error so sibling resources are not implicated.
func (a *HTTPAction) ProcessBatch(ctx context.Context, batch []engine.Resource) error {
	failed := make(map[string]error)
	for _, r := range batch {
		if err := a.processOne(ctx, r); err != nil {
			if engine.IsNotFound(err) && len(batch) == 1 {
				return err
			}
			failed[r.ID()] = err
		}
	}
	if len(failed) > 0 {
		return &engine.BatchError{Failed: failed}
	}
	return nil
}

func (a *HTTPAction) processOne(ctx context.Context, r engine.Resource) error {
	return identity.WithRefreshRetry(ctx, a.Resolver, a.Client.Region(), func(id *engine.Identity) error {
		path := expandPath(a.Path, id.ProjectID, r.ID())
		_, err := a.Client.DoWithRetry(ctx, a.Service, a.Method, path, url.Values{}, a.Body)
		return err
	})
}
