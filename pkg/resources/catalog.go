package resources

import (
	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
)

// catalog declares the supported resource types. Adding a type is a data
// change here, not an engine change.
func catalog(client *cloud.Client, resolver *identity.Resolver, logger zerolog.Logger) []Spec {
	return []Spec{
		{
			Info: engine.TypeInfo{
				Name:            "dns-zone",
				Service:         "dns",
				IDField:         "id",
				TagResourceType: "DNS-public_zone",
				Pagination:      engine.PaginationMarker,
				PageSize:        engine.DefaultPageSize,
			},
			ListPath:   "/v2/zones",
			ItemsExpr:  ".zones[]?",
			MarkerExpr: ".links.next_marker? // .metadata.next_marker?",
			Actions: map[string]engine.Action{
				"delete": &HTTPAction{
					ActionName: "delete",
					Service:    "dns",
					Method:     "DELETE",
					Path:       "/v2/zones/{id}",
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
				"set-status": &HTTPAction{
					ActionName: "set-status",
					Service:    "dns",
					Method:     "PUT",
					Path:       "/v2/zones/{id}/statuses",
					Body:       map[string]any{"status": "DISABLE"},
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
			},
		},
		{
			Info: engine.TypeInfo{
				Name:            "eip",
				Service:         "vpc",
				IDField:         "id",
				TagResourceType: "publicips",
				Pagination:      engine.PaginationOffset,
				PageSize:        engine.DefaultPageSize,
			},
			ListPath:  "/v1/{project_id}/publicips",
			ItemsExpr: ".publicips[]?",
			Actions: map[string]engine.Action{
				"delete": &HTTPAction{
					ActionName: "delete",
					Service:    "vpc",
					Method:     "DELETE",
					Path:       "/v1/{project_id}/publicips/{id}",
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
				// Unbinding the port releases the address without
				// deleting it.
				"disassociate": &HTTPAction{
					ActionName: "disassociate",
					Service:    "vpc",
					Method:     "PUT",
					Path:       "/v1/{project_id}/publicips/{id}",
					Body:       map[string]any{"publicip": map[string]any{"port_id": nil}},
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
			},
		},
		{
			Info: engine.TypeInfo{
				Name:            "rds",
				Service:         "rds",
				IDField:         "id",
				TagResourceType: "rds",
				Pagination:      engine.PaginationOffset,
				PageSize:        engine.DefaultPageSize,
			},
			ListPath:  "/v3/{project_id}/instances",
			ItemsExpr: ".instances[]?",
			TotalExpr: ".total_count?",
			TagsPath:  "/v3/{project_id}/instances/{id}/tags",
			Actions: map[string]engine.Action{
				"delete": &HTTPAction{
					ActionName: "delete",
					Service:    "rds",
					Method:     "DELETE",
					Path:       "/v3/{project_id}/instances/{id}",
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
				"stop": &HTTPAction{
					ActionName: "stop",
					Service:    "rds",
					Method:     "POST",
					Path:       "/v3/{project_id}/instances/{id}/action/shutdown",
					Client:     client,
					Resolver:   resolver,
					Logger:     logger,
				},
			},
		},
	}
}

// DefaultRegistry builds the registry of all supported resource types.
func DefaultRegistry(client *cloud.Client, resolver *identity.Resolver, logger zerolog.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry()
	for _, spec := range catalog(client, resolver, logger) {
		adapter, err := NewHTTPAdapter(client, resolver, spec, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
