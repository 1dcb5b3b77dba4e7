package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
	"github.com/cloudwarden/cloudwarden/pkg/policy"
	"github.com/cloudwarden/cloudwarden/pkg/resources"
	"github.com/cloudwarden/cloudwarden/pkg/tags"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy-file-or-dir>...",
		Short: "Validate policy files without executing them",
		Long: `Parse the given policy files, check their structure and compile their
actions against the resource type catalog. Filters are structurally checked
when the policy runs; unknown resource types and actions are caught here.`,
		Example: `  warden validate policies/
  warden validate policies/rds.yml policies/dns.yml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := telemetry.DefaultConfig()
			cfg.Logging.Level = logLevel
			cfg.Logging.Format = logFormat
			logger, err := telemetry.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}

			loader := policy.NewLoader(logger)
			policies, err := loader.LoadFromPaths(ctx, args)
			if err != nil {
				return err
			}

			// Validation needs no credentials; the client is never
			// asked to make a request.
			client := cloud.NewClient(region, cloud.Credentials{})
			resolver := identity.NewResolver(client, logger)
			registry, err := resources.DefaultRegistry(client, resolver, logger)
			if err != nil {
				return err
			}
			tagManager := tags.NewManager(client, resolver, region, logger)
			compiler := policy.NewCompiler(registry, tagManager, region)

			failures := 0
			for _, p := range policies {
				if _, err := compiler.Compile(p, true); err != nil {
					failures++
					fmt.Printf("FAIL  %s: %v\n", p.Name, err)
					continue
				}
				fmt.Printf("OK    %s (resource: %s, filters: %d, actions: %d)\n",
					p.Name, p.Resource, len(p.Filters), len(p.Actions))
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d policies failed validation", failures, len(policies))
			}
			fmt.Printf("%d policies validated\n", len(policies))
			return nil
		},
	}
	return cmd
}
