package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel  string
	logFormat string
	region    string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "CloudWarden - declarative cloud resource governance",
		Long: `CloudWarden enforces declarative governance policies against cloud
resources. A policy names a resource type, filters selecting the offending
subset and actions to apply to it:

  policies:
    - name: rds-mark-untagged
      resource: rds
      filters:
        - tag:owner: absent
      actions:
        - type: mark-for-op
          op: delete
          days: 7

Credentials come from the environment (HUAWEI_ACCESS_KEY_ID,
HUAWEI_SECRET_ACCESS_KEY, HUAWEI_DEFAULT_REGION).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "cloud region (defaults to HUAWEI_DEFAULT_REGION)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newReportCommand())

	return rootCmd
}
