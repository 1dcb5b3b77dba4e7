package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudwarden/cloudwarden/pkg/cloud"
	"github.com/cloudwarden/cloudwarden/pkg/engine"
	"github.com/cloudwarden/cloudwarden/pkg/filter"
	"github.com/cloudwarden/cloudwarden/pkg/identity"
	"github.com/cloudwarden/cloudwarden/pkg/policy"
	"github.com/cloudwarden/cloudwarden/pkg/resources"
	"github.com/cloudwarden/cloudwarden/pkg/stores"
	"github.com/cloudwarden/cloudwarden/pkg/tags"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		dryRun      bool
		watch       bool
		outputDir   string
		storePath   string
		metricsAddr string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "run <policy-file-or-dir>...",
		Short: "Execute governance policies",
		Long: `Load policies from the given files or directories and execute each one:
enumerate the resource type, evaluate the filters and apply the actions to
the matched resources.`,
		Example: `  # Execute one policy file
  warden run policies/rds.yml

  # Preview without mutating anything
  warden run policies/ --dry-run

  # Keep running, re-executing on policy file changes
  warden run policies/ --watch

  # Persist run reports for later inspection
  warden run policies/ --store warden.db`,
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

			env, err := newEnvironment(ctx, logger, storePath, metricsAddr, maxParallel)
			if err != nil {
				return err
			}
			defer env.Close()

			runAll := func(policies []policy.Policy) error {
				return env.runPolicies(ctx, policies, dryRun, outputDir)
			}

			loader := policy.NewLoader(logger)
			policies, err := loader.LoadFromPaths(ctx, args)
			if err != nil {
				return err
			}
			if err := runAll(policies); err != nil && !watch {
				return err
			}

			if watch {
				if err := loader.Watch(ctx, args, runAll); err != nil {
					return err
				}
				<-ctx.Done()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate filters but do not execute actions")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-execute policies when their files change")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for per-run JSON reports")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite database path for run reports")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the Prometheus endpoint")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", engine.DefaultMaxParallel, "concurrent action batches")

	return cmd
}

// environment wires the long-lived pieces of a run invocation.
type environment struct {
	logger   zerolog.Logger
	runner   *engine.Runner
	compiler *policy.Compiler
	store    *stores.SQLiteStore
	tracer   *telemetry.Tracer
}

func newEnvironment(ctx context.Context, logger zerolog.Logger, storePath, metricsAddr string, maxParallel int) (*environment, error) {
	creds, err := cloud.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	if region == "" {
		region, err = cloud.RegionFromEnv()
		if err != nil {
			return nil, err
		}
	}

	// Metrics are built first so the transport and the resolver can count
	// into them; disabled metrics are no-ops, not nil.
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       metricsAddr != "",
		ListenAddress: metricsAddr,
		Namespace:     "cloudwarden",
	})
	if err != nil {
		return nil, err
	}

	client := cloud.NewClient(region, creds,
		cloud.WithLogger(logger),
		cloud.WithRequestRecorder(metrics))
	resolver := identity.NewResolver(client, logger, identity.WithRefreshRecorder(metrics))

	registry, err := resources.DefaultRegistry(client, resolver, logger)
	if err != nil {
		return nil, err
	}
	tagManager := tags.NewManager(client, resolver, region, logger)

	env := &environment{
		logger:   logger,
		compiler: policy.NewCompiler(registry, tagManager, region),
	}

	var runnerOpts []engine.RunnerOption

	if storePath != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: storePath})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		env.store = store
		runnerOpts = append(runnerOpts, engine.WithReportStore(store), engine.WithEventSink(store))
	}

	if metricsAddr != "" {
		go func() {
			if err := metrics.StartMetricsServer(); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		runnerOpts = append(runnerOpts, engine.WithMetrics(metrics))
	}

	tracerCfg := telemetry.DefaultConfig().Tracing
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		tracerCfg.Enabled = true
		tracerCfg.Exporter = "otlp"
		tracerCfg.Endpoint = endpoint
		tracerCfg.Insecure = true
	}
	tracer, err := telemetry.NewTracer(tracerCfg, "cloudwarden", "dev", "prod")
	if err != nil {
		return nil, err
	}
	env.tracer = tracer
	runnerOpts = append(runnerOpts, engine.WithTracer(tracer.OTel()))

	queries := engine.NewQueryManager(registry, logger)
	evaluator := filter.NewEvaluator(logger)
	executor := engine.NewExecutor(logger, engine.WithMaxParallel(maxParallel))
	env.runner = engine.NewRunner(queries, evaluator, executor, logger, runnerOpts...)

	return env, nil
}

func (e *environment) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.tracer != nil {
		_ = e.tracer.Shutdown(context.Background())
	}
}

// runPolicies executes each policy and writes per-run reports. The first
// failure is returned after all policies have run.
func (e *environment) runPolicies(ctx context.Context, policies []policy.Policy, dryRun bool, outputDir string) error {
	var firstErr error
	for _, p := range policies {
		req, err := e.compiler.Compile(p, dryRun)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("policy compilation failed")
			continue
		}

		report := e.runner.Run(ctx, req)
		if report.Err != nil && firstErr == nil {
			firstErr = report.Err
		}

		fmt.Printf("%s: queried=%d matched=%d applied=%d skipped=%d failed=%d\n",
			p.Name, report.Queried, report.Matched,
			report.Applied(), report.Skipped(), report.Failed())

		if outputDir != "" {
			if err := writeReport(outputDir, report); err != nil {
				e.logger.Warn().Err(err).Str("policy", p.Name).Msg("failed to write report file")
			}
		}
	}
	return firstErr
}

func writeReport(dir string, report *engine.Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.json", report.Policy, report.RunID)
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}
