package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/internal/runner"
	"github.com/cognitedata/cdf-replicator/internal/version"
	"github.com/cognitedata/cdf-replicator/pkg/config"
	"github.com/cognitedata/cdf-replicator/pkg/logging"
	"github.com/cognitedata/cdf-replicator/pkg/metrics"
	"github.com/cognitedata/cdf-replicator/pkg/telemetry"
)

var errInterrupted = errors.New("interrupted by signal")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicator [config.yml]",
		Short: "replicator copies resources from one CDF project into another",
		Long: `replicator copies assets, events, time series, files, sequences,
relationships, raw tables and datapoints from a source CDF project into a
destination project, stamping each copy with its origin so later runs
update instead of duplicate.

When no config file argument is given, the path is read from the
` + config.EnvConfigFile + ` environment variable.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version.Version,
		RunE:          run,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().String("log-level", "", "override the configured log level")
	cmd.PersistentFlags().String("log-format", "", "override the configured log format (json or console)")
	cmd.PersistentFlags().StringSlice("resources", nil, "override the configured resource list")
	cmd.AddCommand(initConfigCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "write an example config file to the given path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Example()
			if err != nil {
				return err
			}
			return os.WriteFile(args[0], out, 0o644)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		for range sigChan {
			cancel(errInterrupted)
		}
	}()

	var path string
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := config.Load(path, config.WithFlags(cmd.Flags()))
	if err != nil {
		return err
	}

	ctx, err = logging.Init(ctx,
		logging.WithLogLevel(cfg.LogLevel),
		logging.WithLogFormat(cfg.LogFormat),
		logging.WithLogDir(cfg.LogPath),
	)
	if err != nil {
		return err
	}

	topts := []telemetry.Option{
		telemetry.WithInitialLogFields(map[string]any{
			"source_project":      cfg.SrcProject,
			"destination_project": cfg.DstProject,
		}),
	}
	if cfg.Telemetry.Endpoint != "" {
		if cfg.Telemetry.Insecure {
			topts = append(topts, telemetry.WithInsecureCollector(cfg.Telemetry.Endpoint))
		} else {
			topts = append(topts, telemetry.WithCollector(
				cfg.Telemetry.Endpoint,
				cfg.Telemetry.CACertPath,
				cfg.Telemetry.CACert,
			))
		}
	}
	if cfg.Telemetry.MetricsPath != "" {
		f, err := os.OpenFile(cfg.Telemetry.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening metrics file: %w", err)
		}
		defer f.Close()
		topts = append(topts, telemetry.WithMetricsWriter(f))
	}

	ctx, shutdown, err := telemetry.Init(ctx, topts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			ctxzap.Extract(ctx).Warn("flushing telemetry", zap.Error(err))
		}
	}()

	handler := metrics.NewNoOpHandler(ctx)
	if cfg.Telemetry.MetricsPath != "" {
		handler = metrics.NewOtelHandler(ctx, otel.GetMeterProvider(), "cdf-replicator")
	}

	r, err := runner.New(ctx, cfg, runner.WithMetricsHandler(handler))
	if err != nil {
		return err
	}

	l := ctxzap.Extract(ctx)
	l.Info("replicator starting",
		zap.String("version", version.Version),
		zap.String("run_id", r.RunID()),
	)
	if err := r.Run(ctx); err != nil {
		if errors.Is(context.Cause(ctx), errInterrupted) {
			l.Warn("replication interrupted", zap.Error(err))
		} else {
			l.Error("replication failed", zap.Error(err))
		}
		return err
	}
	return nil
}
