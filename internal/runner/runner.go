// Package runner drives one replication run: it builds the two project
// clients from the configuration, validates their credentials, and
// replicates the configured resource types in dependency order.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/assets"
	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/api"
	"github.com/cognitedata/cdf-replicator/pkg/config"
	"github.com/cognitedata/cdf-replicator/pkg/datapoints"
	"github.com/cognitedata/cdf-replicator/pkg/events"
	"github.com/cognitedata/cdf-replicator/pkg/files"
	"github.com/cognitedata/cdf-replicator/pkg/metrics"
	"github.com/cognitedata/cdf-replicator/pkg/raw"
	"github.com/cognitedata/cdf-replicator/pkg/relationships"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
	"github.com/cognitedata/cdf-replicator/pkg/sequences"
	"github.com/cognitedata/cdf-replicator/pkg/timeseries"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/internal/runner")

// Runner replicates resources from a source project into a destination
// project according to one loaded configuration.
type Runner struct {
	cfg       *config.Config
	src       cdf.Client
	dst       cdf.Client
	handler   metrics.Handler
	m         *metrics.M
	runID     string
	transform datapoints.Transform
}

// Option adjusts how New assembles a runner.
type Option func(*Runner)

// WithClients substitutes the project clients, bypassing api key lookup
// and HTTP client construction.
func WithClients(src, dst cdf.Client) Option {
	return func(r *Runner) {
		r.src = src
		r.dst = dst
	}
}

// WithMetricsHandler records run outcomes through the given handler.
func WithMetricsHandler(h metrics.Handler) Option {
	return func(r *Runner) {
		r.handler = h
	}
}

// New builds a runner from cfg. The api keys are read from the
// environment variables the config names, each side strictly from its
// own variable.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runner, error) {
	transform, err := datapoints.New(cfg.Datapoints.Transform.Name, cfg.Datapoints.Transform.Value)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		handler:   metrics.NewNoOpHandler(ctx),
		runID:     uuid.New().String(),
		transform: transform,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.m = metrics.New(r.handler.WithTags(map[string]string{
		"source":      cfg.SrcProject,
		"destination": cfg.DstProject,
	}))

	if r.src == nil {
		r.src, err = newClient(cfg, cfg.SrcProject, cfg.SrcBaseURL, cfg.SrcAPIKeyEnvVar, "source")
		if err != nil {
			return nil, err
		}
	}
	if r.dst == nil {
		r.dst, err = newClient(cfg, cfg.DstProject, cfg.DstBaseURL, cfg.DstAPIKeyEnvVar, "destination")
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newClient(cfg *config.Config, project, baseURL, keyEnvVar, side string) (cdf.Client, error) {
	key := os.Getenv(keyEnvVar)
	if key == "" {
		return nil, fmt.Errorf("%s api key environment variable %s is empty", side, keyEnvVar)
	}
	client, err := api.NewClient(api.Config{
		Project:           project,
		APIKey:            key,
		BaseURL:           baseURL,
		AppName:           cfg.ClientName,
		Timeout:           cfg.ClientTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s client: %w", side, err)
	}
	return client, nil
}

// RunID identifies this runner's replication run in logs and metrics.
func (r *Runner) RunID() string { return r.runID }

// Run validates both logins and replicates every configured resource
// type, stopping at the first failure.
func (r *Runner) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "runner.Run",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("run_id", r.runID)),
	)
	defer span.End()

	l := ctxzap.Extract(ctx).With(
		zap.String("run_id", r.runID),
		zap.String("source_project", r.cfg.SrcProject),
		zap.String("destination_project", r.cfg.DstProject),
	)
	ctx = ctxzap.ToContext(ctx, l)

	if err := r.validateLogin(ctx); err != nil {
		return err
	}

	names := make([]string, len(r.cfg.Resources))
	for i, res := range r.cfg.Resources {
		names[i] = string(res)
	}
	l.Info("starting replication run", zap.Strings("resources", names))

	// Assets run first so later resource kinds can remap their asset
	// links through the id map of this run instead of re-deriving it
	// from destination metadata.
	var assetIDs *replication.IDMap
	steps := []struct {
		resource config.Resource
		run      func(context.Context) error
	}{
		{config.ResourceAssets, func(ctx context.Context) error {
			ids, err := assets.Replicate(ctx, r.src, r.dst, r.assetOptions())
			if err != nil {
				return err
			}
			assetIDs = ids
			return nil
		}},
		{config.ResourceEvents, func(ctx context.Context) error {
			return events.Replicate(ctx, r.src, r.dst, r.eventOptions(assetIDs))
		}},
		{config.ResourceTimeSeries, func(ctx context.Context) error {
			return timeseries.Replicate(ctx, r.src, r.dst, r.timeSeriesOptions(assetIDs))
		}},
		{config.ResourceFiles, func(ctx context.Context) error {
			return files.Replicate(ctx, r.src, r.dst, r.fileOptions(assetIDs))
		}},
		{config.ResourceSequences, func(ctx context.Context) error {
			if err := sequences.Replicate(ctx, r.src, r.dst, r.sequenceOptions(assetIDs)); err != nil {
				return err
			}
			return sequences.ReplicateRows(ctx, r.src, r.dst)
		}},
		{config.ResourceSequenceRows, func(ctx context.Context) error {
			return sequences.SyncRows(ctx, r.src, r.dst, r.rowOptions())
		}},
		{config.ResourceRelationships, func(ctx context.Context) error {
			return relationships.Replicate(ctx, r.src, r.dst, r.relationshipOptions())
		}},
		{config.ResourceRaw, func(ctx context.Context) error {
			return raw.Replicate(ctx, r.src, r.dst, raw.Options{ChunkSize: r.cfg.BatchSize})
		}},
		{config.ResourceDatapoints, func(ctx context.Context) error {
			return datapoints.Replicate(ctx, r.src, r.dst, r.datapointOptions())
		}},
	}

	for _, step := range steps {
		if err := r.step(ctx, step.resource, step.run); err != nil {
			return err
		}
	}

	l.Info("replication run complete")
	return nil
}

// step runs one resource replication when the config enables it,
// recording outcome and duration.
func (r *Runner) step(ctx context.Context, resource config.Resource, run func(context.Context) error) error {
	if !r.cfg.Enabled(resource) {
		return nil
	}
	l := ctxzap.Extract(ctx)
	l.Info("replicating resource", zap.String("resource", string(resource)))

	start := time.Now()
	if err := run(ctx); err != nil {
		r.m.RecordRunFailure(ctx, string(resource), time.Since(start), err)
		return fmt.Errorf("replicating %s: %w", resource, err)
	}
	r.m.RecordRunSuccess(ctx, string(resource), time.Since(start))
	l.Info("resource done",
		zap.String("resource", string(resource)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (r *Runner) validateLogin(ctx context.Context) error {
	if err := checkLogin(ctx, r.src, r.cfg.SrcProject, "source"); err != nil {
		return err
	}
	return checkLogin(ctx, r.dst, r.cfg.DstProject, "destination")
}

func checkLogin(ctx context.Context, client cdf.Client, project, side string) error {
	status, err := client.Login(ctx)
	if err != nil {
		return fmt.Errorf("%s login: %w", side, err)
	}
	if !status.LoggedIn {
		return fmt.Errorf("%s api key is not logged in", side)
	}
	if status.Project != project {
		return fmt.Errorf("%s api key belongs to project %q, configured project is %q", side, status.Project, project)
	}
	ctxzap.Extract(ctx).Debug("login validated",
		zap.String("side", side),
		zap.String("project", status.Project),
		zap.String("user", status.User),
	)
	return nil
}

func (r *Runner) assetOptions() assets.Options {
	orphans := assets.OrphanAdopt
	if r.cfg.Assets.SkipOrphans {
		orphans = assets.OrphanSkip
	}
	return assets.Options{
		SubtreeIDs:         r.cfg.Assets.SubtreeIDs,
		SubtreeExternalIDs: r.cfg.Assets.SubtreeExternalIDs,
		SubtreeMaxDepth:    r.cfg.Assets.SubtreeMaxDepth,
		Orphans:            orphans,
		DeleteStale:        r.cfg.DeleteIfRemovedInSource,
		DeleteForeign:      r.cfg.DeleteIfNotReplicated,
	}
}

func (r *Runner) eventOptions(assetIDs *replication.IDMap) events.Options {
	return events.Options{
		BatchSize:         r.cfg.BatchSize,
		NumWorkers:        r.cfg.NumberOfThreads,
		TargetExternalIDs: r.cfg.Events.ExternalIDs,
		ExcludePattern:    r.cfg.Events.ExcludePattern.String(),
		SkipUnlinkable:    r.cfg.Events.SkipUnlinkable,
		SkipNonAsset:      r.cfg.Events.SkipNonAsset,
		DeleteStale:       r.cfg.DeleteIfRemovedInSource,
		DeleteForeign:     r.cfg.DeleteIfNotReplicated,
		AssetIDs:          assetIDs,
	}
}

func (r *Runner) timeSeriesOptions(assetIDs *replication.IDMap) timeseries.Options {
	return timeseries.Options{
		BatchSize:         r.cfg.BatchSize,
		NumWorkers:        r.cfg.NumberOfThreads,
		TargetExternalIDs: r.cfg.TimeSeries.ExternalIDs,
		ExcludePattern:    r.cfg.TimeSeries.ExcludePattern.String(),
		ExcludeFields:     r.cfg.TimeSeries.ExcludeFields,
		SkipUnlinkable:    r.cfg.TimeSeries.SkipUnlinkable,
		SkipNonAsset:      r.cfg.TimeSeries.SkipNonAsset,
		DeleteStale:       r.cfg.DeleteIfRemovedInSource,
		DeleteForeign:     r.cfg.DeleteIfNotReplicated,
		AssetIDs:          assetIDs,
	}
}

func (r *Runner) fileOptions(assetIDs *replication.IDMap) files.Options {
	return files.Options{
		BatchSize:     r.cfg.BatchSize,
		NumWorkers:    r.cfg.NumberOfThreads,
		DeleteStale:   r.cfg.DeleteIfRemovedInSource,
		DeleteForeign: r.cfg.DeleteIfNotReplicated,
		AssetIDs:      assetIDs,
	}
}

func (r *Runner) sequenceOptions(assetIDs *replication.IDMap) sequences.Options {
	return sequences.Options{
		BatchSize:         r.cfg.BatchSize,
		NumWorkers:        r.cfg.NumberOfThreads,
		TargetExternalIDs: r.cfg.Sequences.ExternalIDs,
		ExcludePattern:    r.cfg.Sequences.ExcludePattern.String(),
		SkipUnlinkable:    r.cfg.Sequences.SkipUnlinkable,
		SkipNonAsset:      r.cfg.Sequences.SkipNonAsset,
		DeleteStale:       r.cfg.DeleteIfRemovedInSource,
		DeleteForeign:     r.cfg.DeleteIfNotReplicated,
		AssetIDs:          assetIDs,
	}
}

func (r *Runner) rowOptions() sequences.RowOptions {
	return sequences.RowOptions{
		BatchSize:      r.cfg.SequenceRows.BatchSize,
		NumWorkers:     r.cfg.NumberOfThreads,
		ExternalIDs:    r.cfg.SequenceRows.ExternalIDs,
		ExcludePattern: r.cfg.SequenceRows.ExcludePattern.String(),
		MockRun:        r.cfg.SequenceRows.MockRun,
	}
}

func (r *Runner) relationshipOptions() relationships.Options {
	return relationships.Options{
		BatchSize:         r.cfg.BatchSize,
		NumWorkers:        r.cfg.NumberOfThreads,
		TargetExternalIDs: r.cfg.Relationships.ExternalIDs,
		DatasetSupport:    r.cfg.Relationships.DatasetSupport,
		DeleteStale:       r.cfg.DeleteIfRemovedInSource,
		DeleteForeign:     r.cfg.DeleteIfNotReplicated,
	}
}

func (r *Runner) datapointOptions() datapoints.Options {
	return datapoints.Options{
		NumWorkers:     r.cfg.NumberOfThreads,
		Limit:          r.cfg.Datapoints.Limit,
		ExternalIDs:    r.cfg.Datapoints.ExternalIDs,
		ExcludePattern: r.cfg.Datapoints.ExcludePattern.String(),
		Transform:      r.transform,
		MockRun:        r.cfg.Datapoints.MockRun,
	}
}
