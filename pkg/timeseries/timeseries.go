// Package timeseries replicates time series records between projects.
// Only the records are copied; datapoints are a separate concern.
package timeseries

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/timeseries")

// Options control one time series replication run. The zero value copies
// every copyable series on a single worker and deletes nothing.
type Options struct {
	BatchSize  int
	NumWorkers int
	// TargetExternalIDs restricts the run to the given series instead of
	// the full listing.
	TargetExternalIDs []string
	// ExcludePattern drops source series whose external id matches the
	// regular expression.
	ExcludePattern string
	// ExcludeFields names destination fields that keep their current
	// value on update: "name", "description", "metadata" or
	// "metadata.<key>". Replication bookkeeping is always written.
	ExcludeFields []string
	// SkipUnlinkable drops source series linked to an asset that has no
	// counterpart in the destination.
	SkipUnlinkable bool
	// SkipNonAsset drops source series with no asset link at all.
	SkipNonAsset bool
	// DeleteStale removes replicated series whose source series no
	// longer exists.
	DeleteStale bool
	// DeleteForeign removes destination series that were not written by
	// the replicator.
	DeleteForeign bool
	// AssetIDs overrides the asset id mapping normally derived from the
	// destination asset listing.
	AssetIDs *replication.IDMap
}

// isCopyable filters out series that cannot or should not exist in
// another project: series guarded by security categories and the
// per-tenant service account metrics.
func isCopyable(ts *cdf.TimeSeries) bool {
	return len(ts.SecurityCategories) == 0 && !strings.Contains(ts.Name, "service_account_metrics")
}

func buildTimeSeries(src *cdf.TimeSeries, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.TimeSeries {
	return &cdf.TimeSeries{
		ExternalID:         src.ExternalID,
		Name:               src.Name,
		IsString:           src.IsString,
		Metadata:           replication.NewMetadata(src, projectSrc, runTime),
		Unit:               src.Unit,
		AssetID:            ids.MapAssetID(src.AssetID),
		IsStep:             src.IsStep,
		Description:        src.Description,
		SecurityCategories: src.SecurityCategories,
		LegacyName:         src.ExternalID,
	}
}

func updateTimeSeries(src, dst *cdf.TimeSeries, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.TimeSeries {
	dst.ExternalID = src.ExternalID
	dst.Name = src.Name
	dst.IsString = src.IsString
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	dst.Unit = src.Unit
	dst.AssetID = ids.MapAssetID(src.AssetID)
	dst.IsStep = src.IsStep
	dst.Description = src.Description
	dst.SecurityCategories = src.SecurityCategories
	return dst
}

// priorFields is the part of a destination series that ExcludeFields can
// preserve across an update.
type priorFields struct {
	name        string
	description string
	metadata    map[string]string
}

func snapshotFields(dst *cdf.TimeSeries) priorFields {
	prior := priorFields{name: dst.Name, description: dst.Description}
	if dst.Metadata != nil {
		prior.metadata = make(map[string]string, len(dst.Metadata))
		for k, v := range dst.Metadata {
			prior.metadata[k] = v
		}
	}
	return prior
}

func isReplicationKey(key string) bool {
	return key == replication.ReplicatedSourceKey ||
		key == replication.ReplicatedTimeKey ||
		key == replication.ReplicatedInternalIDKey
}

// restoreFields puts the excluded fields back to their pre-update
// values. The replication bookkeeping keys survive even a full metadata
// restore so the copy can still be recognized on the next run.
func restoreFields(dst *cdf.TimeSeries, prior priorFields, excludeFields []string) *cdf.TimeSeries {
	for _, field := range excludeFields {
		switch {
		case field == "name":
			dst.Name = prior.name
		case field == "description":
			dst.Description = prior.description
		case field == "metadata":
			md := make(map[string]string, len(prior.metadata)+3)
			for k, v := range prior.metadata {
				md[k] = v
			}
			for k, v := range dst.Metadata {
				if isReplicationKey(k) {
					md[k] = v
				}
			}
			dst.Metadata = md
		case strings.HasPrefix(field, "metadata."):
			key := strings.TrimPrefix(field, "metadata.")
			if isReplicationKey(key) {
				continue
			}
			if v, ok := prior.metadata[key]; ok {
				dst.Metadata[key] = v
			}
		}
	}
	return dst
}

func keepFunc(pattern string) (func(*cdf.TimeSeries) bool, error) {
	if pattern == "" {
		return isCopyable, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude pattern: %w", err)
	}
	return func(ts *cdf.TimeSeries) bool {
		return isCopyable(ts) && !re.MatchString(ts.ExternalID)
	}, nil
}

func listTimeSeries(ctx context.Context, src, dst cdf.Client, targetExternalIDs []string) (srcSeries, dstSeries []*cdf.TimeSeries, err error) {
	if len(targetExternalIDs) > 0 {
		srcSeries, err = src.TimeSeries().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			return nil, nil, fmt.Errorf("retrieving source time series: %w", err)
		}
		dstSeries, err = dst.TimeSeries().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			if !cdf.IsNotFound(err) {
				return nil, nil, fmt.Errorf("retrieving destination time series: %w", err)
			}
			dstSeries = nil
		}
		return srcSeries, dstSeries, nil
	}

	srcSeries, err = src.TimeSeries().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing source time series: %w", err)
	}
	dstSeries, err = dst.TimeSeries().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination time series: %w", err)
	}
	return srcSeries, dstSeries, nil
}

func copyBatch(ctx context.Context, store cdf.Store[*cdf.TimeSeries], batch []*cdf.TimeSeries, dstBySrcID map[int64]*cdf.TimeSeries, dstListing []*cdf.TimeSeries, ids *replication.IDMap, projectSrc string, runTime int64, excludeFields []string) error {
	l := ctxzap.Extract(ctx)

	createList, updateList, unchanged := replication.MakeObjectsBatch(batch, dstBySrcID, dstListing,
		func(src *cdf.TimeSeries) *cdf.TimeSeries { return buildTimeSeries(src, ids, projectSrc, runTime) },
		func(src, dst *cdf.TimeSeries) *cdf.TimeSeries {
			prior := snapshotFields(dst)
			return restoreFields(updateTimeSeries(src, dst, ids, projectSrc, runTime), prior, excludeFields)
		},
	)

	created, err := replication.Retry(ctx, createList, store.Create)
	if err != nil {
		return fmt.Errorf("creating time series: %w", err)
	}
	updated, err := replication.Retry(ctx, updateList, store.Update)
	if err != nil {
		return fmt.Errorf("updating time series: %w", err)
	}

	l.Info("replicated time series batch",
		zap.Int("created", len(created)),
		zap.Int("updated", len(updated)),
		zap.Int("unchanged", len(unchanged)))
	return nil
}

// Replicate copies every copyable time series from the source project
// into the destination project, updating copies whose source changed
// since the last run.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "timeseries.Replicate")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if opts.BatchSize <= 0 {
		opts.BatchSize = replication.DefaultBatchSize
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	projectSrc := src.Project()
	projectDst := dst.Project()

	srcSeries, dstSeries, err := listTimeSeries(ctx, src, dst, opts.TargetExternalIDs)
	if err != nil {
		return err
	}
	l.Info("listed time series",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcSeries)),
		zap.Int("destination", len(dstSeries)))

	ids := opts.AssetIDs
	if ids == nil {
		dstAssets, err := dst.Assets().List(ctx, nil)
		if err != nil {
			return fmt.Errorf("listing destination assets: %w", err)
		}
		ids = replication.NewIDMap()
		replication.RecordAll(ids, dstAssets)
	}
	l.Debug("asset ids available for linking", zap.Int("count", ids.Len()))

	keep, err := keepFunc(opts.ExcludePattern)
	if err != nil {
		return err
	}
	filtered := replication.FilterObjects(srcSeries, ids, opts.SkipUnlinkable, opts.SkipNonAsset, keep)
	l.Info("filtered source time series",
		zap.Int("dropped", len(srcSeries)-len(filtered)),
		zap.Int("remaining", len(filtered)))

	runTime := replication.Now()
	dstBySrcID := replication.IDObjectMap(dstSeries)

	err = replication.RunChunked(ctx, filtered, opts.BatchSize, opts.NumWorkers, func(ctx context.Context, batch []*cdf.TimeSeries) error {
		return copyBatch(ctx, dst.TimeSeries(), batch, dstBySrcID, dstSeries, ids, projectSrc, runTime, opts.ExcludeFields)
	})
	if err != nil {
		return err
	}
	l.Info("finished copying time series",
		zap.Int("count", len(filtered)),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	// Deletions compare against the unfiltered source so a series
	// excluded from this run is not mistaken for a deleted one.
	if opts.DeleteStale {
		staleIDs := replication.FindStaleIDs(srcSeries, dstSeries)
		if err := deleteTimeSeries(ctx, dst, staleIDs); err != nil {
			return err
		}
		l.Info("deleted time series missing from source", zap.Int("count", len(staleIDs)))
	}
	if opts.DeleteForeign {
		foreignIDs := replication.FindForeignIDs(dstSeries)
		if err := deleteTimeSeries(ctx, dst, foreignIDs); err != nil {
			return err
		}
		l.Info("deleted time series not written by replication", zap.Int("count", len(foreignIDs)))
	}
	return nil
}

func deleteTimeSeries(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.TimeSeries().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting time series: %w", err)
	}
	return nil
}
