// Package events replicates events between projects.
package events

import (
	"context"
	"fmt"
	"regexp"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/events")

// Options control one event replication run. The zero value copies the
// full listing on a single worker and deletes nothing.
type Options struct {
	BatchSize  int
	NumWorkers int
	// TargetExternalIDs restricts the run to the given events instead of
	// the full listing.
	TargetExternalIDs []string
	// ExcludePattern drops source events whose external id matches the
	// regular expression.
	ExcludePattern string
	// SkipUnlinkable drops source events linked only to assets that have
	// no counterpart in the destination.
	SkipUnlinkable bool
	// SkipNonAsset drops source events with no asset links at all.
	SkipNonAsset bool
	// DeleteStale removes replicated events whose source event no longer
	// exists.
	DeleteStale bool
	// DeleteForeign removes destination events that were not written by
	// the replicator.
	DeleteForeign bool
	// AssetIDs overrides the asset id mapping normally derived from the
	// destination asset listing.
	AssetIDs *replication.IDMap
}

// eventStartTime picks the start time for a copy. Events with an
// inverted or half-open interval collapse to their end time so the copy
// is always a valid interval.
func eventStartTime(src *cdf.Event) int64 {
	if src.StartTime != 0 && src.EndTime != 0 && src.StartTime < src.EndTime {
		return src.StartTime
	}
	return src.EndTime
}

func buildEvent(src *cdf.Event, assetIDs *replication.IDMap, projectSrc string, runTime int64) *cdf.Event {
	return &cdf.Event{
		ExternalID:  src.ExternalID,
		StartTime:   eventStartTime(src),
		EndTime:     src.EndTime,
		Type:        src.Type,
		Subtype:     src.Subtype,
		Description: src.Description,
		Metadata:    replication.NewMetadata(src, projectSrc, runTime),
		AssetIDs:    assetIDs.MapAssetIDs(src.AssetIDs),
		Source:      src.Source,
	}
}

func updateEvent(src, dst *cdf.Event, assetIDs *replication.IDMap, projectSrc string, runTime int64) *cdf.Event {
	dst.ExternalID = src.ExternalID
	dst.StartTime = eventStartTime(src)
	dst.EndTime = src.EndTime
	dst.Type = src.Type
	dst.Subtype = src.Subtype
	dst.Description = src.Description
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	dst.AssetIDs = assetIDs.MapAssetIDs(src.AssetIDs)
	dst.Source = src.Source
	return dst
}

func keepFunc(pattern string) (func(*cdf.Event) bool, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude pattern: %w", err)
	}
	return func(ev *cdf.Event) bool { return !re.MatchString(ev.ExternalID) }, nil
}

func listEvents(ctx context.Context, src, dst cdf.Client, targetExternalIDs []string) (srcEvents, dstEvents []*cdf.Event, err error) {
	if len(targetExternalIDs) > 0 {
		srcEvents, err = src.Events().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			return nil, nil, fmt.Errorf("retrieving source events: %w", err)
		}
		dstEvents, err = dst.Events().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			if !cdf.IsNotFound(err) {
				return nil, nil, fmt.Errorf("retrieving destination events: %w", err)
			}
			dstEvents = nil
		}
		return srcEvents, dstEvents, nil
	}

	srcEvents, err = src.Events().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing source events: %w", err)
	}
	dstEvents, err = dst.Events().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination events: %w", err)
	}
	return srcEvents, dstEvents, nil
}

func copyBatch(ctx context.Context, store cdf.Store[*cdf.Event], batch []*cdf.Event, dstBySrcID map[int64]*cdf.Event, dstListing []*cdf.Event, assetIDs *replication.IDMap, projectSrc string, runTime int64) error {
	l := ctxzap.Extract(ctx)

	createList, updateList, unchanged := replication.MakeObjectsBatch(batch, dstBySrcID, dstListing,
		func(src *cdf.Event) *cdf.Event { return buildEvent(src, assetIDs, projectSrc, runTime) },
		func(src, dst *cdf.Event) *cdf.Event { return updateEvent(src, dst, assetIDs, projectSrc, runTime) },
	)

	created, err := replication.Retry(ctx, createList, store.Create)
	if err != nil {
		return fmt.Errorf("creating events: %w", err)
	}
	updated, err := replication.Retry(ctx, updateList, store.Update)
	if err != nil {
		return fmt.Errorf("updating events: %w", err)
	}

	l.Info("replicated events batch",
		zap.Int("created", len(created)),
		zap.Int("updated", len(updated)),
		zap.Int("unchanged", len(unchanged)))
	return nil
}

// Replicate copies every event from the source project into the
// destination project, updating copies whose source changed since the
// last run.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "events.Replicate")
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

	srcEvents, dstEvents, err := listEvents(ctx, src, dst, opts.TargetExternalIDs)
	if err != nil {
		return err
	}
	l.Info("listed events",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcEvents)),
		zap.Int("destination", len(dstEvents)))

	assetIDs := opts.AssetIDs
	if assetIDs == nil {
		dstAssets, err := dst.Assets().List(ctx, nil)
		if err != nil {
			return fmt.Errorf("listing destination assets: %w", err)
		}
		assetIDs = replication.NewIDMap()
		replication.RecordAll(assetIDs, dstAssets)
	}
	l.Debug("asset ids available for linking", zap.Int("count", assetIDs.Len()))

	keep, err := keepFunc(opts.ExcludePattern)
	if err != nil {
		return err
	}
	if opts.SkipUnlinkable || opts.SkipNonAsset || opts.ExcludePattern != "" {
		filtered := replication.FilterObjects(srcEvents, assetIDs, opts.SkipUnlinkable, opts.SkipNonAsset, keep)
		l.Info("filtered source events",
			zap.Int("dropped", len(srcEvents)-len(filtered)),
			zap.Int("remaining", len(filtered)))
		srcEvents = filtered
	}

	runTime := replication.Now()
	dstBySrcID := replication.IDObjectMap(dstEvents)

	err = replication.RunChunked(ctx, srcEvents, opts.BatchSize, opts.NumWorkers, func(ctx context.Context, batch []*cdf.Event) error {
		return copyBatch(ctx, dst.Events(), batch, dstBySrcID, dstEvents, assetIDs, projectSrc, runTime)
	})
	if err != nil {
		return err
	}
	l.Info("finished copying events",
		zap.Int("count", len(srcEvents)),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	if opts.DeleteStale {
		ids := replication.FindStaleIDs(srcEvents, dstEvents)
		if err := deleteEvents(ctx, dst, ids); err != nil {
			return err
		}
		l.Info("deleted events missing from source", zap.Int("count", len(ids)))
	}
	if opts.DeleteForeign {
		ids := replication.FindForeignIDs(dstEvents)
		if err := deleteEvents(ctx, dst, ids); err != nil {
			return err
		}
		l.Info("deleted events not written by replication", zap.Int("count", len(ids)))
	}
	return nil
}

func deleteEvents(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Events().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	return nil
}
