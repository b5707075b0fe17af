// Package sequences replicates sequence definitions between projects and
// backfills their row data.
package sequences

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

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/sequences")

// Options control one sequence replication run.
type Options struct {
	BatchSize  int
	NumWorkers int
	// TargetExternalIDs restricts the run to the given sequences instead
	// of the full listing.
	TargetExternalIDs []string
	// ExcludePattern drops source sequences whose external id matches
	// the regular expression.
	ExcludePattern string
	// SkipUnlinkable drops source sequences linked to an asset that has
	// no counterpart in the destination.
	SkipUnlinkable bool
	// SkipNonAsset drops source sequences with no asset link at all.
	SkipNonAsset bool
	// DeleteStale removes replicated sequences whose source sequence no
	// longer exists.
	DeleteStale bool
	// DeleteForeign removes destination sequences that were not written
	// by the replicator.
	DeleteForeign bool
	// AssetIDs overrides the asset id mapping normally derived from the
	// destination asset listing.
	AssetIDs *replication.IDMap
}

func buildSequence(src *cdf.Sequence, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.Sequence {
	return &cdf.Sequence{
		ExternalID:  src.ExternalID,
		Name:        src.Name,
		Description: src.Description,
		AssetID:     ids.MapAssetID(src.AssetID),
		Metadata:    replication.NewMetadata(src, projectSrc, runTime),
		Columns:     src.Columns,
	}
}

// updateSequence leaves Columns alone: the sequences API fixes the
// column set at creation.
func updateSequence(src, dst *cdf.Sequence, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.Sequence {
	dst.ExternalID = src.ExternalID
	dst.Name = src.Name
	dst.Description = src.Description
	dst.AssetID = ids.MapAssetID(src.AssetID)
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	return dst
}

func keepFunc(pattern string) (func(*cdf.Sequence) bool, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude pattern: %w", err)
	}
	return func(seq *cdf.Sequence) bool {
		return !re.MatchString(seq.ExternalID)
	}, nil
}

func listSequences(ctx context.Context, src, dst cdf.Client, targetExternalIDs []string) (srcSeqs, dstSeqs []*cdf.Sequence, err error) {
	if len(targetExternalIDs) > 0 {
		srcSeqs, err = src.Sequences().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			return nil, nil, fmt.Errorf("retrieving source sequences: %w", err)
		}
		dstSeqs, err = dst.Sequences().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			if !cdf.IsNotFound(err) {
				return nil, nil, fmt.Errorf("retrieving destination sequences: %w", err)
			}
			dstSeqs = nil
		}
		return srcSeqs, dstSeqs, nil
	}

	srcSeqs, err = src.Sequences().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing source sequences: %w", err)
	}
	dstSeqs, err = dst.Sequences().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination sequences: %w", err)
	}
	return srcSeqs, dstSeqs, nil
}

// assetMapping derives the asset id mapping from destination provenance
// metadata. When the destination assets carry none, it falls back to
// joining the two projects' assets on external id.
func assetMapping(ctx context.Context, src, dst cdf.Client) (*replication.IDMap, error) {
	dstAssets, err := dst.Assets().List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing destination assets: %w", err)
	}
	ids := replication.NewIDMap()
	replication.RecordAll(ids, dstAssets)
	if ids.Len() > 0 {
		return ids, nil
	}

	srcAssets, err := src.Assets().List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing source assets: %w", err)
	}
	for srcID, dstID := range replication.MapIDsFromExternalIDs(replication.ExternalIDMap(srcAssets), dstAssets) {
		ids.Add(srcID, dstID)
	}
	return ids, nil
}

func copyBatch(ctx context.Context, store cdf.SequenceStore, batch []*cdf.Sequence, dstBySrcID map[int64]*cdf.Sequence, dstListing []*cdf.Sequence, ids *replication.IDMap, projectSrc string, runTime int64) error {
	l := ctxzap.Extract(ctx)

	createList, updateList, unchanged := replication.MakeObjectsBatch(batch, dstBySrcID, dstListing,
		func(src *cdf.Sequence) *cdf.Sequence { return buildSequence(src, ids, projectSrc, runTime) },
		func(src, dst *cdf.Sequence) *cdf.Sequence { return updateSequence(src, dst, ids, projectSrc, runTime) },
	)

	created, err := replication.Retry(ctx, createList, store.Create)
	if err != nil {
		return fmt.Errorf("creating sequences: %w", err)
	}
	updated, err := replication.Retry(ctx, updateList, store.Update)
	if err != nil {
		return fmt.Errorf("updating sequences: %w", err)
	}

	l.Info("replicated sequence batch",
		zap.Int("created", len(created)),
		zap.Int("updated", len(updated)),
		zap.Int("unchanged", len(unchanged)))
	return nil
}

// Replicate copies every sequence definition from the source project
// into the destination project, updating copies whose source changed
// since the last run. Row data is left to ReplicateRows.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "sequences.Replicate")
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

	srcSeqs, dstSeqs, err := listSequences(ctx, src, dst, opts.TargetExternalIDs)
	if err != nil {
		return err
	}
	l.Info("listed sequences",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcSeqs)),
		zap.Int("destination", len(dstSeqs)))

	ids := opts.AssetIDs
	if ids == nil {
		ids, err = assetMapping(ctx, src, dst)
		if err != nil {
			return err
		}
	}
	l.Debug("asset ids available for linking", zap.Int("count", ids.Len()))

	filtered := srcSeqs
	if opts.SkipUnlinkable || opts.SkipNonAsset || opts.ExcludePattern != "" {
		keep, err := keepFunc(opts.ExcludePattern)
		if err != nil {
			return err
		}
		filtered = replication.FilterObjects(srcSeqs, ids, opts.SkipUnlinkable, opts.SkipNonAsset, keep)
		l.Info("filtered source sequences",
			zap.Int("dropped", len(srcSeqs)-len(filtered)),
			zap.Int("remaining", len(filtered)))
	}

	runTime := replication.Now()
	dstBySrcID := replication.IDObjectMap(dstSeqs)

	err = replication.RunChunked(ctx, filtered, opts.BatchSize, opts.NumWorkers, func(ctx context.Context, batch []*cdf.Sequence) error {
		return copyBatch(ctx, dst.Sequences(), batch, dstBySrcID, dstSeqs, ids, projectSrc, runTime)
	})
	if err != nil {
		return err
	}
	l.Info("finished copying sequences",
		zap.Int("count", len(filtered)),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	if opts.DeleteStale {
		staleIDs := replication.FindStaleIDs(filtered, dstSeqs)
		if err := deleteSequences(ctx, dst, staleIDs); err != nil {
			return err
		}
		l.Info("deleted sequences missing from source", zap.Int("count", len(staleIDs)))
	}
	if opts.DeleteForeign {
		foreignIDs := replication.FindForeignIDs(dstSeqs)
		if err := deleteSequences(ctx, dst, foreignIDs); err != nil {
			return err
		}
		l.Info("deleted sequences not written by replication", zap.Int("count", len(foreignIDs)))
	}
	return nil
}

func deleteSequences(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Sequences().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting sequences: %w", err)
	}
	return nil
}

// ReplicateRows backfills row data for sequences that exist in both
// projects. Rows are written only when the destination sequence holds no
// rows at all; partially loaded destinations are left untouched rather
// than merged.
func ReplicateRows(ctx context.Context, src, dst cdf.Client) error {
	ctx, span := tracer.Start(ctx, "sequences.ReplicateRows")
	defer span.End()
	l := ctxzap.Extract(ctx)

	srcSeqs, err := src.Sequences().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing source sequences: %w", err)
	}
	dstSeqs, err := dst.Sequences().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing destination sequences: %w", err)
	}
	dstByExternalID := replication.ExternalIDMap(dstSeqs)

	backfilled := 0
	for _, seq := range srcSeqs {
		dstSeq, ok := dstByExternalID[seq.ExternalID]
		if !ok {
			l.Debug("sequence missing from destination, skipping rows",
				zap.String("external_id", seq.ExternalID))
			continue
		}

		srcRows, err := src.Sequences().RetrieveRows(ctx, cdf.ItemRef{ID: seq.ID})
		if err != nil {
			return fmt.Errorf("retrieving source sequence rows: %w", err)
		}
		if len(srcRows.Rows) == 0 {
			continue
		}
		dstRows, err := dst.Sequences().RetrieveRows(ctx, cdf.ItemRef{ID: dstSeq.ID})
		if err != nil {
			return fmt.Errorf("retrieving destination sequence rows: %w", err)
		}
		if len(dstRows.Rows) > 0 {
			continue
		}

		err = dst.Sequences().InsertRows(ctx, &cdf.SequenceRows{
			ID:      dstSeq.ID,
			Columns: srcRows.Columns,
			Rows:    srcRows.Rows,
		})
		if err != nil {
			return fmt.Errorf("inserting sequence rows: %w", err)
		}
		backfilled++
	}
	l.Info("backfilled sequence rows", zap.Int("sequences", backfilled))
	return nil
}
