// Package relationships replicates relationships between projects.
// Source and target references travel as typed external ids, so they
// resolve correctly once the referenced resources are replicated.
package relationships

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/datasets"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/relationships")

// Options control one relationship replication run.
type Options struct {
	BatchSize  int
	NumWorkers int
	// TargetExternalIDs restricts the run to the given relationships
	// instead of the full listing.
	TargetExternalIDs []string
	// DatasetSupport carries data set links over to the destination,
	// creating missing data sets there. Without it copies hold no data
	// set reference.
	DatasetSupport bool
	// DeleteStale removes replicated relationships whose source no
	// longer exists.
	DeleteStale bool
	// DeleteForeign removes destination relationships that were not
	// written by the replicator.
	DeleteForeign bool
	// Resolver overrides the data set resolver built for the run, so
	// several resource runs can share one resolution cache.
	Resolver *datasets.Resolver
}

// relationshipStartTime collapses an inverted interval so the API does
// not reject the write.
func relationshipStartTime(src *cdf.Relationship) int64 {
	if src.StartTime != 0 && src.EndTime != 0 && src.StartTime < src.EndTime {
		return src.StartTime
	}
	return src.EndTime
}

func buildRelationship(src *cdf.Relationship, dataSetIDs map[int64]int64, projectSrc string, runTime int64) *cdf.Relationship {
	return &cdf.Relationship{
		ExternalID:       src.ExternalID,
		SourceExternalID: src.SourceExternalID,
		SourceType:       src.SourceType,
		TargetExternalID: src.TargetExternalID,
		TargetType:       src.TargetType,
		StartTime:        relationshipStartTime(src),
		EndTime:          src.EndTime,
		Confidence:       src.Confidence,
		DataSetID:        dataSetIDs[src.DataSetID],
		Metadata:         replication.NewMetadata(src, projectSrc, runTime),
	}
}

func updateRelationship(src, dst *cdf.Relationship, dataSetIDs map[int64]int64, projectSrc string, runTime int64) *cdf.Relationship {
	dst.ExternalID = src.ExternalID
	dst.SourceExternalID = src.SourceExternalID
	dst.SourceType = src.SourceType
	dst.TargetExternalID = src.TargetExternalID
	dst.TargetType = src.TargetType
	dst.StartTime = relationshipStartTime(src)
	dst.EndTime = src.EndTime
	dst.Confidence = src.Confidence
	dst.DataSetID = dataSetIDs[src.DataSetID]
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	return dst
}

func listRelationships(ctx context.Context, src, dst cdf.Client, targetExternalIDs []string) (srcRels, dstRels []*cdf.Relationship, err error) {
	if len(targetExternalIDs) > 0 {
		srcRels, err = src.Relationships().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			return nil, nil, fmt.Errorf("retrieving source relationships: %w", err)
		}
		dstRels, err = dst.Relationships().RetrieveMultiple(ctx, targetExternalIDs, true)
		if err != nil {
			if !cdf.IsNotFound(err) {
				return nil, nil, fmt.Errorf("retrieving destination relationships: %w", err)
			}
			dstRels = nil
		}
		return srcRels, dstRels, nil
	}

	srcRels, err = src.Relationships().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing source relationships: %w", err)
	}
	dstRels, err = dst.Relationships().List(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination relationships: %w", err)
	}
	return srcRels, dstRels, nil
}

// resolveDataSets maps every distinct data set referenced by the source
// relationships to its destination counterpart before any batch runs, so
// the per-object build stays a pure lookup.
func resolveDataSets(ctx context.Context, resolver *datasets.Resolver, srcRels []*cdf.Relationship) (map[int64]int64, error) {
	ids := make(map[int64]int64)
	for _, rel := range srcRels {
		if rel.DataSetID == 0 {
			continue
		}
		if _, ok := ids[rel.DataSetID]; ok {
			continue
		}
		dstID, err := resolver.Resolve(ctx, rel.DataSetID)
		if err != nil {
			return nil, fmt.Errorf("resolving data set %d: %w", rel.DataSetID, err)
		}
		ids[rel.DataSetID] = dstID
	}
	return ids, nil
}

func copyBatch(ctx context.Context, store cdf.Store[*cdf.Relationship], batch []*cdf.Relationship, dstBySrcID map[int64]*cdf.Relationship, dstListing []*cdf.Relationship, dataSetIDs map[int64]int64, projectSrc string, runTime int64) error {
	l := ctxzap.Extract(ctx)

	createList, updateList, unchanged := replication.MakeObjectsBatch(batch, dstBySrcID, dstListing,
		func(src *cdf.Relationship) *cdf.Relationship {
			return buildRelationship(src, dataSetIDs, projectSrc, runTime)
		},
		func(src, dst *cdf.Relationship) *cdf.Relationship {
			return updateRelationship(src, dst, dataSetIDs, projectSrc, runTime)
		},
	)

	created, err := replication.Retry(ctx, createList, store.Create)
	if err != nil {
		return fmt.Errorf("creating relationships: %w", err)
	}
	updated, err := replication.Retry(ctx, updateList, store.Update)
	if err != nil {
		return fmt.Errorf("updating relationships: %w", err)
	}

	l.Info("replicated relationship batch",
		zap.Int("created", len(created)),
		zap.Int("updated", len(updated)),
		zap.Int("unchanged", len(unchanged)))
	return nil
}

// Replicate copies every relationship from the source project into the
// destination project, updating copies whose source changed since the
// last run.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "relationships.Replicate")
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

	srcRels, dstRels, err := listRelationships(ctx, src, dst, opts.TargetExternalIDs)
	if err != nil {
		return err
	}
	l.Info("listed relationships",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcRels)),
		zap.Int("destination", len(dstRels)))

	var dataSetIDs map[int64]int64
	if opts.DatasetSupport {
		resolver := opts.Resolver
		if resolver == nil {
			resolver = datasets.NewResolver(src, dst)
		}
		dataSetIDs, err = resolveDataSets(ctx, resolver, srcRels)
		if err != nil {
			return err
		}
		l.Debug("resolved data sets", zap.Int("count", len(dataSetIDs)))
	}

	runTime := replication.Now()
	dstBySrcID := replication.IDObjectMap(dstRels)

	err = replication.RunChunked(ctx, srcRels, opts.BatchSize, opts.NumWorkers, func(ctx context.Context, batch []*cdf.Relationship) error {
		return copyBatch(ctx, dst.Relationships(), batch, dstBySrcID, dstRels, dataSetIDs, projectSrc, runTime)
	})
	if err != nil {
		return err
	}
	l.Info("finished copying relationships",
		zap.Int("count", len(srcRels)),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	if opts.DeleteStale {
		staleIDs := replication.FindStaleIDs(srcRels, dstRels)
		if err := deleteRelationships(ctx, dst, staleIDs); err != nil {
			return err
		}
		l.Info("deleted relationships missing from source", zap.Int("count", len(staleIDs)))
	}
	if opts.DeleteForeign {
		foreignIDs := replication.FindForeignIDs(dstRels)
		if err := deleteRelationships(ctx, dst, foreignIDs); err != nil {
			return err
		}
		l.Info("deleted relationships not written by replication", zap.Int("count", len(foreignIDs)))
	}
	return nil
}

func deleteRelationships(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Relationships().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting relationships: %w", err)
	}
	return nil
}
