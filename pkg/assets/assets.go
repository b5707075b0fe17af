// Package assets replicates the asset hierarchy between projects,
// level by level from the roots down so every parent exists before its
// children are written.
package assets

import (
	"context"
	"fmt"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/assets")

// OrphanPolicy says what to do with an asset whose parent has no
// destination counterpart, which happens when the parent was skipped or
// its creation failed.
type OrphanPolicy int

const (
	// OrphanAdopt copies the asset without a parent link, making it a
	// root in the destination.
	OrphanAdopt OrphanPolicy = iota
	// OrphanSkip drops the asset. Its descendants become orphans in
	// turn and are dropped as well.
	OrphanSkip
)

// Options control one asset replication run. The zero value copies the
// full hierarchy, adopts orphans and deletes nothing.
type Options struct {
	// SubtreeIDs and SubtreeExternalIDs restrict the run to the subtrees
	// under the given roots. The roots lose their parent link in the
	// destination; the original parent is kept in metadata.
	SubtreeIDs         []int64
	SubtreeExternalIDs []string
	// SubtreeMaxDepth caps how many levels below the roots are copied.
	// Zero or negative means no cap.
	SubtreeMaxDepth int
	Orphans         OrphanPolicy
	// DeleteStale removes replicated assets whose source asset no longer
	// exists. With subtrees selected, everything outside them counts as
	// missing from the source.
	DeleteStale bool
	// DeleteForeign removes destination assets that were not written by
	// the replicator.
	DeleteForeign bool
}

func buildAsset(src *cdf.Asset, ids *replication.IDMap, projectSrc string, runTime int64, depth int) *cdf.Asset {
	a := &cdf.Asset{
		ExternalID:  src.ExternalID,
		Name:        src.Name,
		Description: src.Description,
		Metadata:    replication.NewMetadata(src, projectSrc, runTime),
		Source:      src.Source,
	}
	if depth > 0 {
		a.ParentID = ids.MapAssetID(src.ParentID)
	}
	return a
}

func updateAsset(src, dst *cdf.Asset, ids *replication.IDMap, projectSrc string, runTime int64, depth int) *cdf.Asset {
	dst.ExternalID = src.ExternalID
	dst.Name = src.Name
	dst.Description = src.Description
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	dst.Source = src.Source
	dst.ParentID = 0
	if depth > 0 {
		dst.ParentID = ids.MapAssetID(src.ParentID)
	}
	return dst
}

// findChildren returns the assets one level below parents. A nil
// parents selects the roots.
func findChildren(assets, parents []*cdf.Asset) []*cdf.Asset {
	var children []*cdf.Asset
	if parents == nil {
		for _, a := range assets {
			if a.ParentID == 0 {
				children = append(children, a)
			}
		}
		return children
	}
	parentIDs := mapset.NewThreadUnsafeSetWithSize[int64](len(parents))
	for _, p := range parents {
		parentIDs.Add(p.ID)
	}
	for _, a := range assets {
		if parentIDs.Contains(a.ParentID) {
			children = append(children, a)
		}
	}
	return children
}

// validatedCreate creates assets, first probing the destination for a
// copy that an earlier, interrupted run may already have written. Found
// copies are adopted instead of created again.
func validatedCreate(ctx context.Context, store cdf.AssetStore, assets []*cdf.Asset) ([]*cdf.Asset, error) {
	var out []*cdf.Asset
	var missing []*cdf.Asset
	for _, a := range assets {
		srcID, ok := replication.ReplicatedInternalID(a.Metadata)
		if !ok {
			missing = append(missing, a)
			continue
		}
		existing, err := store.List(ctx, &cdf.ListFilter{
			Limit:    1,
			Metadata: map[string]string{replication.ReplicatedInternalIDKey: strconv.FormatInt(srcID, 10)},
		})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			out = append(out, existing...)
			continue
		}
		missing = append(missing, a)
	}
	if len(missing) > 0 {
		created, err := store.Create(ctx, missing)
		if err != nil {
			return nil, err
		}
		out = append(out, created...)
	}
	return out, nil
}

func dropOrphans(ctx context.Context, children []*cdf.Asset, ids *replication.IDMap) []*cdf.Asset {
	l := ctxzap.Extract(ctx)
	var kept []*cdf.Asset
	for _, a := range children {
		if _, ok := ids.DestinationID(a.ParentID); !ok {
			l.Warn("skipping asset with unmapped parent",
				zap.Int64("id", a.ID),
				zap.String("external_id", a.ExternalID),
				zap.Int64("parent_id", a.ParentID))
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// createHierarchy walks the source hierarchy from the roots down and
// writes each level to the destination, building up the source to
// destination id mapping as it goes.
func createHierarchy(ctx context.Context, dst cdf.Client, srcAssets, dstAssets []*cdf.Asset, projectSrc string, runTime int64, maxDepth int, orphans OrphanPolicy) (*replication.IDMap, error) {
	l := ctxzap.Extract(ctx)

	ids := replication.NewIDMap()
	dstBySrcID := replication.IDObjectMap(dstAssets)

	children := findChildren(srcAssets, nil)
	for depth := 0; len(children) > 0; depth++ {
		l.Info("replicating hierarchy level", zap.Int("depth", depth), zap.Int("assets", len(children)))

		if depth > 0 && orphans == OrphanSkip {
			children = dropOrphans(ctx, children, ids)
		}

		// No destination listing here: duplicate external ids are
		// caught by the validated create instead.
		createList, updateList, unchanged := replication.MakeObjectsBatch(children, dstBySrcID, nil,
			func(src *cdf.Asset) *cdf.Asset { return buildAsset(src, ids, projectSrc, runTime, depth) },
			func(src, dst *cdf.Asset) *cdf.Asset { return updateAsset(src, dst, ids, projectSrc, runTime, depth) },
		)

		created, err := replication.Retry(ctx, createList, func(ctx context.Context, items []*cdf.Asset) ([]*cdf.Asset, error) {
			return validatedCreate(ctx, dst.Assets(), items)
		})
		if err != nil {
			return nil, fmt.Errorf("creating assets: %w", err)
		}
		updated, err := replication.Retry(ctx, updateList, dst.Assets().Update)
		if err != nil {
			return nil, fmt.Errorf("updating assets: %w", err)
		}

		replication.RecordAll(ids, created)
		replication.RecordAll(ids, updated)
		replication.RecordAll(ids, unchanged)

		l.Info("finished hierarchy level",
			zap.Int("depth", depth),
			zap.Int("created", len(created)),
			zap.Int("updated", len(updated)),
			zap.Int("unchanged", len(unchanged)))

		if maxDepth > 0 && depth+1 > maxDepth {
			l.Info("reached max depth", zap.Int("max_depth", maxDepth))
			break
		}
		children = findChildren(srcAssets, children)
	}
	return ids, nil
}

// unlinkSubtreeRoots cuts the selected roots loose from their parents so
// they can be created at the top of the destination hierarchy. The
// original parent is preserved in metadata.
func unlinkSubtreeRoots(ctx context.Context, assets []*cdf.Asset, ids []int64, externalIDs []string) {
	l := ctxzap.Extract(ctx)
	idSet := mapset.NewThreadUnsafeSet(ids...)
	externalIDSet := mapset.NewThreadUnsafeSet(externalIDs...)
	for _, a := range assets {
		if !idSet.Contains(a.ID) && !externalIDSet.Contains(a.ExternalID) {
			continue
		}
		l.Info("unlinking subtree root", zap.Int64("id", a.ID), zap.Int64("parent_id", a.ParentID))
		if a.Metadata == nil {
			a.Metadata = map[string]string{}
		}
		if a.ParentID != 0 {
			a.Metadata[replication.OriginalParentIDKey] = strconv.FormatInt(a.ParentID, 10)
		}
		if a.ParentExternalID != "" {
			a.Metadata[replication.OriginalParentExternalIDKey] = a.ParentExternalID
		}
		a.ParentID = 0
		a.ParentExternalID = ""
	}
}

func listSource(ctx context.Context, src cdf.Client, opts Options) ([]*cdf.Asset, error) {
	if len(opts.SubtreeIDs) == 0 && len(opts.SubtreeExternalIDs) == 0 {
		assets, err := src.Assets().List(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing source assets: %w", err)
		}
		return assets, nil
	}

	depth := opts.SubtreeMaxDepth
	if depth <= 0 {
		depth = -1
	}
	var assets []*cdf.Asset
	for _, id := range opts.SubtreeIDs {
		subtree, err := src.Assets().RetrieveSubtree(ctx, cdf.ItemRef{ID: id}, depth)
		if err != nil {
			return nil, fmt.Errorf("retrieving subtree %d: %w", id, err)
		}
		assets = append(assets, subtree...)
	}
	for _, externalID := range opts.SubtreeExternalIDs {
		subtree, err := src.Assets().RetrieveSubtree(ctx, cdf.ItemRef{ExternalID: externalID}, depth)
		if err != nil {
			return nil, fmt.Errorf("retrieving subtree %q: %w", externalID, err)
		}
		assets = append(assets, subtree...)
	}
	unlinkSubtreeRoots(ctx, assets, opts.SubtreeIDs, opts.SubtreeExternalIDs)
	return assets, nil
}

// Replicate copies the asset hierarchy from the source project into the
// destination project and returns the mapping from source asset ids to
// destination asset ids, for use when relinking other resource kinds.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) (*replication.IDMap, error) {
	ctx, span := tracer.Start(ctx, "assets.Replicate")
	defer span.End()
	l := ctxzap.Extract(ctx)

	projectSrc := src.Project()
	projectDst := dst.Project()

	srcAssets, err := listSource(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	dstAssets, err := dst.Assets().List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing destination assets: %w", err)
	}
	l.Info("listed assets",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcAssets)),
		zap.Int("destination", len(dstAssets)))

	runTime := replication.Now()

	ids, err := createHierarchy(ctx, dst, srcAssets, dstAssets, projectSrc, runTime, opts.SubtreeMaxDepth, opts.Orphans)
	if err != nil {
		return nil, err
	}
	l.Info("finished copying assets",
		zap.Int("count", ids.Len()),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	if opts.DeleteStale {
		staleIDs := replication.FindStaleIDs(srcAssets, dstAssets)
		if err := deleteAssets(ctx, dst, staleIDs); err != nil {
			return nil, err
		}
		l.Info("deleted assets missing from source", zap.Int("count", len(staleIDs)))
	}
	if opts.DeleteForeign {
		foreignIDs := replication.FindForeignIDs(dstAssets)
		if err := deleteAssets(ctx, dst, foreignIDs); err != nil {
			return nil, err
		}
		l.Info("deleted assets not written by replication", zap.Int("count", len(foreignIDs)))
	}
	return ids, nil
}

func deleteAssets(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Assets().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting assets: %w", err)
	}
	return nil
}
