// Package datasets resolves source data set references against the
// destination project, creating missing data sets there on demand.
package datasets

import (
	"context"
	"fmt"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/datasets")

// Resolver maps source data set ids to destination data set ids,
// remembering every answer for the lifetime of a run. It is safe for
// concurrent use; resolution of a miss is serialized so the same source
// data set is never created twice.
type Resolver struct {
	src cdf.Client
	dst cdf.Client

	mu  sync.Mutex
	ids map[int64]int64
}

func NewResolver(src, dst cdf.Client) *Resolver {
	return &Resolver{
		src: src,
		dst: dst,
		ids: make(map[int64]int64),
	}
}

// Resolve returns the destination counterpart of a source data set id.
// The counterpart is found by external id first, then by name, and is
// created from the source data set when neither matches. A zero id
// resolves to zero.
func (r *Resolver) Resolve(ctx context.Context, srcID int64) (int64, error) {
	if srcID == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if dstID, ok := r.ids[srcID]; ok {
		return dstID, nil
	}

	ctx, span := tracer.Start(ctx, "datasets.Resolve")
	defer span.End()

	srcSet, err := r.src.DataSets().Retrieve(ctx, cdf.ItemRef{ID: srcID})
	if err != nil {
		return 0, fmt.Errorf("retrieving source data set: %w", err)
	}
	if srcSet == nil {
		return 0, fmt.Errorf("source data set %d does not exist", srcID)
	}

	dstID, err := r.findOrCreate(ctx, srcSet)
	if err != nil {
		return 0, err
	}
	r.ids[srcID] = dstID
	return dstID, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, srcSet *cdf.DataSet) (int64, error) {
	l := ctxzap.Extract(ctx)

	if srcSet.ExternalID != "" {
		dstSet, err := r.dst.DataSets().Retrieve(ctx, cdf.ItemRef{ExternalID: srcSet.ExternalID})
		if err != nil {
			return 0, fmt.Errorf("retrieving destination data set: %w", err)
		}
		if dstSet != nil {
			return dstSet.ID, nil
		}
	}

	dstSets, err := r.dst.DataSets().List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("listing destination data sets: %w", err)
	}
	for _, ds := range dstSets {
		if ds.Name == srcSet.Name {
			return ds.ID, nil
		}
	}

	created, err := r.dst.DataSets().Create(ctx, []*cdf.DataSet{{
		ExternalID:     srcSet.ExternalID,
		Name:           srcSet.Name,
		Description:    srcSet.Description,
		Metadata:       srcSet.Metadata,
		WriteProtected: srcSet.WriteProtected,
	}})
	if err != nil {
		return 0, fmt.Errorf("creating destination data set: %w", err)
	}
	l.Info("created destination data set",
		zap.String("name", srcSet.Name),
		zap.Int64("source_id", srcSet.ID),
		zap.Int64("destination_id", created[0].ID))
	return created[0].ID, nil
}

// Known returns a copy of the mappings resolved so far.
func (r *Resolver) Known() map[int64]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]int64, len(r.ids))
	for k, v := range r.ids {
		out[k] = v
	}
	return out
}
