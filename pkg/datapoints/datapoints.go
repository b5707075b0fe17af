// Package datapoints copies numeric datapoints between time series that
// exist under the same external id in both projects. Each series keeps a
// watermark: copying resumes after the destination's newest point and
// stops at the source's newest one.
package datapoints

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/datapoints")

const (
	defaultWorkers = 10
	defaultLimit   = 10_000_000
)

// Options control one datapoint replication run.
type Options struct {
	NumWorkers int
	// Limit caps a single retrieval. Series with longer gaps are paged
	// until the watermark reaches the source's newest point.
	Limit int
	// ExternalIDs restricts the run to the given series.
	ExternalIDs []string
	// ExcludePattern drops series whose external id matches the regular
	// expression.
	ExcludePattern string
	// Transform rewrites each datapoint before insertion.
	Transform Transform
	// MockRun retrieves and counts datapoints but writes nothing.
	MockRun bool
}

// Replicate copies new datapoints for every series present in both
// projects. String series are skipped.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "datapoints.Replicate")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultWorkers
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}

	shared, err := sharedSeries(ctx, src, dst, opts)
	if err != nil {
		return err
	}
	l.Info("time series shared between the projects", zap.Int("count", len(shared)))
	if len(shared) == 0 {
		return nil
	}

	var mu sync.Mutex
	var seriesCopied, pointsCopied int

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.NumWorkers; i++ {
		part := replication.Chunk(shared, opts.NumWorkers, i)
		g.Go(func() error {
			for _, externalID := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				points, err := copySeries(gctx, src, dst, externalID, opts)
				if err != nil {
					return err
				}
				if points == 0 {
					continue
				}
				mu.Lock()
				seriesCopied++
				pointsCopied += points
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.Info("finished datapoint replication",
		zap.Int("series", seriesCopied),
		zap.Int("datapoints", pointsCopied),
		zap.Bool("mock_run", opts.MockRun))
	return nil
}

// sharedSeries lists both projects and keeps the source external ids
// that also exist in the destination, in source order.
func sharedSeries(ctx context.Context, src, dst cdf.Client, opts Options) ([]string, error) {
	l := ctxzap.Extract(ctx)

	srcSeries, err := src.TimeSeries().List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing source time series: %w", err)
	}
	dstSeries, err := dst.TimeSeries().List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing destination time series: %w", err)
	}

	var re *regexp.Regexp
	if opts.ExcludePattern != "" {
		re, err = regexp.Compile(opts.ExcludePattern)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern: %w", err)
		}
	}
	var only mapset.Set[string]
	if len(opts.ExternalIDs) > 0 {
		only = mapset.NewThreadUnsafeSet(opts.ExternalIDs...)
	}

	dstSet := mapset.NewThreadUnsafeSet[string]()
	for _, ts := range dstSeries {
		if ts.ExternalID != "" {
			dstSet.Add(ts.ExternalID)
		}
	}

	shared := make([]string, 0, len(srcSeries))
	for _, ts := range srcSeries {
		if ts.ExternalID == "" || !dstSet.Contains(ts.ExternalID) {
			continue
		}
		if ts.IsString {
			l.Debug("skipping string series", zap.String("external_id", ts.ExternalID))
			continue
		}
		if only != nil && !only.Contains(ts.ExternalID) {
			continue
		}
		if re != nil && re.MatchString(ts.ExternalID) {
			continue
		}
		shared = append(shared, ts.ExternalID)
	}
	return shared, nil
}

// copySeries advances one series from the destination's watermark to the
// source's newest point and returns the number of datapoints copied.
func copySeries(ctx context.Context, src, dst cdf.Client, externalID string, opts Options) (int, error) {
	l := ctxzap.Extract(ctx).With(zap.String("external_id", externalID))

	latestSrc, err := src.Datapoints().RetrieveLatest(ctx, externalID)
	if err != nil {
		return 0, fmt.Errorf("retrieving latest source datapoint of %s: %w", externalID, err)
	}
	if latestSrc == nil {
		l.Debug("source series has no datapoints")
		return 0, nil
	}
	latestDst, err := dst.Datapoints().RetrieveLatest(ctx, externalID)
	if err != nil {
		return 0, fmt.Errorf("retrieving latest destination datapoint of %s: %w", externalID, err)
	}

	var start int64
	if latestDst != nil {
		start = latestDst.Timestamp + 1
	}
	if start > latestSrc.Timestamp {
		l.Debug("destination is current", zap.Int64("watermark", latestSrc.Timestamp))
		return 0, nil
	}
	end := latestSrc.Timestamp + 1

	copied := 0
	for {
		points, err := src.Datapoints().Retrieve(ctx, externalID, start, end, opts.Limit)
		if err != nil {
			return copied, fmt.Errorf("retrieving datapoints of %s: %w", externalID, err)
		}
		if len(points) == 0 {
			break
		}
		// The watermark advances on source timestamps, so it is taken
		// before any transform rewrites them.
		next := points[len(points)-1].Timestamp + 1
		if opts.Transform != nil {
			for i := range points {
				points[i] = opts.Transform(points[i])
			}
		}
		if !opts.MockRun {
			if err := dst.Datapoints().Insert(ctx, externalID, points); err != nil {
				return copied, fmt.Errorf("inserting datapoints of %s: %w", externalID, err)
			}
		}
		copied += len(points)
		if len(points) < opts.Limit {
			break
		}
		start = next
	}
	l.Debug("series copied", zap.Int("datapoints", copied))
	return copied, nil
}

// PruneRecent deletes the trailing window of datapoints from every series
// in the project, clearing the way for a fresh backfill of that range.
func PruneRecent(ctx context.Context, client cdf.Client, window time.Duration) error {
	ctx, span := tracer.Start(ctx, "datapoints.PruneRecent")
	defer span.End()
	l := ctxzap.Extract(ctx)

	series, err := client.TimeSeries().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing time series: %w", err)
	}
	end := time.Now().UnixMilli()
	start := end - window.Milliseconds()

	pruned := 0
	for _, ts := range series {
		if ts.ExternalID == "" {
			continue
		}
		if err := client.Datapoints().DeleteRange(ctx, ts.ExternalID, start, end); err != nil {
			return fmt.Errorf("deleting datapoints of %s: %w", ts.ExternalID, err)
		}
		pruned++
	}
	l.Info("pruned recent datapoints",
		zap.Int("series", pruned),
		zap.Duration("window", window))
	return nil
}
