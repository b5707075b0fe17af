package sequences

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

const defaultRowWorkers = 10

// RowOptions control one SyncRows run.
type RowOptions struct {
	// BatchSize is the number of sequences handled by one job. Zero
	// spreads the shared sequences evenly across NumWorkers jobs.
	BatchSize  int
	NumWorkers int
	// ExternalIDs restricts the sync to the given sequences and fails if
	// any of them is missing. Mutually exclusive with ExcludePattern.
	ExternalIDs []string
	// ExcludePattern drops sequences whose external id matches the
	// regular expression.
	ExcludePattern string
	// MockRun reads and counts source rows but writes nothing.
	MockRun bool
}

type rowResult struct {
	synced int
	rows   int
	failed []string
}

// SyncRows upserts the full row data of every sequence present in both
// projects. Unlike ReplicateRows it overwrites destination rows, and a
// sequence that fails is recorded and skipped rather than aborting the
// run.
func SyncRows(ctx context.Context, src, dst cdf.Client, opts RowOptions) error {
	ctx, span := tracer.Start(ctx, "sequences.SyncRows")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if len(opts.ExternalIDs) > 0 && opts.ExcludePattern != "" {
		return errors.New("sequence external ids and an exclude pattern are mutually exclusive")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultRowWorkers
	}

	shared, err := sharedExternalIDs(ctx, src, dst, opts)
	if err != nil {
		return err
	}
	l.Info("sequences shared between the projects", zap.Int("count", len(shared)))
	if len(shared) == 0 {
		return nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = (len(shared) + opts.NumWorkers - 1) / opts.NumWorkers
	}
	numBatches := (len(shared) + batchSize - 1) / batchSize

	jobs := make(chan int, numBatches)
	for job := 0; job < numBatches; job++ {
		jobs <- job
	}
	close(jobs)

	var mu sync.Mutex
	var total rowResult

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.NumWorkers; i++ {
		g.Go(func() error {
			for job := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := syncRowBatch(gctx, src, dst, job, replication.Chunk(shared, numBatches, job), opts.MockRun)
				mu.Lock()
				total.synced += res.synced
				total.rows += res.rows
				total.failed = append(total.failed, res.failed...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(total.failed) > 0 {
		sample := total.failed
		if len(sample) > 10 {
			sample = sample[:10]
		}
		l.Warn("some sequences failed row sync",
			zap.Int("failed", len(total.failed)),
			zap.Strings("sample", sample))
	}
	l.Info("finished sequence row sync",
		zap.Int("sequences", total.synced),
		zap.Int("rows", total.rows),
		zap.Bool("mock_run", opts.MockRun))
	return nil
}

// sharedExternalIDs lists both projects and keeps the source external
// ids that also exist in the destination, in source order.
func sharedExternalIDs(ctx context.Context, src, dst cdf.Client, opts RowOptions) ([]string, error) {
	var srcSeqs, dstSeqs []*cdf.Sequence
	var err error
	if len(opts.ExternalIDs) > 0 {
		srcSeqs, err = src.Sequences().RetrieveMultiple(ctx, opts.ExternalIDs, false)
		if err != nil {
			return nil, fmt.Errorf("retrieving source sequences: %w", err)
		}
		dstSeqs, err = dst.Sequences().RetrieveMultiple(ctx, opts.ExternalIDs, false)
		if err != nil {
			return nil, fmt.Errorf("retrieving destination sequences: %w", err)
		}
	} else {
		srcSeqs, err = src.Sequences().List(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing source sequences: %w", err)
		}
		dstSeqs, err = dst.Sequences().List(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing destination sequences: %w", err)
		}
	}

	var re *regexp.Regexp
	if opts.ExcludePattern != "" {
		re, err = regexp.Compile(opts.ExcludePattern)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern: %w", err)
		}
	}

	dstSet := mapset.NewThreadUnsafeSet[string]()
	for _, seq := range dstSeqs {
		if seq.ExternalID != "" {
			dstSet.Add(seq.ExternalID)
		}
	}

	shared := make([]string, 0, len(srcSeqs))
	for _, seq := range srcSeqs {
		if seq.ExternalID == "" {
			continue
		}
		if re != nil && re.MatchString(seq.ExternalID) {
			continue
		}
		if dstSet.Contains(seq.ExternalID) {
			shared = append(shared, seq.ExternalID)
		}
	}
	return shared, nil
}

func syncRowBatch(ctx context.Context, src, dst cdf.Client, job int, externalIDs []string, mockRun bool) rowResult {
	l := ctxzap.Extract(ctx).With(zap.Int("job", job))

	var res rowResult
	for _, externalID := range externalIDs {
		rows, err := src.Sequences().RetrieveRows(ctx, cdf.ItemRef{ExternalID: externalID})
		if err != nil {
			l.Error("retrieving source sequence rows failed",
				zap.String("external_id", externalID), zap.Error(err))
			res.failed = append(res.failed, externalID)
			continue
		}
		if len(rows.Rows) == 0 {
			res.synced++
			continue
		}
		if !mockRun {
			err = dst.Sequences().InsertRows(ctx, &cdf.SequenceRows{
				ExternalID: externalID,
				Columns:    rows.Columns,
				Rows:       rows.Rows,
			})
			if err != nil {
				l.Error("inserting sequence rows failed",
					zap.String("external_id", externalID), zap.Error(err))
				res.failed = append(res.failed, externalID)
				continue
			}
		}
		res.synced++
		res.rows += len(rows.Rows)
	}
	l.Debug("sequence row job done",
		zap.Int("sequences", res.synced),
		zap.Int("rows", res.rows),
		zap.Int("failed", len(res.failed)))
	return res
}
