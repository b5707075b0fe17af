package replication

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the largest batch posted in one API call when the
// caller does not say otherwise.
const DefaultBatchSize = 10000

// Range is a half-open [Start, End) window into a source listing.
type Range struct {
	Start, End int
}

// Ranges cuts n items into contiguous windows of at most batchSize.
func Ranges(n, batchSize int) []Range {
	if n <= 0 || batchSize <= 0 {
		return nil
	}
	ranges := make([]Range, 0, (n+batchSize-1)/batchSize)
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		ranges = append(ranges, Range{Start: i, End: end})
	}
	return ranges
}

// Chunk returns the i-th of numChunks nearly equal slices of list. The
// concatenation of all chunks is the whole list and chunk sizes differ
// by at most one, with the excess going to the lowest-numbered chunks.
func Chunk[T any](list []T, numChunks, chunkNumber int) []T {
	chunkSize := len(list) / numChunks
	excess := len(list) % numChunks

	start := chunkNumber * chunkSize
	start += min(chunkNumber, excess)

	end := start + chunkSize
	if chunkNumber < excess {
		end++
	}
	return list[start:end]
}

// RunChunked feeds contiguous windows of src to fn. Listings no larger
// than batchSize are handed to fn whole on the calling goroutine; larger
// listings are cut into batchSize windows drained by numWorkers
// goroutines. The first error cancels the remaining windows.
func RunChunked[T any](ctx context.Context, src []T, batchSize, numWorkers int, fn func(context.Context, []T) error) error {
	if len(src) == 0 {
		return nil
	}
	if batchSize <= 0 || len(src) <= batchSize {
		return fn(ctx, src)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	ranges := Ranges(len(src), batchSize)
	ctxzap.Extract(ctx).Debug("partitioning batch",
		zap.Int("items", len(src)),
		zap.Int("chunks", len(ranges)),
		zap.Int("workers", numWorkers))

	jobs := make(chan Range, len(ranges))
	for _, r := range ranges {
		jobs <- r
	}
	close(jobs)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for r := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, src[r.Start:r.End]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
