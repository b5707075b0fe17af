package replication

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

const retryAttempts = 3

// Retry applies op to items, retrying transient failures up to three
// attempts with no backoff. Empty input is a no-op. Permanent failures
// are returned to the caller. When every attempt fails transiently the
// result is empty and the error nil: the write is abandoned with a
// warning and the next run reconciles whatever was missed.
func Retry[In, Out any](ctx context.Context, items []In, op func(context.Context, []In) ([]Out, error)) ([]Out, error) {
	if len(items) == 0 {
		return nil, nil
	}
	l := ctxzap.Extract(ctx)

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := op(ctx, items)
		if err == nil {
			return out, nil
		}
		if !cdf.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		l.Warn("transient failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("items", len(items)),
			zap.Error(err))
	}

	l.Warn("giving up batch after repeated transient failures",
		zap.Int("attempts", retryAttempts),
		zap.Int("items", len(items)),
		zap.Error(lastErr))
	return nil, nil
}
