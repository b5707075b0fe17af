package replication

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

func TestRetrySuccess(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), []int{1, 2}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out)
	require.Equal(t, 1, calls)
}

func TestRetryEmptyInput(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), nil, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return nil, nil
	})

	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, calls, "an empty batch must not reach the API")
}

func TestRetryPermanentError(t *testing.T) {
	calls := 0
	want := &cdf.Error{Code: 400, Message: "malformed request"}
	out, err := Retry(context.Background(), []int{1}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return nil, want
	})

	require.ErrorIs(t, err, want)
	require.Empty(t, out)
	require.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), []int{1}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		if calls < 2 {
			return nil, &cdf.Error{Code: 503, Message: "upstream unavailable"}
		}
		return []string{"a"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"a"}, out)
	require.Equal(t, 2, calls)
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), []int{1}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return nil, &cdf.Error{Code: 429, Message: "rate limited"}
	})

	require.NoError(t, err, "an exhausted batch is skipped, not fatal")
	require.Empty(t, out)
	require.Equal(t, retryAttempts, calls)
}

func TestRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, []int{1}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return nil, nil
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestRetryUnwrappedTransient(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), []int{1}, func(ctx context.Context, items []int) ([]string, error) {
		calls++
		return nil, errors.New("read tcp 10.0.0.1:443: connection reset by peer")
	})

	// Opaque errors are treated as permanent.
	require.Error(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, calls)
}
