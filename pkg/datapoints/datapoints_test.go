package datapoints

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/cdftest"
)

func newSharedSeries(t *testing.T, externalIDs ...string) (*cdftest.Client, *cdftest.Client) {
	t.Helper()
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	for i, externalID := range externalIDs {
		src.TimeSeriesData.Add(&cdf.TimeSeries{ID: int64(i + 1), ExternalID: externalID})
		dst.TimeSeriesData.Add(&cdf.TimeSeries{ID: int64(i + 101), ExternalID: externalID})
	}
	return src, dst
}

func timestamps(points []cdf.Datapoint) []int64 {
	out := make([]int64, len(points))
	for i, p := range points {
		out[i] = p.Timestamp
	}
	return out
}

func TestNamedTransforms(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value float64
		in    cdf.Datapoint
		want  cdf.Datapoint
	}{
		{name: "offset", value: 2.5, in: cdf.Datapoint{Timestamp: 10, Value: 1}, want: cdf.Datapoint{Timestamp: 10, Value: 3.5}},
		{name: "scale", value: 10, in: cdf.Datapoint{Timestamp: 10, Value: 1.5}, want: cdf.Datapoint{Timestamp: 10, Value: 15}},
		{name: "timeshift", value: 3_600_000, in: cdf.Datapoint{Timestamp: 10, Value: 1}, want: cdf.Datapoint{Timestamp: 3_600_010, Value: 1}},
		{name: "timeshift", value: 0, in: cdf.Datapoint{Timestamp: 0, Value: 1}, want: cdf.Datapoint{Timestamp: 604_800_000, Value: 1}},
	} {
		fn, err := New(tc.name, tc.value)
		require.NoError(t, err)
		require.Equal(t, tc.want, fn(tc.in))
	}

	for _, name := range []string{"", "none"} {
		fn, err := New(name, 1)
		require.NoError(t, err)
		require.Nil(t, fn)
	}

	_, err := New("reverse", 0)
	require.Error(t, err)
}

func TestReplicateCopiesNewPoints(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1",
		cdf.Datapoint{Timestamp: 100, Value: 1},
		cdf.Datapoint{Timestamp: 200, Value: 2},
		cdf.Datapoint{Timestamp: 300, Value: 3},
	)
	dst.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 100, Value: 1})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	// The newest source point lands too, not just the ones before it.
	require.Equal(t, []int64{100, 200, 300}, timestamps(dst.DatapointData.Series("temp-1")))
	require.Equal(t, 1, dst.DatapointData.InsertCalls)
}

func TestReplicateStartsFromZeroOnEmptyDestination(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1",
		cdf.Datapoint{Timestamp: 50, Value: 5},
		cdf.Datapoint{Timestamp: 60, Value: 6},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, []int64{50, 60}, timestamps(dst.DatapointData.Series("temp-1")))
}

func TestReplicateSkipsCurrentSeries(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 100, Value: 1})
	dst.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 100, Value: 1})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Zero(t, dst.DatapointData.InsertCalls)
}

func TestReplicateSkipsStringAndUnsharedSeries(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.TimeSeriesData.Add(
		&cdf.TimeSeries{ID: 2, ExternalID: "status-1", IsString: true},
		&cdf.TimeSeries{ID: 3, ExternalID: "src-only"},
	)
	dst.TimeSeriesData.Add(&cdf.TimeSeries{ID: 103, ExternalID: "status-1"})
	src.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 10, Value: 1})
	src.DatapointData.Add("status-1", cdf.Datapoint{Timestamp: 10, Value: 2})
	src.DatapointData.Add("src-only", cdf.Datapoint{Timestamp: 10, Value: 3})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Len(t, dst.DatapointData.Series("temp-1"), 1)
	require.Empty(t, dst.DatapointData.Series("status-1"))
	require.Empty(t, dst.DatapointData.Series("src-only"))
}

func TestReplicatePagesLongSeries(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	for ts := int64(1); ts <= 5; ts++ {
		src.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: ts, Value: float64(ts)})
	}

	require.NoError(t, Replicate(context.Background(), src, dst, Options{Limit: 2}))

	require.Equal(t, []int64{1, 2, 3, 4, 5}, timestamps(dst.DatapointData.Series("temp-1")))
	require.Equal(t, 3, dst.DatapointData.InsertCalls)
}

func TestReplicateTransformLeavesWatermarkAlone(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1",
		cdf.Datapoint{Timestamp: 10, Value: 1},
		cdf.Datapoint{Timestamp: 20, Value: 2},
	)
	shift, err := New("timeshift", 5)
	require.NoError(t, err)

	// A one-point page forces the cursor through the shifted batch.
	require.NoError(t, Replicate(context.Background(), src, dst, Options{Limit: 1, Transform: shift}))

	require.Equal(t, []int64{15, 25}, timestamps(dst.DatapointData.Series("temp-1")))
}

func TestReplicateMockRunWritesNothing(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 10, Value: 1})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{MockRun: true}))

	require.Empty(t, dst.DatapointData.Series("temp-1"))
	require.Zero(t, dst.DatapointData.InsertCalls)
}

func TestReplicateSelectsSeries(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1", "temp-scratch", "flow-1")
	for _, externalID := range []string{"temp-1", "temp-scratch", "flow-1"} {
		src.DatapointData.Add(externalID, cdf.Datapoint{Timestamp: 10, Value: 1})
	}

	require.NoError(t, Replicate(context.Background(), src, dst, Options{ExcludePattern: "scratch"}))
	require.Len(t, dst.DatapointData.Series("temp-1"), 1)
	require.Empty(t, dst.DatapointData.Series("temp-scratch"))
	require.Len(t, dst.DatapointData.Series("flow-1"), 1)

	src2, dst2 := newSharedSeries(t, "temp-1", "flow-1")
	src2.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 10, Value: 1})
	src2.DatapointData.Add("flow-1", cdf.Datapoint{Timestamp: 10, Value: 1})

	require.NoError(t, Replicate(context.Background(), src2, dst2, Options{ExternalIDs: []string{"flow-1"}}))
	require.Empty(t, dst2.DatapointData.Series("temp-1"))
	require.Len(t, dst2.DatapointData.Series("flow-1"), 1)
}

func TestReplicateBadExcludePattern(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	err := Replicate(context.Background(), src, dst, Options{ExcludePattern: "("})
	require.ErrorContains(t, err, "compiling exclude pattern")
}

func TestReplicateInsertFailureAborts(t *testing.T) {
	src, dst := newSharedSeries(t, "temp-1")
	src.DatapointData.Add("temp-1", cdf.Datapoint{Timestamp: 10, Value: 1})
	boom := errors.New("socket closed")
	dst.DatapointData.FailNextInsert(boom)

	err := Replicate(context.Background(), src, dst, Options{NumWorkers: 1})
	require.ErrorIs(t, err, boom)
}

func TestPruneRecent(t *testing.T) {
	dst := cdftest.NewClient("dst-project")
	dst.TimeSeriesData.Add(&cdf.TimeSeries{ID: 1, ExternalID: "temp-1"})
	now := time.Now().UnixMilli()
	dst.DatapointData.Add("temp-1",
		cdf.Datapoint{Timestamp: now - 10*24*3600*1000, Value: 1},
		cdf.Datapoint{Timestamp: now - 3600*1000, Value: 2},
	)

	require.NoError(t, PruneRecent(context.Background(), dst, 7*24*time.Hour))

	points := dst.DatapointData.Series("temp-1")
	require.Len(t, points, 1)
	require.Equal(t, now-10*24*3600*1000, points[0].Timestamp)
}
