package sequences

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/cdftest"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

func newProjects(t *testing.T) (*cdftest.Client, *cdftest.Client) {
	t.Helper()
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	dst.AssetData.Add(&cdf.Asset{
		ID:       101,
		Name:     "pump",
		Metadata: map[string]string{replication.ReplicatedInternalIDKey: "11"},
	})
	return src, dst
}

func replicatedCopy(srcID, replicatedTime int64) map[string]string {
	return map[string]string{
		replication.ReplicatedSourceKey:     "src-project",
		replication.ReplicatedTimeKey:       strconv.FormatInt(replicatedTime, 10),
		replication.ReplicatedInternalIDKey: strconv.FormatInt(srcID, 10),
	}
}

func TestReplicateCreates(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{
		ID:          11,
		ExternalID:  "cal-1",
		Name:        "calibration",
		Description: "pump calibration curve",
		AssetID:     11,
		Columns: []cdf.SequenceColumn{
			{ExternalID: "pressure", ValueType: "DOUBLE"},
			{ExternalID: "flow", ValueType: "DOUBLE"},
		},
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.SequenceData.Items()
	require.Len(t, got, 1)

	seq := got[0]
	require.Equal(t, "cal-1", seq.ExternalID)
	require.Equal(t, "calibration", seq.Name)
	require.Equal(t, int64(101), seq.AssetID)
	require.Len(t, seq.Columns, 2)
	require.Equal(t, "pressure", seq.Columns[0].ExternalID)
	require.Equal(t, "src-project", seq.Metadata[replication.ReplicatedSourceKey])
	require.Equal(t, int64(11), replication.ReplicatedInternalID(seq))
}

func TestReplicateUpdatesKeepColumns(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{
		ID:              11,
		ExternalID:      "cal-1",
		Name:            "renamed",
		Columns:         []cdf.SequenceColumn{{ExternalID: "pressure"}, {ExternalID: "flow"}},
		LastUpdatedTime: 2000,
	})
	dst.SequenceData.Add(&cdf.Sequence{
		ID:         201,
		ExternalID: "cal-1",
		Name:       "calibration",
		Columns:    []cdf.SequenceColumn{{ExternalID: "pressure"}},
		Metadata:   replicatedCopy(11, 1000),
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 0, dst.SequenceData.CreateCalls)
	require.Equal(t, 1, dst.SequenceData.UpdateCalls)

	got := dst.SequenceData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "renamed", got[0].Name)
	require.Len(t, got[0].Columns, 1, "the column set is fixed at creation")
	require.Greater(t, replication.ReplicatedTime(got[0]), int64(1000))
}

func TestUnchangedWhenCopyIsCurrent(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1", LastUpdatedTime: 900})
	dst.SequenceData.Add(&cdf.Sequence{
		ID:         201,
		ExternalID: "cal-1",
		Metadata:   replicatedCopy(11, 1000),
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 0, dst.SequenceData.CreateCalls)
	require.Equal(t, 0, dst.SequenceData.UpdateCalls)
}

func TestAssetMappingFallsBackToExternalIDs(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	// The destination assets are native, so no provenance metadata links
	// them back. Matching external ids still allow relinking.
	src.AssetData.Add(&cdf.Asset{ID: 11, ExternalID: "pump", Name: "pump"})
	dst.AssetData.Add(&cdf.Asset{ID: 101, ExternalID: "pump", Name: "pump"})
	src.SequenceData.Add(&cdf.Sequence{ID: 12, ExternalID: "cal-1", AssetID: 11})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.SequenceData.Items()
	require.Len(t, got, 1)
	require.Equal(t, int64(101), got[0].AssetID)
}

func TestExcludePatternSearchesAnywhere(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(
		&cdf.Sequence{ID: 11, ExternalID: "cal-1"},
		&cdf.Sequence{ID: 12, ExternalID: "seq-scratch-1"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{ExcludePattern: "scratch"}))

	got := dst.SequenceData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "cal-1", got[0].ExternalID)
}

func TestDeleteStaleUsesFilteredSource(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(
		&cdf.Sequence{ID: 11, ExternalID: "cal-1"},
		&cdf.Sequence{ID: 12, ExternalID: "scratch-1"},
	)
	dst.SequenceData.Add(
		&cdf.Sequence{ID: 201, ExternalID: "cal-1", Metadata: replicatedCopy(11, 1000)},
		&cdf.Sequence{ID: 202, ExternalID: "scratch-1", Metadata: replicatedCopy(12, 1000)},
		&cdf.Sequence{ID: 203, ExternalID: "gone-1", Metadata: replicatedCopy(13, 1000)},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{
		ExcludePattern: "^scratch",
		DeleteStale:    true,
	}))

	require.Equal(t, []int64{202, 203}, dst.SequenceData.Deleted,
		"replicas of excluded sequences count as missing from the source")
}

func TestDeleteForeign(t *testing.T) {
	src, dst := newProjects(t)
	dst.SequenceData.Add(&cdf.Sequence{ID: 201, ExternalID: "native-1"})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{DeleteForeign: true}))

	require.Equal(t, []int64{201}, dst.SequenceData.Deleted)
}

func TestTargetExternalIDs(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(
		&cdf.Sequence{ID: 11, ExternalID: "cal-1"},
		&cdf.Sequence{ID: 12, ExternalID: "cal-2"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{
		TargetExternalIDs: []string{"cal-2", "no-such-sequence"},
	}))

	got := dst.SequenceData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "cal-2", got[0].ExternalID)
}

func TestReplicateRowsBackfillsEmptyDestination(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1"})
	dst.SequenceData.Add(&cdf.Sequence{ID: 201, ExternalID: "cal-1", Metadata: replicatedCopy(11, 1000)})

	require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:      11,
		Columns: []string{"pressure", "flow"},
		Rows: []cdf.SequenceRow{
			{RowNumber: 1, Values: []any{1.5, 20.0}},
			{RowNumber: 2, Values: []any{1.7, 19.0}},
		},
	}))

	require.NoError(t, ReplicateRows(ctx, src, dst))

	require.Equal(t, 1, dst.SequenceData.InsertRowCalls)
	got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 201})
	require.NoError(t, err)
	require.Equal(t, []string{"pressure", "flow"}, got.Columns)
	require.Len(t, got.Rows, 2)
	require.Equal(t, int64(1), got.Rows[0].RowNumber)
	require.Equal(t, []any{1.5, 20.0}, got.Rows[0].Values)
}

func TestReplicateRowsSkipsNonEmptyDestination(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1"})
	dst.SequenceData.Add(&cdf.Sequence{ID: 201, ExternalID: "cal-1", Metadata: replicatedCopy(11, 1000)})

	require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:   11,
		Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{1.5}}},
	}))
	require.NoError(t, dst.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:   201,
		Rows: []cdf.SequenceRow{{RowNumber: 9, Values: []any{9.9}}},
	}))

	require.NoError(t, ReplicateRows(ctx, src, dst))

	require.Equal(t, 1, dst.SequenceData.InsertRowCalls, "only the seeding insert")
	got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 201})
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	require.Equal(t, int64(9), got.Rows[0].RowNumber)
}

func TestReplicateRowsSkipsMissingDestination(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1"})
	require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:   11,
		Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{1.5}}},
	}))

	require.NoError(t, ReplicateRows(ctx, src, dst))

	require.Zero(t, dst.SequenceData.InsertRowCalls)
}

func TestReplicateRowsSkipsEmptySource(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1"})
	dst.SequenceData.Add(&cdf.Sequence{ID: 201, ExternalID: "cal-1", Metadata: replicatedCopy(11, 1000)})

	require.NoError(t, ReplicateRows(ctx, src, dst))

	require.Zero(t, dst.SequenceData.InsertRowCalls)
}
