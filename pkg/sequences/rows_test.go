package sequences

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/cdftest"
)

func addSharedSequence(t *testing.T, src, dst *cdftest.Client, srcID, dstID int64, externalID string) {
	t.Helper()
	src.SequenceData.Add(&cdf.Sequence{ID: srcID, ExternalID: externalID})
	dst.SequenceData.Add(&cdf.Sequence{ID: dstID, ExternalID: externalID, Metadata: replicatedCopy(srcID, 1000)})
}

func TestSyncRowsUpsertsSharedSequences(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	addSharedSequence(t, src, dst, 11, 201, "cal-1")
	addSharedSequence(t, src, dst, 12, 202, "cal-2")

	require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:      11,
		Columns: []string{"pressure"},
		Rows: []cdf.SequenceRow{
			{RowNumber: 1, Values: []any{1.5}},
			{RowNumber: 2, Values: []any{1.7}},
		},
	}))
	// The destination is not empty, so this proves overwrite rather than
	// backfill-only behavior.
	require.NoError(t, dst.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:   201,
		Rows: []cdf.SequenceRow{{RowNumber: 9, Values: []any{9.9}}},
	}))

	require.NoError(t, SyncRows(ctx, src, dst, RowOptions{NumWorkers: 1}))

	require.Equal(t, 2, dst.SequenceData.InsertRowCalls, "seed plus one sync insert; rowless cal-2 is skipped")
	got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 201})
	require.NoError(t, err)
	require.Len(t, got.Rows, 3)
	require.Equal(t, int64(1), got.Rows[0].RowNumber)
	require.Equal(t, []any{1.5}, got.Rows[0].Values)
}

func TestSyncRowsRejectsConflictingSelectors(t *testing.T) {
	src, dst := newProjects(t)
	err := SyncRows(context.Background(), src, dst, RowOptions{
		ExternalIDs:    []string{"cal-1"},
		ExcludePattern: "^scratch",
	})
	require.Error(t, err)
}

func TestSyncRowsMockRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	addSharedSequence(t, src, dst, 11, 201, "cal-1")
	require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
		ID:   11,
		Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{1.5}}},
	}))

	require.NoError(t, SyncRows(ctx, src, dst, RowOptions{MockRun: true, NumWorkers: 1}))

	require.Zero(t, dst.SequenceData.InsertRowCalls)
}

func TestSyncRowsSkipsExcludedSequences(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	addSharedSequence(t, src, dst, 11, 201, "cal-1")
	addSharedSequence(t, src, dst, 12, 202, "scratch-1")
	for _, id := range []int64{11, 12} {
		require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
			ID:   id,
			Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{1.5}}},
		}))
	}

	require.NoError(t, SyncRows(ctx, src, dst, RowOptions{ExcludePattern: "^scratch", NumWorkers: 1}))

	require.Equal(t, 1, dst.SequenceData.InsertRowCalls)
	got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 202})
	require.NoError(t, err)
	require.Empty(t, got.Rows)
}

func TestSyncRowsContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	addSharedSequence(t, src, dst, 11, 201, "cal-1")
	addSharedSequence(t, src, dst, 12, 202, "cal-2")
	for _, id := range []int64{11, 12} {
		require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
			ID:   id,
			Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{1.5}}},
		}))
	}
	dst.SequenceData.FailNextInsertRows(errors.New("row write failed"))

	require.NoError(t, SyncRows(ctx, src, dst, RowOptions{NumWorkers: 1}),
		"a failed sequence is recorded, not fatal")

	require.Equal(t, 2, dst.SequenceData.InsertRowCalls)
	got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 202})
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
}

func TestSyncRowsStrictExternalIDRetrieval(t *testing.T) {
	src, dst := newProjects(t)
	src.SequenceData.Add(&cdf.Sequence{ID: 11, ExternalID: "cal-1"})

	err := SyncRows(context.Background(), src, dst, RowOptions{
		ExternalIDs: []string{"cal-1", "no-such-sequence"},
	})
	require.Error(t, err)
	require.True(t, cdf.IsNotFound(err))
}

func TestSyncRowsSpreadsJobsAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	src, dst := newProjects(t)
	for i := int64(0); i < 12; i++ {
		externalID := fmt.Sprintf("cal-%d", i)
		addSharedSequence(t, src, dst, 11+i, 201+i, externalID)
		require.NoError(t, src.SequenceData.InsertRows(ctx, &cdf.SequenceRows{
			ID:   11 + i,
			Rows: []cdf.SequenceRow{{RowNumber: 1, Values: []any{float64(i)}}},
		}))
	}

	require.NoError(t, SyncRows(ctx, src, dst, RowOptions{BatchSize: 2, NumWorkers: 3}))

	require.Equal(t, 12, dst.SequenceData.InsertRowCalls)
	for i := int64(0); i < 12; i++ {
		got, err := dst.SequenceData.RetrieveRows(ctx, cdf.ItemRef{ID: 201 + i})
		require.NoError(t, err)
		require.Len(t, got.Rows, 1, "sequence cal-%d", i)
	}
}
