package events

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
	// One replicated asset pair so events can be relinked.
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

func byExternalID(t *testing.T, events []*cdf.Event, externalID string) *cdf.Event {
	t.Helper()
	for _, ev := range events {
		if ev.ExternalID == externalID {
			return ev
		}
	}
	t.Fatalf("no event with external id %q", externalID)
	return nil
}

func TestReplicateCreates(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(
		&cdf.Event{ID: 11, ExternalID: "ev-1", Type: "alarm", AssetIDs: []int64{11}, LastUpdatedTime: 5000},
		&cdf.Event{ID: 12, ExternalID: "ev-2", Type: "maintenance", LastUpdatedTime: 5000},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.EventData.Items()
	require.Len(t, got, 2)

	ev := byExternalID(t, got, "ev-1")
	require.Equal(t, "alarm", ev.Type)
	require.Equal(t, []int64{101}, ev.AssetIDs, "asset links must point at the destination assets")
	require.Equal(t, "src-project", ev.Metadata[replication.ReplicatedSourceKey])
	require.Equal(t, "11", ev.Metadata[replication.ReplicatedInternalIDKey])
	require.NotEmpty(t, ev.Metadata[replication.ReplicatedTimeKey])
	require.NotZero(t, ev.ID)
}

func TestReplicateUpdates(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1", Description: "changed", LastUpdatedTime: 5000})
	dst.EventData.Add(&cdf.Event{ID: 201, ExternalID: "ev-1", Description: "old", Metadata: replicatedCopy(11, 1000)})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.EventData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "changed", got[0].Description)
	require.EqualValues(t, 201, got[0].ID)
	require.Greater(t, replication.ReplicatedTime(got[0].Metadata), int64(1000))
}

func TestReplicateUnchangedWhenCopyIsCurrent(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1", Description: "same", LastUpdatedTime: 500})
	dst.EventData.Add(&cdf.Event{ID: 201, ExternalID: "ev-1", Description: "copy", Metadata: replicatedCopy(11, 1000)})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Zero(t, dst.EventData.CreateCalls)
	require.Zero(t, dst.EventData.UpdateCalls)
	require.Equal(t, "copy", dst.EventData.Items()[0].Description)
}

func TestReplicateCollapsesInvertedInterval(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1", StartTime: 900, EndTime: 400})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := byExternalID(t, dst.EventData.Items(), "ev-1")
	require.EqualValues(t, 400, got.StartTime)
	require.EqualValues(t, 400, got.EndTime)
}

func TestReplicateSkipNonAsset(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(
		&cdf.Event{ID: 11, ExternalID: "ev-1", AssetIDs: []int64{11}},
		&cdf.Event{ID: 12, ExternalID: "ev-2"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{SkipNonAsset: true}))

	got := dst.EventData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "ev-1", got[0].ExternalID)
}

func TestReplicateSkipUnlinkable(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(
		&cdf.Event{ID: 11, ExternalID: "ev-1", AssetIDs: []int64{11}},
		&cdf.Event{ID: 12, ExternalID: "ev-2", AssetIDs: []int64{99}},
		&cdf.Event{ID: 13, ExternalID: "ev-3"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{SkipUnlinkable: true}))

	got := dst.EventData.Items()
	require.Len(t, got, 2)
	byExternalID(t, got, "ev-1")
	byExternalID(t, got, "ev-3")
}

func TestReplicateExcludePattern(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(
		&cdf.Event{ID: 11, ExternalID: "ev-1"},
		&cdf.Event{ID: 12, ExternalID: "scratch-ev-2"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{ExcludePattern: "^scratch"}))

	got := dst.EventData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "ev-1", got[0].ExternalID)
}

func TestReplicateBadExcludePattern(t *testing.T) {
	src, dst := newProjects(t)
	require.Error(t, Replicate(context.Background(), src, dst, Options{ExcludePattern: "["}))
}

func TestReplicateDeleteStale(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1"})
	dst.EventData.Add(
		&cdf.Event{ID: 201, ExternalID: "ev-1", Metadata: replicatedCopy(11, 1000)},
		&cdf.Event{ID: 202, ExternalID: "ev-9", Metadata: replicatedCopy(99, 1000)},
		&cdf.Event{ID: 203, ExternalID: "native"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{DeleteStale: true}))

	require.Equal(t, []int64{202}, dst.EventData.Deleted)
	require.Len(t, dst.EventData.Items(), 2)
}

func TestReplicateDeleteForeign(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1"})
	dst.EventData.Add(
		&cdf.Event{ID: 201, ExternalID: "ev-1", Metadata: replicatedCopy(11, 1000)},
		&cdf.Event{ID: 203, ExternalID: "native"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{DeleteForeign: true}))

	require.Equal(t, []int64{203}, dst.EventData.Deleted)
}

func TestReplicateTargetExternalIDs(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(
		&cdf.Event{ID: 11, ExternalID: "ev-1"},
		&cdf.Event{ID: 12, ExternalID: "ev-2"},
		&cdf.Event{ID: 13, ExternalID: "ev-3"},
	)

	opts := Options{TargetExternalIDs: []string{"ev-1", "ev-3", "ev-unknown"}}
	require.NoError(t, Replicate(context.Background(), src, dst, opts))

	got := dst.EventData.Items()
	require.Len(t, got, 2)
	byExternalID(t, got, "ev-1")
	byExternalID(t, got, "ev-3")
}

func TestReplicateExternalIDCollision(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1", LastUpdatedTime: 5000})
	dst.EventData.Add(&cdf.Event{ID: 900, ExternalID: "ev-1", Description: "native"})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.EventData.Items()
	require.Len(t, got, 1, "a colliding external id must not be duplicated")
	require.Equal(t, "native", got[0].Description)
}

func TestReplicateManyBatches(t *testing.T) {
	src, dst := newProjects(t)
	for i := int64(1); i <= 25; i++ {
		src.EventData.Add(&cdf.Event{ID: i, ExternalID: "ev-" + strconv.FormatInt(i, 10)})
	}

	opts := Options{BatchSize: 4, NumWorkers: 3}
	require.NoError(t, Replicate(context.Background(), src, dst, opts))

	require.Len(t, dst.EventData.Items(), 25)
}

func TestReplicateRetriesTransientCreate(t *testing.T) {
	src, dst := newProjects(t)
	src.EventData.Add(&cdf.Event{ID: 11, ExternalID: "ev-1"})
	dst.EventData.FailNextCreate(&cdf.Error{Code: 503, Message: "upstream unavailable"})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 2, dst.EventData.CreateCalls)
	require.Len(t, dst.EventData.Items(), 1)
}
