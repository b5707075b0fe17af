package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// copyEvent and updateEvent stand in for the per-resource build functions.
func copyEvent(src *cdf.Event, runTime int64) *cdf.Event {
	return &cdf.Event{
		ExternalID: src.ExternalID,
		Metadata:   NewMetadata(src, "src-project", runTime),
	}
}

func updateEvent(src, dst *cdf.Event, runTime int64) *cdf.Event {
	dst.ExternalID = src.ExternalID
	dst.Metadata = NewMetadata(src, "src-project", runTime)
	return dst
}

func makeBatch(src, dstListing []*cdf.Event) (create, update, unchanged []*cdf.Event) {
	dstBySrcID := IDObjectMap(dstListing)
	return MakeObjectsBatch(src, dstBySrcID, dstListing,
		func(s *cdf.Event) *cdf.Event { return copyEvent(s, 2000) },
		func(s, d *cdf.Event) *cdf.Event { return updateEvent(s, d, 2000) },
	)
}

func TestMakeObjectsBatchCreate(t *testing.T) {
	src := []*cdf.Event{{ID: 11, ExternalID: "ev-11"}}

	create, update, unchanged := makeBatch(src, nil)

	require.Len(t, create, 1)
	require.Empty(t, update)
	require.Empty(t, unchanged)
	require.Equal(t, "ev-11", create[0].ExternalID)
}

func TestMakeObjectsBatchUpdate(t *testing.T) {
	src := []*cdf.Event{{ID: 11, ExternalID: "ev-11", LastUpdatedTime: 5000}}
	dst := []*cdf.Event{{ID: 101, Metadata: provenance(11, 1000)}}

	create, update, unchanged := makeBatch(src, dst)

	require.Empty(t, create)
	require.Len(t, update, 1)
	require.Empty(t, unchanged)
	require.Same(t, dst[0], update[0], "update must rewrite the destination object in place")
	require.Equal(t, "2000", update[0].Metadata[ReplicatedTimeKey])
}

func TestMakeObjectsBatchUnchangedWhenStale(t *testing.T) {
	// Source changed before the last replication run, nothing to do.
	src := []*cdf.Event{{ID: 11, LastUpdatedTime: 500}}
	dst := []*cdf.Event{{ID: 101, Metadata: provenance(11, 1000)}}

	create, update, unchanged := makeBatch(src, dst)

	require.Empty(t, create)
	require.Empty(t, update)
	require.Len(t, unchanged, 1)
	require.Same(t, dst[0], unchanged[0], "unchanged must carry the destination object")
}

func TestMakeObjectsBatchEqualTimestampIsUnchanged(t *testing.T) {
	src := []*cdf.Event{{ID: 11, LastUpdatedTime: 1000}}
	dst := []*cdf.Event{{ID: 101, Metadata: provenance(11, 1000)}}

	_, update, unchanged := makeBatch(src, dst)

	require.Empty(t, update)
	require.Len(t, unchanged, 1)
}

func TestMakeObjectsBatchUnsetSourceTimeForcesUpdate(t *testing.T) {
	src := []*cdf.Event{{ID: 11}}
	dst := []*cdf.Event{{ID: 101, Metadata: provenance(11, 1000)}}

	_, update, unchanged := makeBatch(src, dst)

	require.Len(t, update, 1)
	require.Empty(t, unchanged)
}

func TestMakeObjectsBatchUnparsableReplicatedTimeForcesUpdate(t *testing.T) {
	src := []*cdf.Event{{ID: 11, LastUpdatedTime: 1}}
	dst := []*cdf.Event{{ID: 101, Metadata: map[string]string{
		ReplicatedSourceKey:     "src-project",
		ReplicatedTimeKey:       "garbage",
		ReplicatedInternalIDKey: "11",
	}}}

	_, update, unchanged := makeBatch(src, dst)

	require.Len(t, update, 1)
	require.Empty(t, unchanged)
}

func TestMakeObjectsBatchExternalIDCollision(t *testing.T) {
	// The destination already holds an object with the same external id that
	// was not written by the replicator. Creating would raise a duplicate
	// error, so the object is reported unchanged instead.
	src := []*cdf.Event{{ID: 11, ExternalID: "ev-11", LastUpdatedTime: 5000}}
	dst := []*cdf.Event{{ID: 900, ExternalID: "ev-11"}}

	create, update, unchanged := makeBatch(src, dst)

	require.Empty(t, create)
	require.Empty(t, update)
	require.Len(t, unchanged, 1)
	require.Same(t, src[0], unchanged[0], "collision must carry the source object")
}

func TestMakeObjectsBatchEmptyListingDisablesCollisionCheck(t *testing.T) {
	src := []*cdf.Event{{ID: 11, ExternalID: "ev-11"}}

	create, _, unchanged := makeBatch(src, []*cdf.Event{})

	require.Len(t, create, 1)
	require.Empty(t, unchanged)
}

func TestMakeObjectsBatchMixed(t *testing.T) {
	src := []*cdf.Event{
		{ID: 11, ExternalID: "ev-11", LastUpdatedTime: 5000}, // update
		{ID: 12, ExternalID: "ev-12", LastUpdatedTime: 500},  // unchanged, stale
		{ID: 13, ExternalID: "ev-13"},                        // create
		{ID: 14, ExternalID: "ev-14", LastUpdatedTime: 5000}, // collision
	}
	dst := []*cdf.Event{
		{ID: 101, Metadata: provenance(11, 1000)},
		{ID: 102, Metadata: provenance(12, 1000)},
		{ID: 900, ExternalID: "ev-14"},
	}

	create, update, unchanged := makeBatch(src, dst)

	require.Len(t, create, 1)
	require.Len(t, update, 1)
	require.Len(t, unchanged, 2)
	require.Equal(t, "ev-13", create[0].ExternalID)
	require.Same(t, dst[0], update[0])
}
