package replication

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

func filterFixture() []*cdf.Event {
	return []*cdf.Event{
		{ID: 1, Type: "alarm", AssetIDs: []int64{11}},
		{ID: 2, Type: "alarm", AssetIDs: []int64{99}}, // asset not replicated
		{ID: 3, Type: "alarm"},                        // no asset link
		{ID: 4, Type: "alarm", AssetIDs: []int64{}},   // linked list present but empty
		{ID: 5, Type: "maintenance", AssetIDs: []int64{11}},
	}
}

func filterIDMap() *IDMap {
	m := NewIDMap()
	m.Add(11, 101)
	return m
}

func eventIDs(events []*cdf.Event) []int64 {
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestFilterObjectsNoFlags(t *testing.T) {
	got := FilterObjects(filterFixture(), filterIDMap(), false, false, nil)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, eventIDs(got))
}

func TestFilterObjectsKeepFn(t *testing.T) {
	keep := func(ev *cdf.Event) bool { return !strings.Contains(ev.Type, "maintenance") }
	got := FilterObjects(filterFixture(), filterIDMap(), false, false, keep)
	require.Equal(t, []int64{1, 2, 3, 4}, eventIDs(got))
}

func TestFilterObjectsSkipNonAsset(t *testing.T) {
	got := FilterObjects(filterFixture(), filterIDMap(), false, true, nil)
	require.Equal(t, []int64{1, 2, 4, 5}, eventIDs(got), "only objects without an asset list are dropped")
}

func TestFilterObjectsSkipUnlinkable(t *testing.T) {
	got := FilterObjects(filterFixture(), filterIDMap(), true, false, nil)
	require.Equal(t, []int64{1, 3, 5}, eventIDs(got), "objects whose every asset is unmapped are dropped, unlinked objects stay")
}

func TestFilterObjectsAllFlags(t *testing.T) {
	keep := func(ev *cdf.Event) bool { return ev.Type == "alarm" }
	got := FilterObjects(filterFixture(), filterIDMap(), true, true, keep)
	require.Equal(t, []int64{1}, eventIDs(got))
}
