package replication

import (
	"sync"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// IDMap tracks which destination object each source object became. The
// hierarchy walk merges freshly written pairs between depths while flat
// resource replication reads the map from many goroutines, so access is
// guarded.
type IDMap struct {
	mu  sync.RWMutex
	ids map[int64]int64
}

func NewIDMap() *IDMap {
	return &IDMap{ids: make(map[int64]int64)}
}

// Add records an explicit source-to-destination pair.
func (m *IDMap) Add(srcID, dstID int64) {
	m.mu.Lock()
	m.ids[srcID] = dstID
	m.mu.Unlock()
}

// Record notes the pair carried by one destination object. Objects
// without provenance metadata are ignored.
func (m *IDMap) Record(obj cdf.Resource) {
	srcID, ok := ReplicatedInternalID(obj.ResourceMetadata())
	if !ok {
		return
	}
	m.Add(srcID, obj.ResourceID())
}

// RecordAll notes the pairs of every object carrying provenance.
func RecordAll[T cdf.Resource](m *IDMap, objects []T) {
	for _, obj := range objects {
		m.Record(obj)
	}
}

// DestinationID resolves a source id to its destination counterpart.
func (m *IDMap) DestinationID(srcID int64) (int64, bool) {
	m.mu.RLock()
	dstID, ok := m.ids[srcID]
	m.mu.RUnlock()
	return dstID, ok
}

// MapAssetIDs translates source asset ids to destination asset ids.
// Ids with no destination counterpart are dropped rather than carried
// over wrong; a dangling reference is worse than a missing one. A nil
// input stays nil.
func (m *IDMap) MapAssetIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if dstID, ok := m.DestinationID(id); ok {
			out = append(out, dstID)
		}
	}
	return out
}

// MapAssetID translates a single source asset id, returning zero when
// the id is zero or unresolvable.
func (m *IDMap) MapAssetID(id int64) int64 {
	if id == 0 {
		return 0
	}
	dstID, _ := m.DestinationID(id)
	return dstID
}

// Len reports the number of resolved pairs.
func (m *IDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
