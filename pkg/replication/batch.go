package replication

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// CreateFunc builds the destination copy of a source object.
type CreateFunc[T cdf.Resource] func(src T) T

// UpdateFunc folds a source object into its existing destination
// counterpart and returns the record to write.
type UpdateFunc[T cdf.Resource] func(src, dst T) T

// MakeObjectsBatch sorts source objects into three disjoint lists:
// copies to create, counterparts to update, and objects that need no
// write.
//
// A source object whose id appears in dstBySrcID is updated when its
// last-updated time is unset or strictly newer than the run timestamp
// recorded on the counterpart, and unchanged otherwise. A source object
// without a counterpart is checked against dstListing by external id:
// a hit means an identical-looking record already lives in the
// destination without provenance, so the object is left unchanged rather
// than created as a duplicate. Everything else is created.
func MakeObjectsBatch[T cdf.Resource](
	src []T,
	dstBySrcID map[int64]T,
	dstListing []T,
	create CreateFunc[T],
	update UpdateFunc[T],
) (createList, updateList, unchanged []T) {
	var listedExternalIDs mapset.Set[string]
	if len(dstListing) > 0 {
		listedExternalIDs = mapset.NewThreadUnsafeSetWithSize[string](len(dstListing))
		for _, obj := range dstListing {
			listedExternalIDs.Add(obj.ResourceExternalID())
		}
	}

	for _, srcObj := range src {
		dstObj, ok := dstBySrcID[srcObj.ResourceID()]
		switch {
		case ok:
			if t := srcObj.ResourceLastUpdated(); t == 0 || t > ReplicatedTime(dstObj.ResourceMetadata()) {
				updateList = append(updateList, update(srcObj, dstObj))
			} else {
				unchanged = append(unchanged, dstObj)
			}
		case listedExternalIDs != nil:
			if listedExternalIDs.Contains(srcObj.ResourceExternalID()) {
				unchanged = append(unchanged, srcObj)
			} else {
				createList = append(createList, create(srcObj))
			}
		default:
			createList = append(createList, create(srcObj))
		}
	}
	return createList, updateList, unchanged
}
