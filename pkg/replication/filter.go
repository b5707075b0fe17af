package replication

import (
	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// FilterObjects narrows a source listing before replication. Objects
// failing the keep predicate are dropped first; with skipNonAsset set,
// objects referencing no assets are dropped; with skipUnlinkable set,
// objects whose asset references all miss the destination are dropped.
// An object with an empty but present asset list counts as having
// assets, so under skipUnlinkable it is dropped.
func FilterObjects[T cdf.AssetLinked](
	objects []T,
	assetIDs *IDMap,
	skipUnlinkable, skipNonAsset bool,
	keep func(T) bool,
) []T {
	filtered := make([]T, 0, len(objects))
	for _, obj := range objects {
		if keep != nil && !keep(obj) {
			continue
		}

		ids := obj.ResourceAssetIDs()
		hasAssets := ids != nil
		if skipNonAsset && !hasAssets {
			continue
		}
		if skipUnlinkable && hasAssets {
			linkable := false
			for _, id := range ids {
				if _, ok := assetIDs.DestinationID(id); ok {
					linkable = true
					break
				}
			}
			if !linkable {
				continue
			}
		}
		filtered = append(filtered, obj)
	}
	return filtered
}
