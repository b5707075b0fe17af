package replication

import (
	"context"
	"fmt"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// Provenance metadata keys. The three replication keys are written
// together on every copy and read back to match destination objects to
// their source. The original-parent keys are only written on subtree
// roots that were cut loose from their parent.
const (
	ReplicatedSourceKey         = "_replicatedSource"
	ReplicatedTimeKey           = "_replicatedTime"
	ReplicatedInternalIDKey     = "_replicatedInternalId"
	OriginalParentIDKey         = "_replicatedOriginalParentId"
	OriginalParentExternalIDKey = "_replicatedOriginalParentExternalId"
)

// Now returns the provenance timestamp for a replication run: the wall
// clock truncated to whole seconds, in milliseconds. Every object written
// during one run carries the same value.
func Now() int64 {
	return time.Now().Unix() * 1000
}

// NewMetadata copies obj's metadata and stamps the replication
// provenance onto the copy: the source project name, the run timestamp
// and the source object's internal id.
func NewMetadata(obj cdf.Resource, projectSrc string, runTime int64) map[string]string {
	md := make(map[string]string, len(obj.ResourceMetadata())+3)
	for k, v := range obj.ResourceMetadata() {
		md[k] = v
	}
	md[ReplicatedSourceKey] = projectSrc
	md[ReplicatedTimeKey] = strconv.FormatInt(runTime, 10)
	md[ReplicatedInternalIDKey] = strconv.FormatInt(obj.ResourceID(), 10)
	return md
}

// ReplicatedTime reports the run timestamp recorded on md, or zero when
// it is absent or unparsable.
func ReplicatedTime(md map[string]string) int64 {
	t, err := strconv.ParseInt(md[ReplicatedTimeKey], 10, 64)
	if err != nil {
		return 0
	}
	return t
}

// ReplicatedInternalID reports the source internal id recorded on md.
func ReplicatedInternalID(md map[string]string) (int64, bool) {
	raw, ok := md[ReplicatedInternalIDKey]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IDObjectMap indexes destination objects by the source internal id in
// their provenance metadata. Objects without provenance are left out.
func IDObjectMap[T cdf.Resource](objects []T) map[int64]T {
	m := make(map[int64]T, len(objects))
	for _, obj := range objects {
		if id, ok := ReplicatedInternalID(obj.ResourceMetadata()); ok {
			m[id] = obj
		}
	}
	return m
}

// ExternalIDMap indexes objects by external id.
func ExternalIDMap[T cdf.Resource](objects []T) map[string]T {
	m := make(map[string]T, len(objects))
	for _, obj := range objects {
		m[obj.ResourceExternalID()] = obj
	}
	return m
}

// MapIDsFromExternalIDs joins source and destination objects on external
// id and returns the source-to-destination id pairs. It covers
// destinations that hold the same objects but were populated outside the
// replicator, so their records carry no provenance metadata. Destination
// objects whose external id has no source counterpart are skipped.
func MapIDsFromExternalIDs[T cdf.Resource](srcByExternalID map[string]T, dstObjects []T) map[int64]int64 {
	ids := make(map[int64]int64, len(dstObjects))
	for _, dst := range dstObjects {
		if src, ok := srcByExternalID[dst.ResourceExternalID()]; ok {
			ids[src.ResourceID()] = dst.ResourceID()
		}
	}
	return ids
}

// StripReplicationMetadata deletes the provenance fields from every
// object in place, so the records look native to their project.
func StripReplicationMetadata[T cdf.Resource](objects []T) {
	for _, obj := range objects {
		md := obj.ResourceMetadata()
		delete(md, ReplicatedSourceKey)
		delete(md, ReplicatedTimeKey)
		delete(md, ReplicatedInternalIDKey)
	}
}

// ClearReplicationMetadata strips provenance from every asset, event and
// time series in the project behind client and writes the stripped
// records back.
//
// Caution: after clearing, a later run with the delete-if-not-replicated
// option will treat every record in the project as foreign and delete it.
func ClearReplicationMetadata(ctx context.Context, client cdf.Client) error {
	l := ctxzap.Extract(ctx)
	l.Info("starting to clear replication metadata", zap.String("project", client.Project()))

	events, err := client.Events().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	ts, err := client.TimeSeries().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("list time series: %w", err)
	}
	assets, err := client.Assets().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	StripReplicationMetadata(events)
	StripReplicationMetadata(ts)
	StripReplicationMetadata(assets)

	if _, err := client.Events().Update(ctx, events); err != nil {
		return fmt.Errorf("update events: %w", err)
	}
	if _, err := client.TimeSeries().Update(ctx, ts); err != nil {
		return fmt.Errorf("update time series: %w", err)
	}
	if _, err := client.Assets().Update(ctx, assets); err != nil {
		return fmt.Errorf("update assets: %w", err)
	}

	l.Info("replication metadata cleared", zap.String("project", client.Project()))
	return nil
}

// FindStaleIDs returns the destination ids of replicated objects whose
// source object no longer exists. Objects without provenance metadata
// are never stale.
func FindStaleIDs[T cdf.Resource](srcObjects, dstObjects []T) []int64 {
	srcIDs := mapset.NewThreadUnsafeSetWithSize[int64](len(srcObjects))
	for _, obj := range srcObjects {
		srcIDs.Add(obj.ResourceID())
	}

	var ids []int64
	for _, obj := range dstObjects {
		id, ok := ReplicatedInternalID(obj.ResourceMetadata())
		if ok && !srcIDs.Contains(id) {
			ids = append(ids, obj.ResourceID())
		}
	}
	return ids
}

// FindForeignIDs returns the destination ids of objects that were never
// written by the replicator, meaning they carry no replication source
// marker.
func FindForeignIDs[T cdf.Resource](dstObjects []T) []int64 {
	var ids []int64
	for _, obj := range dstObjects {
		if obj.ResourceMetadata()[ReplicatedSourceKey] == "" {
			ids = append(ids, obj.ResourceID())
		}
	}
	return ids
}
