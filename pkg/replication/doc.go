// Package replication implements the resource-agnostic core of the
// replicator: the provenance metadata codec, the create/update/unchanged
// diff, the source-to-destination id resolver, the transient-failure
// retry wrapper, the batch partitioner and the deletion set builders.
//
// Resource packages (assets, events, timeseries, ...) plug their concrete
// copy logic into this core; nothing here knows the shape of any one
// resource beyond the cdf.Resource capability surface.
package replication
