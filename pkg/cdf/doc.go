// Package cdf models the subset of the Cognite Data Fusion v1 API that the
// replicator reads and writes: the resource records, the store contracts a
// project exposes for each resource kind, and the error taxonomy used to
// decide whether a failed call is worth retrying.
//
// All timestamps are milliseconds since epoch. A zero timestamp or id means
// the field is unset; the API never assigns zero to either.
package cdf
