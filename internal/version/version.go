// Package version records the build version of the replicator.
package version

// Version is stamped by the release pipeline via -ldflags.
var Version = "0.0.0-dev"
