// Package metrics abstracts the counters, gauges and histograms the
// replicator records, so callers do not depend on the otel SDK
// directly.
package metrics

import "context"

// Handler hands out named instruments. Implementations cache
// instruments by name, so repeated lookups are cheap.
type Handler interface {
	Int64Counter(name, description string, unit Unit) Int64Counter
	Int64Gauge(name, description string, unit Unit) Int64Gauge
	Int64Histogram(name, description string, unit Unit) Int64Histogram
	// WithTags returns a handler whose instruments attach the given
	// tags to every measurement.
	WithTags(tags map[string]string) Handler
}

type Int64Counter interface {
	Add(ctx context.Context, value int64, tags map[string]string)
}

type Int64Gauge interface {
	Observe(ctx context.Context, value int64, tags map[string]string)
}

type Int64Histogram interface {
	Record(ctx context.Context, value int64, tags map[string]string)
}

// Unit is the UCUM unit reported on an instrument.
type Unit string

const (
	Dimensionless Unit = "1"
	Bytes         Unit = "By"
	Milliseconds  Unit = "ms"
)
