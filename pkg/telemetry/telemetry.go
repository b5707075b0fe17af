// Package telemetry connects the process to an OpenTelemetry collector.
// Spans and log records are exported over gRPC, and metrics can be
// written periodically as JSON to a configurable writer. Everything
// stays off until an endpoint or a metrics writer is configured.
package telemetry

import (
	"context"
)

// Init applies opts and starts the configured exporters. It returns a
// context carrying the bridged logger and a shutdown function that
// flushes and closes everything Init started.
func Init(ctx context.Context, opts ...Option) (context.Context, func(context.Context) error, error) {
	cfg := newConfig(opts...)

	ctx, err := cfg.init(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ctx, cfg.Close, nil
}
