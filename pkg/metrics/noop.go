package metrics

import "context"

type noop struct{}

func (noop) Add(context.Context, int64, map[string]string)     {}
func (noop) Observe(context.Context, int64, map[string]string) {}
func (noop) Record(context.Context, int64, map[string]string)  {}

type noopHandler struct{}

func (noopHandler) Int64Counter(string, string, Unit) Int64Counter     { return noop{} }
func (noopHandler) Int64Gauge(string, string, Unit) Int64Gauge         { return noop{} }
func (noopHandler) Int64Histogram(string, string, Unit) Int64Histogram { return noop{} }
func (noopHandler) WithTags(map[string]string) Handler                 { return noopHandler{} }

var (
	_ Handler        = noopHandler{}
	_ Int64Counter   = noop{}
	_ Int64Gauge     = noop{}
	_ Int64Histogram = noop{}
)

// NewNoOpHandler returns a handler that drops every measurement.
func NewNoOpHandler(_ context.Context) Handler {
	return noopHandler{}
}
