package metrics

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// otelInstruments is the instrument cache shared between a handler and
// every WithTags clone of it.
type otelInstruments struct {
	mtx      sync.Mutex
	counters map[string]otelmetric.Int64Counter
	gauges   map[string]otelmetric.Int64Gauge
	histos   map[string]otelmetric.Int64Histogram
}

type otelHandler struct {
	meter       otelmetric.Meter
	base        []attribute.KeyValue
	instruments *otelInstruments
}

var _ Handler = (*otelHandler)(nil)

// NewOtelHandler records measurements through the given provider.
func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		meter: provider.Meter(name),
		instruments: &otelInstruments{
			counters: make(map[string]otelmetric.Int64Counter),
			gauges:   make(map[string]otelmetric.Int64Gauge),
			histos:   make(map[string]otelmetric.Int64Histogram),
		},
	}
}

func (h *otelHandler) WithTags(tags map[string]string) Handler {
	return &otelHandler{
		meter:       h.meter,
		base:        mergeAttributes(h.base, tags),
		instruments: h.instruments,
	}
}

func (h *otelHandler) Int64Counter(name, description string, unit Unit) Int64Counter {
	name = strings.ToLower(name)

	h.instruments.mtx.Lock()
	defer h.instruments.mtx.Unlock()

	c, ok := h.instruments.counters[name]
	if !ok {
		var err error
		c, err = h.meter.Int64Counter(name,
			otelmetric.WithDescription(description),
			otelmetric.WithUnit(string(unit)),
		)
		if err != nil {
			panic(err)
		}
		h.instruments.counters[name] = c
	}
	return &otelInt64Counter{counter: c, base: h.base}
}

func (h *otelHandler) Int64Gauge(name, description string, unit Unit) Int64Gauge {
	name = strings.ToLower(name)

	h.instruments.mtx.Lock()
	defer h.instruments.mtx.Unlock()

	g, ok := h.instruments.gauges[name]
	if !ok {
		var err error
		g, err = h.meter.Int64Gauge(name,
			otelmetric.WithDescription(description),
			otelmetric.WithUnit(string(unit)),
		)
		if err != nil {
			panic(err)
		}
		h.instruments.gauges[name] = g
	}
	return &otelInt64Gauge{gauge: g, base: h.base}
}

func (h *otelHandler) Int64Histogram(name, description string, unit Unit) Int64Histogram {
	name = strings.ToLower(name)

	h.instruments.mtx.Lock()
	defer h.instruments.mtx.Unlock()

	hist, ok := h.instruments.histos[name]
	if !ok {
		var err error
		hist, err = h.meter.Int64Histogram(name,
			otelmetric.WithDescription(description),
			otelmetric.WithUnit(string(unit)),
		)
		if err != nil {
			panic(err)
		}
		h.instruments.histos[name] = hist
	}
	return &otelInt64Histogram{histogram: hist, base: h.base}
}

type otelInt64Counter struct {
	counter otelmetric.Int64Counter
	base    []attribute.KeyValue
}

func (c *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	c.counter.Add(ctx, value, otelmetric.WithAttributes(mergeAttributes(c.base, tags)...))
}

type otelInt64Gauge struct {
	gauge otelmetric.Int64Gauge
	base  []attribute.KeyValue
}

func (g *otelInt64Gauge) Observe(ctx context.Context, value int64, tags map[string]string) {
	g.gauge.Record(ctx, value, otelmetric.WithAttributes(mergeAttributes(g.base, tags)...))
}

type otelInt64Histogram struct {
	histogram otelmetric.Int64Histogram
	base      []attribute.KeyValue
}

func (h *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	h.histogram.Record(ctx, value, otelmetric.WithAttributes(mergeAttributes(h.base, tags)...))
}

// mergeAttributes appends tags after base, so a tag with the same key
// as a base attribute wins when the SDK deduplicates the set.
func mergeAttributes(base []attribute.KeyValue, tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(base)+len(tags))
	attrs = append(attrs, base...)
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
