// Package telemetry provides simple metrics emission and span helpers for
// the media pipeline worker, backed by OpenTelemetry.
//
// The API follows progressive disclosure: Counter/Histogram/Gauge cover the
// common cases; span helpers attach events and errors to whatever span is
// active in the context. All functions are safe to call before telemetry is
// initialized and when no span is recording.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dastron/video-ware-sub000"

var global = newInstruments()

type instruments struct {
	mu         sync.Mutex
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

func newInstruments() *instruments {
	return &instruments{
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// Counter increments a counter metric by 1.
// Labels are provided as key-value pairs.
// Example: Counter("mediaworker.tasks.started", "task_kind", "transcode")
func Counter(name string, labels ...string) {
	global.mu.Lock()
	c, ok := global.counters[name]
	if !ok {
		var err error
		c, err = global.meter.Int64Counter(name)
		if err != nil {
			global.mu.Unlock()
			return
		}
		global.counters[name] = c
	}
	global.mu.Unlock()

	c.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

// Histogram records a value in a distribution.
// Use for latencies, sizes, batch counts.
func Histogram(name string, value float64, labels ...string) {
	global.mu.Lock()
	h, ok := global.histograms[name]
	if !ok {
		var err error
		h, err = global.meter.Float64Histogram(name)
		if err != nil {
			global.mu.Unlock()
			return
		}
		global.histograms[name] = h
	}
	global.mu.Unlock()

	h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// Gauge records a current-value metric such as queue depth or active workers.
func Gauge(name string, value float64, labels ...string) {
	global.mu.Lock()
	g, ok := global.gauges[name]
	if !ok {
		var err error
		g, err = global.meter.Float64Gauge(name)
		if err != nil {
			global.mu.Unlock()
			return
		}
		global.gauges[name] = g
	}
	global.mu.Unlock()

	g.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// StartSpan starts a child span of whatever span is active in ctx.
// The returned function ends the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// AddSpanEvent attaches an event to the active span, if one is recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records err on the active span and marks it failed.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// toAttributes converts key-value label pairs to span/metric attributes.
// A trailing key with no value is dropped.
func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
