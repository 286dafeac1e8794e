package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const rpcScopeName = "github.com/steveyegge/coord/rpc"

// RPCInstruments records one span and a few counters per dispatched request.
// The zero-overhead path is the global no-op provider installed by Init.
type RPCInstruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRPCInstruments builds instruments from the global providers.
func NewRPCInstruments() *RPCInstruments {
	m := Meter(rpcScopeName)
	requests, _ := m.Int64Counter("coord.rpc.requests",
		metric.WithDescription("Total RPC requests dispatched"),
	)
	errs, _ := m.Int64Counter("coord.rpc.errors",
		metric.WithDescription("Total RPC requests answered with an error"),
	)
	duration, _ := m.Float64Histogram("coord.rpc.duration",
		metric.WithDescription("RPC handler duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &RPCInstruments{
		tracer:   Tracer(rpcScopeName),
		requests: requests,
		errors:   errs,
		duration: duration,
	}
}

// Start opens a server span for method. The returned func ends it and
// records the outcome; code is the wire error code or "" on success.
func (r *RPCInstruments) Start(ctx context.Context, method string) (context.Context, func(code string)) {
	attrs := []attribute.KeyValue{attribute.String("rpc.method", method)}
	ctx, span := r.tracer.Start(ctx, "rpc."+method,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	start := time.Now()
	r.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, func(code string) {
		ms := float64(time.Since(start).Microseconds()) / 1000
		r.duration.Record(ctx, ms, metric.WithAttributes(attrs...))
		if code != "" {
			span.SetStatus(codes.Error, code)
			span.SetAttributes(attribute.String("rpc.error_code", code))
			r.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("rpc.error_code", code))...))
		}
		span.End()
	}
}
