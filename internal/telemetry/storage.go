package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/coord/internal/storage"
)

const storageScopeName = "github.com/steveyegge/coord/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("coord.storage.operations",
		metric.WithDescription("Total snapshot operations executed"),
	)
	dur, _ := m.Float64Histogram("coord.storage.operation.duration",
		metric.WithDescription("Snapshot operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("coord.storage.errors",
		metric.WithDescription("Total snapshot operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("storage.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name, trace.WithAttributes(all...))
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// Load implements storage.Store.
func (s *InstrumentedStore) Load(ctx context.Context) (*storage.State, error) {
	ctx, span, t := s.op(ctx, "Load")
	st, err := s.inner.Load(ctx)
	s.done(ctx, span, t, err)
	return st, err
}

// Save implements storage.Store.
func (s *InstrumentedStore) Save(ctx context.Context, mask storage.Table, state *storage.State) error {
	attrs := []attribute.KeyValue{attribute.String("storage.tables", mask.String())}
	ctx, span, t := s.op(ctx, "Save", attrs...)
	err := s.inner.Save(ctx, mask, state)
	s.done(ctx, span, t, err, attrs...)
	return err
}
