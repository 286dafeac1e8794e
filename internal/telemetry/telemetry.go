// Package telemetry wires OpenTelemetry into the daemon. It is off unless
// COORD_OTEL_ENABLED=true, in which case spans and metrics flow to the
// exporters selected below.
//
//	COORD_OTEL_ENABLED=true           turn telemetry on
//	COORD_OTEL_STDOUT=true            print spans and metrics to stdout
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   push metrics over OTLP/HTTP (host:port)
//	OTEL_SERVICE_NAME=...             override the service name
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/coord"

// Settings selects providers and exporters.
type Settings struct {
	Enabled      bool
	Stdout       bool
	OTLPEndpoint string
	ServiceName  string
	Version      string

	// MetricInterval is the export period of periodic readers.
	MetricInterval time.Duration
}

// Enabled reports whether COORD_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("COORD_OTEL_ENABLED") == "true"
}

// SettingsFromEnv reads Settings from the environment.
func SettingsFromEnv(serviceName, version string) Settings {
	s := Settings{
		Enabled:        Enabled(),
		Stdout:         os.Getenv("COORD_OTEL_STDOUT") == "true",
		ServiceName:    serviceName,
		Version:        version,
		MetricInterval: 30 * time.Second,
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		s.ServiceName = name
	}
	for _, key := range []string{"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		if v := os.Getenv(key); v != "" {
			s.OTLPEndpoint = v
			break
		}
	}
	return s
}

// ShutdownFunc flushes and stops whatever Init installed.
type ShutdownFunc func(context.Context) error

// Init installs global providers for s and returns their shutdown. When
// telemetry is off the providers are no-ops and shutdown does nothing.
func Init(ctx context.Context, s Settings) (ShutdownFunc, error) {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	if s.MetricInterval <= 0 {
		s.MetricInterval = 30 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.ServiceName),
			semconv.ServiceVersionKey.String(s.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	var stops []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}

	tp, err := traceProvider(res, s)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	stops = append(stops, tp.Shutdown)

	mp, err := meterProvider(ctx, res, s)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	stops = append(stops, mp.Shutdown)

	return shutdown, nil
}

// Spans are only ever printed; there is no span exporter for the OTLP
// endpoint.
func traceProvider(res *resource.Resource, s Settings) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if s.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func meterProvider(ctx context.Context, res *resource.Resource, s Settings) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if s.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)),
		))
	}

	if s.OTLPEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(s.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)),
		))
	}

	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer from the global provider; an empty name uses the
// module scope.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter from the global provider; an empty name uses the
// module scope.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
