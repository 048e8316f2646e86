package otel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "judge"

type Exporter string

const (
	// OTLP over gRPC, endpoint from OTEL_EXPORTER_OTLP_ENDPOINT
	ExporterOTLP Exporter = "otlp"
	// Pretty printed to stderr so it does not mix with audit events on stdout
	ExporterStderr Exporter = "stderr"
	// Nothing is set up, the global noop providers stay in place
	ExporterNone Exporter = "none"
)

func ExporterFromEnv() Exporter {
	switch Exporter(os.Getenv("JUDGE_OTEL_EXPORTER")) {
	case ExporterStderr:
		return ExporterStderr
	case ExporterNone:
		return ExporterNone
	default:
		if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
			return ExporterOTLP
		}
		return ExporterNone
	}
}

// Installs the global trace, meter and log providers for exporter. The returned shutdown flushes
// whatever was installed and is safe to call more than once.
func SetupOTelSDK(
	ctx context.Context,
	exporter Exporter,
) (func(context.Context) error, error) {
	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var joined error
		for i := len(stops) - 1; i >= 0; i-- {
			joined = errors.Join(joined, stops[i](ctx))
		}
		stops = nil
		return joined
	}
	fail := func(err error) (func(context.Context) error, error) {
		return shutdown, errors.Join(err, shutdown(ctx))
	}

	// Propagation is needed even without exporters so trace context in the env still links up.
	otel.SetTextMapPropagator(newPropagator())

	if exporter == ExporterNone {
		return shutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return fail(err)
	}

	tracerProvider, err := newTracerProvider(ctx, exporter, res)
	if err != nil {
		return fail(err)
	}
	stops = append(stops, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	meterProvider, err := newMeterProvider(ctx, exporter, res)
	if err != nil {
		return fail(err)
	}
	stops = append(stops, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	loggerProvider, err := newLoggerProvider(ctx, exporter, res)
	if err != nil {
		return fail(err)
	}
	stops = append(stops, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	return shutdown, nil
}

//nolint:ireturn // otel only exposes the composite as an interface
func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

func newTracerProvider(
	ctx context.Context,
	exporter Exporter,
	res *resource.Resource,
) (*trace.TracerProvider, error) {
	spans, err := pick(exporter,
		func() (trace.SpanExporter, error) { return otlptracegrpc.New(ctx) },
		func() (trace.SpanExporter, error) { return stdouttrace.New(stdouttrace.WithWriter(os.Stderr)) },
	)
	if err != nil {
		return nil, fmt.Errorf("span exporter: %w", err)
	}

	return trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithBatcher(spans),
		trace.WithResource(res),
	), nil
}

func newMeterProvider(
	ctx context.Context,
	exporter Exporter,
	res *resource.Resource,
) (*metric.MeterProvider, error) {
	metrics, err := pick(exporter,
		func() (metric.Exporter, error) { return otlpmetricgrpc.New(ctx) },
		func() (metric.Exporter, error) { return stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr)) },
	)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metrics)),
		metric.WithResource(res),
	), nil
}

func newLoggerProvider(
	ctx context.Context,
	exporter Exporter,
	res *resource.Resource,
) (*log.LoggerProvider, error) {
	records, err := pick(exporter,
		func() (log.Exporter, error) { return otlploggrpc.New(ctx) },
		func() (log.Exporter, error) { return stdoutlog.New(stdoutlog.WithWriter(os.Stderr)) },
	)
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}

	return log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(records)),
		log.WithResource(res),
	), nil
}

//nolint:ireturn // exporters are only exposed as interfaces
func pick[E any](exporter Exporter, otlp, stderr func() (E, error)) (E, error) {
	if exporter == ExporterOTLP {
		return otlp()
	}
	return stderr()
}
