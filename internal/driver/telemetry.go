package driver

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// tracer and the metric instruments below are registered against the
// global delegating provider at package init: they are no-ops until Setup
// installs a real provider, so importing this package never requires
// telemetry to be configured.
var tracer = otel.Tracer("github.com/steveyegge/depdb/driver")

var (
	executionCounter metric.Int64Counter
	waitCounter      metric.Int64Counter
	appendLatencyMs  metric.Float64Histogram
)

func init() {
	m := otel.Meter("github.com/steveyegge/depdb/driver")
	executionCounter, _ = m.Int64Counter("depdb.executions",
		metric.WithDescription("Keys executed, tagged by success/failure"),
		metric.WithUnit("{execution}"),
	)
	waitCounter, _ = m.Int64Counter("depdb.barrier_waits",
		metric.WithDescription("Times a caller blocked on a live build barrier"),
		metric.WithUnit("{wait}"),
	)
	appendLatencyMs, _ = m.Float64Histogram("depdb.journal_append_ms",
		metric.WithDescription("Wall-clock time spent in Finished, including the journal append"),
		metric.WithUnit("ms"),
	)
}

func metricAttrs(key string, ok bool) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("depdb.key", key),
		attribute.Bool("depdb.ok", ok),
	)
}

// Telemetry holds the SDK providers Setup installed, so the CLI can flush
// and shut them down on exit.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup installs stdout trace/metric exporters as the global providers, so
// the CLI is self-contained without an external collector.
func Setup(ctx context.Context) (*Telemetry, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("driver: stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("driver: stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(metricExp),
	))
	otel.SetMeterProvider(mp)

	return &Telemetry{tracerProvider: tp, meterProvider: mp}, nil
}

// Shutdown flushes and shuts down both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("driver: shutdown tracer provider: %w", err)
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("driver: shutdown meter provider: %w", err)
	}
	return nil
}
