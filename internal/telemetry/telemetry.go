// Package telemetry bootstraps the OpenTelemetry providers the recorder's
// ExporterAdapter rides on: traces, logs, and the metric counters spec §7
// names (events_dropped_prefilter, _postfilter, _decode, _not_tracked, and
// exporter_queue_drops). Shape follows the teacher's InitMeterProvider
// (packages/go-core/telemetry/metrics.go): build an OTLP/gRPC exporter,
// wrap it in the matching SDK provider, stamp a resource, register it as
// global, return it for the caller to defer Shutdown on.
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	global "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func newResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

// InitTracerProvider bootstraps the OpenTelemetry TracerProvider with an
// OTLP/gRPC trace exporter targeting endpoint. The caller must defer
// tp.Shutdown(ctx) to flush pending spans.
func InitTracerProvider(ctx context.Context, serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(serviceName)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// InitLoggerProvider bootstraps the OpenTelemetry LoggerProvider with an
// OTLP/gRPC log exporter targeting endpoint. The caller must defer
// lp.Shutdown(ctx) to flush pending records.
func InitLoggerProvider(ctx context.Context, serviceName, endpoint string) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(newResource(serviceName)),
	)

	global.SetLoggerProvider(lp)
	return lp, nil
}

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint. Metrics are flushed
// periodically via a PeriodicReader. The caller must defer
// mp.Shutdown(ctx) to flush pending metrics.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(newResource(serviceName)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// Counter is an OTel instrument paired with a local atomic mirror, so
// internal/healthprobe can serve a cheap point-in-time snapshot
// (/debug/counters) without querying the metrics backend.
type Counter struct {
	name string
	inst metric.Int64Counter
	n    atomic.Int64
}

// Add records delta against both the OTel instrument and the local mirror.
func (c *Counter) Add(ctx context.Context, delta int64) {
	c.n.Add(delta)
	c.inst.Add(ctx, delta)
}

// Load returns the local mirror's current value.
func (c *Counter) Load() int64 { return c.n.Load() }

// DropCounters are the five events_dropped_*/exporter_queue_drops
// instruments spec §7 requires.
type DropCounters struct {
	Prefilter  *Counter
	Postfilter *Counter
	Decode     *Counter
	NotTracked *Counter
	QueueDrops *Counter
}

// NewDropCounters registers the drop counters against mp's default meter.
func NewDropCounters(mp *sdkmetric.MeterProvider) (*DropCounters, error) {
	meter := mp.Meter("sysrecorder")

	newCounter := func(name string) (*Counter, error) {
		inst, err := meter.Int64Counter(name)
		if err != nil {
			return nil, err
		}
		return &Counter{name: name, inst: inst}, nil
	}

	prefilter, err := newCounter("events_dropped_prefilter")
	if err != nil {
		return nil, err
	}
	postfilter, err := newCounter("events_dropped_postfilter")
	if err != nil {
		return nil, err
	}
	decode, err := newCounter("events_dropped_decode")
	if err != nil {
		return nil, err
	}
	notTracked, err := newCounter("events_dropped_not_tracked")
	if err != nil {
		return nil, err
	}
	queueDrops, err := newCounter("exporter_queue_drops")
	if err != nil {
		return nil, err
	}

	return &DropCounters{
		Prefilter:  prefilter,
		Postfilter: postfilter,
		Decode:     decode,
		NotTracked: notTracked,
		QueueDrops: queueDrops,
	}, nil
}

// Snapshot returns the current value of every drop counter, keyed by its
// metric name (spec §7).
func (d *DropCounters) Snapshot() map[string]int64 {
	return map[string]int64{
		d.Prefilter.name:  d.Prefilter.Load(),
		d.Postfilter.name: d.Postfilter.Load(),
		d.Decode.name:     d.Decode.Load(),
		d.NotTracked.name: d.NotTracked.Load(),
		d.QueueDrops.name: d.QueueDrops.Load(),
	}
}
