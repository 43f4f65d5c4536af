// Package exporter implements the ExporterAdapter sink spec §4.6 describes
// abstractly: create/start/stop spans, set attributes, emit logs, flush and
// shut down — backed by the real OpenTelemetry SDK. The recorder never
// imports the OTel SDK directly; it only sees the Sink interface, so its
// tests can run against exportertest's in-memory fake instead of a live
// collector.
package exporter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Severity mirrors the handful of log levels the recorder actually emits.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) otelSeverity() otellog.Severity {
	switch s {
	case SeverityWarn:
		return otellog.SeverityWarn
	case SeverityError:
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

// SpanHandle is an externally tracked span, per spec §3: Created → Started
// → Stopped, owned exclusively by whichever ProcessNode/ActorNode created
// it.
type SpanHandle struct {
	name   string
	span   trace.Span
	parent *SpanHandle

	mu      sync.Mutex
	stopped bool
}

// Stopped reports whether Stop has already been called on this handle.
func (h *SpanHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Sink is what the recorder needs from an exporter backend. Adapter (this
// package) implements it against the real OTel SDK; exportertest.Fake
// implements it in-memory for unit tests.
type Sink interface {
	// CreateSpan starts a new span named name, as a child of parent (or a
	// root span if parent is nil), and returns a context carrying it plus
	// its handle.
	CreateSpan(ctx context.Context, name string, parent *SpanHandle) (context.Context, *SpanHandle)
	SetAttribute(h *SpanHandle, key, value string)
	// Stop ends the span. Calling Stop twice on the same handle is a no-op.
	Stop(h *SpanHandle)
	// EmitLog queues a log record associated with h's span context. Queue
	// overflow drops the oldest pending record rather than blocking.
	EmitLog(h *SpanHandle, text string, severity Severity)
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Adapter is the production Sink, backed by OTel SDK TracerProvider and
// LoggerProvider (see internal/telemetry for how those are constructed from
// OTLP/gRPC exporters).
type Adapter struct {
	tracer trace.Tracer
	logger otellog.Logger

	tp *sdktrace.TracerProvider
	lp *sdklog.LoggerProvider

	log *zap.Logger

	queue   chan logItem
	dropped atomic.Int64

	shutdownOnce sync.Once
}

type logItem struct {
	ctx      context.Context
	text     string
	severity Severity
}

// QueueDropsCounter is satisfied by internal/telemetry's metric counters;
// kept as a tiny interface here so this package doesn't import telemetry.
type QueueDropsCounter interface {
	Add(ctx context.Context, delta int64)
}

// New builds an Adapter. queueSize bounds the number of log records
// buffered between EmitLog and the background writer goroutine; on
// overflow the oldest queued item is dropped (spec §5).
func New(tp *sdktrace.TracerProvider, lp *sdklog.LoggerProvider, tracerName string, queueSize int, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	a := &Adapter{
		tracer: tp.Tracer(tracerName),
		logger: lp.Logger(tracerName),
		tp:     tp,
		lp:     lp,
		log:    log,
		queue:  make(chan logItem, queueSize),
	}
	go a.drainLoop()
	return a
}

// Dropped returns the number of log records dropped due to queue overflow
// since startup. The count is kept only on the Adapter; it is not added to
// the exporter_queue_drops metric counter.
func (a *Adapter) Dropped() int64 { return a.dropped.Load() }

func (a *Adapter) CreateSpan(ctx context.Context, name string, parent *SpanHandle) (context.Context, *SpanHandle) {
	if parent != nil {
		ctx = trace.ContextWithSpanContext(ctx, parent.span.SpanContext())
	}
	ctx, span := a.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &SpanHandle{name: name, span: span, parent: parent}
}

func (a *Adapter) SetAttribute(h *SpanHandle, key, value string) {
	h.span.SetAttributes(attribute.String(key, value))
}

func (a *Adapter) Stop(h *SpanHandle) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	h.span.End()
}

func (a *Adapter) EmitLog(h *SpanHandle, text string, severity Severity) {
	ctx := trace.ContextWithSpanContext(context.Background(), h.span.SpanContext())
	item := logItem{ctx: ctx, text: text, severity: severity}

	select {
	case a.queue <- item:
		return
	default:
	}

	// Queue full: drop the oldest pending item, then enqueue the new one.
	select {
	case <-a.queue:
		a.dropped.Add(1)
	default:
	}
	select {
	case a.queue <- item:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) drainLoop() {
	for item := range a.queue {
		var rec otellog.Record
		rec.SetTimestamp(time.Now())
		rec.SetBody(otellog.StringValue(item.text))
		rec.SetSeverity(item.severity.otelSeverity())
		a.logger.Emit(item.ctx, rec)
	}
}

// Flush forces the trace/log providers to export everything they have
// buffered, within deadline. Records still waiting in the Adapter's own
// queue, not yet handed to the logger by the drain goroutine, are not
// waited for.
func (a *Adapter) Flush(ctx context.Context) error {
	if err := a.tp.ForceFlush(ctx); err != nil {
		a.log.Warn("exporter: trace flush error", zap.Error(err))
		return err
	}
	if err := a.lp.ForceFlush(ctx); err != nil {
		a.log.Warn("exporter: log flush error", zap.Error(err))
		return err
	}
	return nil
}

// Shutdown composes Flush with a final provider shutdown. Safe to call more
// than once; only the first call does anything.
func (a *Adapter) Shutdown(ctx context.Context) error {
	var err error
	a.shutdownOnce.Do(func() {
		_ = a.Flush(ctx)
		close(a.queue)
		if e := a.tp.Shutdown(ctx); e != nil {
			err = e
		}
		if e := a.lp.Shutdown(ctx); e != nil && err == nil {
			err = e
		}
	})
	return err
}
