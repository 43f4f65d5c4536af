// Package exportertest provides an in-memory exporter.Sink for driving
// internal/recorder's tests end-to-end without a live OTLP collector —
// the same separation the teacher keeps between processEvent (pure,
// test-friendly) and its NATS-bound caller.
package exportertest

import (
	"context"
	"sync"

	"github.com/arc-self/sysrecorder/internal/exporter"
)

// LogEntry records one EmitLog call for assertions.
type LogEntry struct {
	Span     *exporter.SpanHandle
	Text     string
	Severity exporter.Severity
}

// SpanRecord tracks one span's observed lifecycle.
type SpanRecord struct {
	Name       string
	Parent     *exporter.SpanHandle
	Attributes map[string]string
	Stopped    bool
}

// Fake is an in-memory exporter.Sink. Safe for concurrent use, mirroring
// the concurrency guarantees the recorder itself provides.
type Fake struct {
	mu       sync.Mutex
	spans    map[*exporter.SpanHandle]*SpanRecord
	Logs     []LogEntry
	Flushed  int
	ShutDown bool
}

// New creates an empty Fake sink.
func New() *Fake {
	return &Fake{spans: make(map[*exporter.SpanHandle]*SpanRecord)}
}

func (f *Fake) CreateSpan(ctx context.Context, name string, parent *exporter.SpanHandle) (context.Context, *exporter.SpanHandle) {
	h := &exporter.SpanHandle{}
	f.mu.Lock()
	f.spans[h] = &SpanRecord{Name: name, Parent: parent, Attributes: map[string]string{}}
	f.mu.Unlock()
	return ctx, h
}

func (f *Fake) SetAttribute(h *exporter.SpanHandle, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.spans[h]; ok {
		rec.Attributes[key] = value
	}
}

func (f *Fake) Stop(h *exporter.SpanHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.spans[h]; ok {
		rec.Stopped = true
	}
}

func (f *Fake) EmitLog(h *exporter.SpanHandle, text string, severity exporter.Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, LogEntry{Span: h, Text: text, Severity: severity})
}

func (f *Fake) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Flushed++
	return nil
}

func (f *Fake) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ShutDown = true
	return nil
}

// Record returns the observed span record for h, if any.
func (f *Fake) Record(h *exporter.SpanHandle) (SpanRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.spans[h]
	if !ok {
		return SpanRecord{}, false
	}
	return *rec, true
}

// IsStopped reports whether Stop has been called on h.
func (f *Fake) IsStopped(h *exporter.SpanHandle) bool {
	rec, ok := f.Record(h)
	return ok && rec.Stopped
}

// SpanCount returns the number of spans ever created.
func (f *Fake) SpanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spans)
}
