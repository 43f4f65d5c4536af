// Package recorder implements the System Activity Recorder (spec §4.5):
// the orchestrator that upserts ProcessForest nodes, resolves parent
// context, creates/reuses actor sub-spans, and drives span lifecycle
// through the exporter.Sink.
//
// The shape is generalized from the teacher's per-message consumer
// (apps/audit-service/internal/consumer: a tracer field, `tracer.Start`,
// `defer span.End()`, `span.RecordError`) from one-span-per-message to
// one-span-per-process-plus-per-actor with upsert/reuse semantics.
package recorder

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/arc-self/sysrecorder/internal/event"
	"github.com/arc-self/sysrecorder/internal/exporter"
	"github.com/arc-self/sysrecorder/internal/forest"
)

// Counter is satisfied by internal/telemetry's *Counter (an OTel
// Int64Counter plus a local mirror); kept minimal here so this package
// doesn't need to import the metrics SDK.
type Counter interface {
	Add(ctx context.Context, delta int64)
}

type noopCounter struct{}

func (noopCounter) Add(context.Context, int64) {}

// Recorder is the SystemActivityRecorder described in spec §4.5.
type Recorder struct {
	forest *forest.Forest
	sink   exporter.Sink
	log    *zap.Logger

	droppedNotTracked Counter

	flushed atomic.Bool
}

// Option configures a Recorder at construction time.
type Option func(*Recorder)

// WithNotTrackedCounter wires the events_dropped_not_tracked counter
// (spec §7) to an OTel instrument.
func WithNotTrackedCounter(c Counter) Option {
	return func(r *Recorder) { r.droppedNotTracked = c }
}

// New builds a Recorder backed by sink.
func New(sink exporter.Sink, log *zap.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		forest:            forest.New(),
		sink:              sink,
		log:               log,
		droppedNotTracked: noopCounter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func processIdentity(image string) string {
	return event.Artifact{Kind: event.KindProcess, Name: image}.ID() + "@LAUNCH"
}

func formatEvent(ev *event.TypedEvent) string {
	return fmt.Sprintf("%s", ev.Code)
}

// StartProcess upserts a ProcessNode for pid (spec §4.4 get_or_create),
// emits ev as a log on its span, and increments log_count. Calling it twice
// in a row for a live pid is idempotent: the second call reuses the
// existing span and only adds another log (spec §8 round-trip property).
func (r *Recorder) StartProcess(ctx context.Context, pid, ppid int64, image string, ev *event.TypedEvent) error {
	if pid < 0 {
		return invalidArgument("pid must be >= 0, got %d", pid)
	}
	if ppid < 0 {
		return invalidArgument("ppid must be >= 0, got %d", ppid)
	}
	if image == "" {
		return invalidArgument("image must be non-empty")
	}
	if ev == nil {
		return invalidArgument("ev must be non-nil")
	}

	node, _ := r.forest.GetOrCreate(pid, ppid, image, func(parent *forest.ProcessNode) *exporter.SpanHandle {
		var parentHandle *exporter.SpanHandle
		if parent != nil {
			parentHandle = parent.Span
		}
		_, handle := r.sink.CreateSpan(ctx, "process:"+image, parentHandle)
		r.sink.SetAttribute(handle, "process.name", image)
		r.sink.SetAttribute(handle, "act.type", "launch")
		return handle
	})

	r.sink.EmitLog(node.Span, formatEvent(ev), exporter.SeverityInfo)
	node.IncrementLogCount()
	return nil
}

// StopProcess removes pid's node (if present) and flushes it: its actor
// spans stop first, then its own span, per spec §4.4 flush_node. A
// stop_process for a pid never started is a no-op (spec §8).
func (r *Recorder) StopProcess(ctx context.Context, pid int64, ev *event.TypedEvent) error {
	if pid < 0 {
		return invalidArgument("pid must be >= 0, got %d", pid)
	}
	if ev == nil {
		return invalidArgument("ev must be non-nil")
	}

	node, ok := r.forest.Remove(pid)
	if !ok {
		return nil
	}

	r.sink.EmitLog(node.Span, formatEvent(ev), exporter.SeverityInfo)
	node.IncrementLogCount()
	r.flushNode(node)
	return nil
}

// flushNode stops every actor span owned by node, then node's own span,
// stamping log.count and (for actors, and for a process with a tracked
// parent) parent.context attributes at stop time (spec §4.4, §4.5).
func (r *Recorder) flushNode(node *forest.ProcessNode) {
	identity := processIdentity(node.Image)

	for _, actor := range node.ActorNodes() {
		r.sink.SetAttribute(actor.Span, "log.count", fmt.Sprintf("%d", actor.LogCount()))
		r.sink.SetAttribute(actor.Span, "parent.context", identity)
		r.sink.Stop(actor.Span)
	}

	r.sink.SetAttribute(node.Span, "log.count", fmt.Sprintf("%d", node.LogCount()))
	if node.Parent != nil {
		r.sink.SetAttribute(node.Span, "parent.context", processIdentity(node.Parent.Image))
	}
	r.sink.Stop(node.Span)
}

// RecordAction attaches ev to the actor sub-span for (target, code) under
// pid, creating that sub-span on first use and reusing it thereafter
// (spec §4.5 "actor upsert"). NotActor codes attach directly to the
// process span instead (spec §4.1, §8). An untracked pid is a silent no-op,
// not an error (spec §4.5).
func (r *Recorder) RecordAction(ctx context.Context, pid int64, target string, code event.Code, ev *event.TypedEvent) error {
	if pid < 0 {
		return invalidArgument("pid must be >= 0, got %d", pid)
	}
	if target == "" {
		return invalidArgument("target must be non-empty")
	}
	if code == event.Unknown {
		return invalidArgument("code must not be Unknown")
	}
	if ev == nil {
		return invalidArgument("ev must be non-nil")
	}

	actorKind, recognized := event.ActorKindForCode(code)
	if !recognized {
		return invalidArgument("unsupported event code %q", code)
	}

	node, ok := r.forest.Lookup(pid)
	if !ok {
		r.droppedNotTracked.Add(ctx, 1)
		return nil
	}

	if actorKind == event.NotActor {
		r.sink.EmitLog(node.Span, formatEvent(ev), exporter.SeverityInfo)
		node.IncrementLogCount()
		return nil
	}

	artifactKind, ok := event.ArtifactKindForCode(code)
	if !ok {
		return invalidArgument("no artifact kind mapping for code %q", code)
	}
	artifact := event.Artifact{Kind: artifactKind, Name: target}

	actorNode, _ := node.GetOrCreateActor(artifact, actorKind, func() *exporter.SpanHandle {
		_, handle := r.sink.CreateSpan(ctx, "actor:"+artifact.ID(), node.Span)
		r.sink.SetAttribute(handle, "act.type", string(event.DirectionOf(actorKind)))
		return handle
	})

	r.sink.EmitLog(actorNode.Span, formatEvent(ev), exporter.SeverityInfo)
	actorNode.IncrementLogCount()
	return nil
}

// RecordProcessAccess is RecordAction specialized for ProcessAccess/
// CreateRemoteThread events (spec §4.5): the target artifact name is the
// tracked target pid's image if known, else fallbackTarget.
func (r *Recorder) RecordProcessAccess(ctx context.Context, srcPid, tgtPid int64, fallbackTarget string, code event.Code, ev *event.TypedEvent) error {
	if code != event.ProcessAccess && code != event.CreateRemoteThread {
		return invalidArgument("RecordProcessAccess only accepts ProcessAccess/CreateRemoteThread, got %q", code)
	}

	target := fallbackTarget
	if tgtNode, ok := r.forest.Lookup(tgtPid); ok {
		target = tgtNode.Image
	}

	return r.RecordAction(ctx, srcPid, target, code, ev)
}

// IsTracked reports whether pid currently has a live ProcessNode.
func (r *Recorder) IsTracked(pid int64) bool {
	return r.forest.Contains(pid)
}

// TrackedPids returns every pid currently tracked, for the health probe's
// /debug/counters endpoint.
func (r *Recorder) TrackedPids() []int64 {
	nodes := r.forest.Snapshot()
	pids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		pids = append(pids, n.Pid)
	}
	return pids
}

// Flush stops every span currently in the forest, actors before processes,
// then forces the exporter to drain. Idempotent: a second call finds an
// empty forest, stops nothing, and only flushes the exporter again (spec §8).
func (r *Recorder) Flush(ctx context.Context) error {
	for _, node := range r.forest.Snapshot() {
		if removed, ok := r.forest.Remove(node.Pid); ok {
			r.flushNode(removed)
		}
	}
	r.flushed.Store(true)
	return r.sink.Flush(ctx)
}

// Shutdown composes Flush with a final exporter shutdown (spec §4.6/§5).
func (r *Recorder) Shutdown(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		r.log.Warn("recorder: flush error during shutdown", zap.Error(err))
	}
	return r.sink.Shutdown(ctx)
}
