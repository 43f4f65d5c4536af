package recorder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sysrecorder/internal/event"
	"github.com/arc-self/sysrecorder/internal/exporter/exportertest"
)

func newTestRecorder(t *testing.T) (*Recorder, *exportertest.Fake) {
	sink := exportertest.New()
	return New(sink, zaptest.NewLogger(t)), sink
}

func tev(code event.Code) *event.TypedEvent {
	return &event.TypedEvent{Code: code, Source: event.SourceSysmon, Pid: 1}
}

func TestStartProcess_CreatesSpanAndLog(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	err := r.StartProcess(ctx, 100, 1, `C:\Windows\explorer.exe`, tev(event.ProcessCreation))
	require.NoError(t, err)

	assert.True(t, r.IsTracked(100))
	assert.Equal(t, 1, sink.SpanCount())
	assert.Len(t, sink.Logs, 1)
}

func TestStartProcess_SecondCallIsIdempotent(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 100, 1, `C:\a.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.StartProcess(ctx, 100, 1, `C:\a.exe`, tev(event.ProcessCreation)))

	assert.Equal(t, 1, sink.SpanCount(), "second StartProcess must not create a new span")
	assert.Len(t, sink.Logs, 2, "second StartProcess still emits a log")
}

func TestStartProcess_RejectsInvalidArguments(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	err := r.StartProcess(ctx, -1, 1, "x", tev(event.ProcessCreation))
	assert.True(t, IsInvalidArgument(err))

	err = r.StartProcess(ctx, 1, 1, "", tev(event.ProcessCreation))
	assert.True(t, IsInvalidArgument(err))

	err = r.StartProcess(ctx, 1, 1, "x", nil)
	assert.True(t, IsInvalidArgument(err))
}

func TestLinearParentChild(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\parent.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.StartProcess(ctx, 2, 1, `C:\child.exe`, tev(event.ProcessCreation)))

	childNode, ok := r.forest.Lookup(2)
	require.True(t, ok)
	require.NotNil(t, childNode.Parent)
	assert.Equal(t, int64(1), childNode.Parent.Pid)

	rec, ok := sink.Record(childNode.Span)
	require.True(t, ok)
	assert.Equal(t, childNode.Parent.Span, rec.Parent)
}

func TestOrphanChild_BecomesRootSpan(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	// ppid 999 was never started, so the child gets a root span.
	require.NoError(t, r.StartProcess(ctx, 2, 999, `C:\child.exe`, tev(event.ProcessCreation)))

	node, ok := r.forest.Lookup(2)
	require.True(t, ok)
	assert.Nil(t, node.Parent)

	rec, ok := sink.Record(node.Span)
	require.True(t, ok)
	assert.Nil(t, rec.Parent)
}

func TestRecordAction_UntrackedPidIsNoOp(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	err := r.RecordAction(ctx, 404, `C:\Windows\system32\cmd.exe`, event.FileCreate, tev(event.FileCreate))
	require.NoError(t, err)
	assert.Empty(t, sink.Logs)
	assert.Equal(t, 0, sink.SpanCount())
}

func TestRecordAction_ActorDeduplication(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))

	target := `C:\Windows\system32\evil.dll`
	require.NoError(t, r.RecordAction(ctx, 1, target, event.ImageLoad, tev(event.ImageLoad)))
	require.NoError(t, r.RecordAction(ctx, 1, target, event.ImageLoad, tev(event.ImageLoad)))

	// one span for the process, one for the de-duplicated actor
	assert.Equal(t, 2, sink.SpanCount())
	assert.Len(t, sink.Logs, 3) // 1 start log + 2 actor logs

	node, _ := r.forest.Lookup(1)
	assert.Len(t, node.ActorNodes(), 1)
	assert.Equal(t, uint64(2), node.ActorNodes()[0].LogCount())
}

func TestRecordAction_DirectionalSplit(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))

	target := `C:\Windows\system32\evil.dll`
	// ImageLoad is read/recv
	require.NoError(t, r.RecordAction(ctx, 1, target, event.ImageLoad, tev(event.ImageLoad)))
	// FileCreate targeting the same name is write/send, a distinct actor
	require.NoError(t, r.RecordAction(ctx, 1, target, event.FileCreate, tev(event.FileCreate)))

	node, _ := r.forest.Lookup(1)
	assert.Len(t, node.ActorNodes(), 2)
}

func TestRecordAction_NotActorAttachesToProcessSpan(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.RecordAction(ctx, 1, "irrelevant", event.ThreadStart, tev(event.ThreadStart)))

	node, _ := r.forest.Lookup(1)
	assert.Empty(t, node.ActorNodes(), "NotActor events never create an ActorNode")
	assert.Len(t, sink.Logs, 2) // start log + thread-start log, both on the process span
	for _, l := range sink.Logs {
		assert.Equal(t, node.Span, l.Span)
	}
}

func TestRecordAction_UnsupportedCodeIsInvalidArgument(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))
	err := r.RecordAction(ctx, 1, "x", event.Unknown, tev(event.Unknown))
	assert.True(t, IsInvalidArgument(err))
}

func TestRecordProcessAccess_ResolvesTrackedTargetImage(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\src.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.StartProcess(ctx, 2, 0, `C:\lsass.exe`, tev(event.ProcessCreation)))

	require.NoError(t, r.RecordProcessAccess(ctx, 1, 2, "fallback", event.ProcessAccess, tev(event.ProcessAccess)))

	node, _ := r.forest.Lookup(1)
	actors := node.ActorNodes()
	require.Len(t, actors, 1)
	assert.Equal(t, `C:\lsass.exe`, actors[0].Artifact.Name)
}

func TestRecordProcessAccess_FallsBackWhenTargetUntracked(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\src.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.RecordProcessAccess(ctx, 1, 999, `C:\lsass.exe`, event.ProcessAccess, tev(event.ProcessAccess)))

	node, _ := r.forest.Lookup(1)
	actors := node.ActorNodes()
	require.Len(t, actors, 1)
	assert.Equal(t, `C:\lsass.exe`, actors[0].Artifact.Name)
}

func TestStopProcess_FlushesActorsThenProcess(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.RecordAction(ctx, 1, `C:\evil.dll`, event.ImageLoad, tev(event.ImageLoad)))

	node, _ := r.forest.Lookup(1)
	actorSpan := node.ActorNodes()[0].Span
	processSpan := node.Span

	require.NoError(t, r.StopProcess(ctx, 1, tev(event.ProcessTerminated)))

	assert.False(t, r.IsTracked(1))
	assert.True(t, sink.IsStopped(actorSpan))
	assert.True(t, sink.IsStopped(processSpan))

	rec, ok := sink.Record(processSpan)
	require.True(t, ok)
	assert.NotEmpty(t, rec.Attributes["log.count"])
}

func TestStopProcess_NeverStartedIsNoOp(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	err := r.StopProcess(ctx, 404, tev(event.ProcessTerminated))
	require.NoError(t, err)
	assert.Equal(t, 0, sink.SpanCount())
}

func TestFlush_IsIdempotentAndStopsEverything(t *testing.T) {
	r, sink := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.StartProcess(ctx, 1, 0, `C:\a.exe`, tev(event.ProcessCreation)))
	require.NoError(t, r.StartProcess(ctx, 2, 1, `C:\b.exe`, tev(event.ProcessCreation)))

	require.NoError(t, r.Flush(ctx))
	assert.False(t, r.IsTracked(1))
	assert.False(t, r.IsTracked(2))
	assert.Equal(t, 1, sink.Flushed)

	// second flush: empty forest, still succeeds
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, 2, sink.Flushed)
}
