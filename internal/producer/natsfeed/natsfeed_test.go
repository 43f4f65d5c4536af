package natsfeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sysrecorder/internal/decode"
	"github.com/arc-self/sysrecorder/internal/exporter/exportertest"
	"github.com/arc-self/sysrecorder/internal/filter"
	"github.com/arc-self/sysrecorder/internal/recorder"
)

func newTestFeed(t *testing.T) (*Feed, *recorder.Recorder, *exportertest.Fake) {
	sink := exportertest.New()
	rec := recorder.New(sink, zaptest.NewLogger(t))
	pipeline := filter.New(filter.Identity{Pid: 99999, IdlePid: 4})
	f := New(nil, Config{Stream: "SYSTEM_EVENTS", Subject: "SYSTEM_EVENTS.>", Durable: "test"},
		decode.New(zaptest.NewLogger(t)), pipeline, rec, nil, zaptest.NewLogger(t))
	return f, rec, sink
}

func TestProcessEvent_StartThenStop(t *testing.T) {
	f, rec, _ := newTestFeed(t)
	ctx := context.Background()

	start := []byte(`{"code":"ProcessCreation","pid":100,"source":"sysmon","fields":{"Image":"C:\\a.exe","ParentProcessId":"1"}}`)
	require.NoError(t, f.processEvent(ctx, start))
	assert.True(t, rec.IsTracked(100))

	stop := []byte(`{"code":"ProcessTerminated","pid":100,"source":"sysmon","fields":{}}`)
	require.NoError(t, f.processEvent(ctx, stop))
	assert.False(t, rec.IsTracked(100))
}

func TestProcessEvent_MalformedJSONIsPoisonPill(t *testing.T) {
	f, _, _ := newTestFeed(t)
	err := f.processEvent(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.True(t, isPoisonPill(err, nil))
}

func TestProcessEvent_SelfPidDroppedByPrefilter(t *testing.T) {
	f, rec, _ := newTestFeed(t)
	ctx := context.Background()

	self := []byte(`{"code":"ProcessCreation","pid":99999,"source":"sysmon","fields":{"Image":"C:\\agent.exe"}}`)
	require.NoError(t, f.processEvent(ctx, self))
	assert.False(t, rec.IsTracked(99999))
}

func TestProcessEvent_UnrecognizedCodeIsDroppedNotPoisoned(t *testing.T) {
	f, _, _ := newTestFeed(t)
	raw := []byte(`{"code":"TotallyUnknownCode","pid":5,"source":"sysmon","fields":{}}`)
	err := f.processEvent(context.Background(), raw)
	require.NoError(t, err)
}

func TestProcessEvent_ActionAgainstTrackedProcess(t *testing.T) {
	f, rec, _ := newTestFeed(t)
	ctx := context.Background()

	start := []byte(`{"code":"ProcessCreation","pid":100,"source":"sysmon","fields":{"Image":"C:\\a.exe"}}`)
	require.NoError(t, f.processEvent(ctx, start))

	fileEvent := []byte(`{"code":"FileCreate","pid":100,"source":"sysmon","fields":{"TargetFilename":"C:\\evil.exe"}}`)
	require.NoError(t, f.processEvent(ctx, fileEvent))

	assert.True(t, rec.IsTracked(100))
	assert.Contains(t, rec.TrackedPids(), int64(100))
}
