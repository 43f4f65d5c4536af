package healthprobe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sysrecorder/internal/telemetry"
)

type fakeTracker struct{ pids []int64 }

func (f fakeTracker) TrackedPids() []int64 { return f.pids }

func TestHealthz(t *testing.T) {
	s := New("sysrecorder-test", nil, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDebugCounters_NoTrackerReturnsEmptyArrayNotNull(t *testing.T) {
	s := New("sysrecorder-test", nil, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/debug/counters", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "[]", string(raw["tracked_pids"]), "tracked_pids must serialize as [] not null when no tracker is wired")
}

func TestDebugCounters_ReportsSnapshotAndTrackedPids(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	counters, err := telemetry.NewDropCounters(mp)
	require.NoError(t, err)
	counters.Decode.Add(context.Background(), 3)

	s := New("sysrecorder-test", counters, fakeTracker{pids: []int64{10, 20}}, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/debug/counters", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var body countersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body.Counters["events_dropped_decode"])
	assert.ElementsMatch(t, []int64{10, 20}, body.TrackedPids)
}
