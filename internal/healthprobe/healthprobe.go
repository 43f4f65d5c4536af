// Package healthprobe serves the recorder's liveness and introspection HTTP
// surface: a /healthz check and a /debug/counters endpoint reporting the
// spec §7 drop counters plus the live process count. Grounded on the
// teacher's audit-service echo wiring (cmd/api/main.go, internal/handler):
// otelecho middleware, routes registered directly on the echo instance, same
// health check shape.
package healthprobe

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	mw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/sysrecorder/internal/telemetry"
)

// Tracker is the subset of *recorder.Recorder the health probe needs to
// report on; kept minimal so this package doesn't import internal/recorder.
type Tracker interface {
	TrackedPids() []int64
}

// Server is the recorder's HTTP health/introspection surface.
type Server struct {
	echo     *echo.Echo
	log      *zap.Logger
	counters *telemetry.DropCounters
	tracker  Tracker
}

// New builds a Server. counters and tracker may be nil; /debug/counters
// degrades gracefully when telemetry or a tracker isn't wired.
func New(serviceName string, counters *telemetry.DropCounters, tracker Tracker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(mw.Recover())

	s := &Server{echo: e, log: log, counters: counters, tracker: tracker}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/debug/counters", s.handleCounters)

	return s
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type countersResponse struct {
	Counters    map[string]int64 `json:"counters"`
	TrackedPids []int64          `json:"tracked_pids"`
}

func (s *Server) handleCounters(c echo.Context) error {
	// TrackedPids defaults to an empty (not nil) slice so the JSON field is
	// always "[]", never "null", regardless of whether a tracker is wired.
	resp := countersResponse{Counters: map[string]int64{}, TrackedPids: []int64{}}
	if s.counters != nil {
		resp.Counters = s.counters.Snapshot()
	}
	if s.tracker != nil {
		if pids := s.tracker.TrackedPids(); pids != nil {
			resp.TrackedPids = pids
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the server in the background and returns immediately.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("health probe server failure", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server within the given deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) <= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
