// Package natsfeed is the reference JetStream producer adapter: it pulls
// raw event envelopes off a durable pull subscription and drives them
// through Decoder -> Filter -> Recorder, the same way the teacher's
// consumers drive NATS messages through processEvent -> DB insert
// (apps/audit-service/internal/consumer/{audit,global_audit_consumer}.go).
// Poison-pill handling (msg.Term on unrecoverable payloads, msg.Nak on
// everything else) follows the same split.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/sysrecorder/internal/decode"
	"github.com/arc-self/sysrecorder/internal/event"
	"github.com/arc-self/sysrecorder/internal/filter"
	"github.com/arc-self/sysrecorder/internal/recorder"
	"github.com/arc-self/sysrecorder/internal/telemetry"
)

// JetStreamContext is the subset of nats.JetStreamContext (natsclient.Client's
// JS field) the feed needs.
type JetStreamContext interface {
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// envelope is the wire format a producer (kernel driver shim, Sysmon relay,
// etc.) publishes: one JSON object per raw event.
type envelope struct {
	Code      string            `json:"code"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Pid       int64             `json:"pid"`
	Fields    map[string]string `json:"fields"`
}

// Feed consumes raw event envelopes from a JetStream pull subscription and
// dispatches them into the recorder.
type Feed struct {
	js       JetStreamContext
	stream   string
	subject  string
	durable  string
	batch    int
	decoder  *decode.Decoder
	pipeline *filter.Pipeline
	rec      *recorder.Recorder
	counters *telemetry.DropCounters
	log      *zap.Logger
}

// Config configures a Feed.
type Config struct {
	Stream  string
	Subject string
	Durable string
	Batch   int // Fetch batch size; defaults to 64 if <= 0.
}

// New builds a Feed. counters may be nil (drop accounting is then a no-op).
func New(js JetStreamContext, cfg Config, decoder *decode.Decoder, pipeline *filter.Pipeline, rec *recorder.Recorder, counters *telemetry.DropCounters, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 64
	}
	return &Feed{
		js:       js,
		stream:   cfg.Stream,
		subject:  cfg.Subject,
		durable:  cfg.Durable,
		batch:    cfg.Batch,
		decoder:  decoder,
		pipeline: pipeline,
		rec:      rec,
		counters: counters,
		log:      log,
	}
}

// Start creates the pull subscription and runs the fetch loop in a
// background goroutine until ctx is cancelled. It returns immediately.
func (f *Feed) Start(ctx context.Context) error {
	sub, err := f.js.PullSubscribe(f.subject, f.durable, nats.BindStream(f.stream))
	if err != nil {
		return fmt.Errorf("natsfeed: PullSubscribe: %w", err)
	}

	f.log.Info("natsfeed: subscription started",
		zap.String("stream", f.stream), zap.String("subject", f.subject), zap.String("durable", f.durable))

	go func() {
		for {
			select {
			case <-ctx.Done():
				f.log.Info("natsfeed: stopping")
				return
			default:
				msgs, err := sub.Fetch(f.batch, nats.Context(ctx))
				if err != nil {
					continue // nats.ErrTimeout on an empty queue — not an error
				}
				for _, msg := range msgs {
					f.processMessage(ctx, msg)
				}
			}
		}
	}()

	return nil
}

func (f *Feed) processMessage(ctx context.Context, msg *nats.Msg) {
	err := f.processEvent(ctx, msg.Data)
	if err != nil {
		var ppe *poisonPillError
		if isPoisonPill(err, &ppe) {
			f.log.Warn("natsfeed: terminating poison-pill event", zap.Error(err))
			msg.Term()
			return
		}
		f.log.Error("natsfeed: NAK event (transient error)", zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}

// processEvent is the pure business logic: decode the wire envelope, run it
// through the filter pipeline, then dispatch to the recorder. No NATS
// dependency, so it's directly unit-testable.
func (f *Feed) processEvent(ctx context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &poisonPillError{msg: fmt.Sprintf("unmarshal envelope: %v", err)}
	}

	if !f.pipeline.AllowPre(env.Pid) {
		f.add(ctx, dropCounter(f.counters, prefilter))
		return nil
	}

	ev, ok := f.decoder.Decode(decode.RawRecord{
		Code:      env.Code,
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Pid:       env.Pid,
		Fields:    env.Fields,
	})
	if !ok {
		f.add(ctx, dropCounter(f.counters, decodeDrop))
		return nil
	}

	if !f.pipeline.AllowPost(ev) {
		f.add(ctx, dropCounter(f.counters, postfilter))
		return nil
	}

	return f.dispatch(ctx, ev)
}

func (f *Feed) dispatch(ctx context.Context, ev *event.TypedEvent) error {
	switch ev.Code {
	case event.ProcessCreation:
		image, _ := decode.Target(ev)
		ppid := metadataInt64(ev, "ParentProcessId")
		return f.rec.StartProcess(ctx, ev.Pid, ppid, image, ev)

	case event.ProcessTerminated:
		return f.rec.StopProcess(ctx, ev.Pid, ev)

	case event.ProcessAccess, event.CreateRemoteThread:
		tgtPid := metadataInt64(ev, "TargetProcessId")
		fallback := ev.Get("TargetImage")
		return f.rec.RecordProcessAccess(ctx, ev.Pid, tgtPid, fallback, ev.Code, ev)

	default:
		target, ok := decode.Target(ev)
		if !ok {
			// NotActor codes with no target (e.g. ThreadStart) still attach to
			// the owning process span; RecordAction handles that branch, but
			// it requires a non-empty target argument, so use the pid itself
			// as a harmless placeholder.
			target = strconv.FormatInt(ev.Pid, 10)
		}
		return f.rec.RecordAction(ctx, ev.Pid, target, ev.Code, ev)
	}
}

func metadataInt64(ev *event.TypedEvent, key string) int64 {
	v, err := strconv.ParseInt(ev.Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

type dropKind int

const (
	prefilter dropKind = iota
	postfilter
	decodeDrop
)

func (f *Feed) add(ctx context.Context, c *telemetry.Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

// dropCounter is a nil-safe accessor so Feed works with counters == nil.
func dropCounter(d *telemetry.DropCounters, kind dropKind) *telemetry.Counter {
	if d == nil {
		return nil
	}
	switch kind {
	case prefilter:
		return d.Prefilter
	case postfilter:
		return d.Postfilter
	default:
		return d.Decode
	}
}

type poisonPillError struct{ msg string }

func (e *poisonPillError) Error() string { return "poison pill: " + e.msg }

func isPoisonPill(err error, out **poisonPillError) bool {
	ppe, ok := err.(*poisonPillError)
	if ok && out != nil {
		*out = ppe
	}
	return ok
}
