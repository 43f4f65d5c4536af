// Package decode maps raw producer records into the typed event.TypedEvent
// model. It is a pure function from the caller's point of view: a malformed
// or unrecognized record yields (nil, false) rather than an error — decode
// never throws outward, matching the "drop records whose payload is
// malformed or unrecognized" contract in spec §4.1.
//
// The shape here is lifted from the teacher's own raw-record decoder,
// replication.Decoder.DecodeInsert: look the code up in a registry, pull
// named fields out of an untyped payload, and fail closed on anything
// missing.
package decode

import (
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/sysrecorder/internal/event"
)

// RawRecord is what a producer hands the decoder: an event code, a
// producer-assigned timestamp and source tag, the originating pid, and an
// untyped bag of string fields (the "opaque payload fields" of spec §4.1).
type RawRecord struct {
	Code      string
	Timestamp time.Time
	Source    string
	Pid       int64
	Fields    map[string]string
}

// Decoder turns RawRecords into event.TypedEvents, dropping whatever it
// can't make sense of and logging why at debug level.
type Decoder struct {
	log *zap.Logger
}

// New creates a Decoder that logs drop reasons to log (nil is replaced with
// a no-op logger).
func New(log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{log: log}
}

// Decode converts a raw record into a TypedEvent, or reports ok=false if the
// record's code is unrecognized or its payload is malformed (missing a
// required target field for actor codes).
func (d *Decoder) Decode(raw RawRecord) (*event.TypedEvent, bool) {
	code := event.Code(raw.Code)

	kind, recognized := event.ActorKindForCode(code)
	if !recognized {
		d.log.Debug("decode: unrecognized event code", zap.String("code", raw.Code))
		return nil, false
	}

	// Actor events must carry a non-empty target field; process-lifecycle
	// (NotActor) events are exempt since they key off pid/ppid, not a target.
	if kind != event.NotActor {
		field, hasField := event.TargetFieldForCode(code)
		if !hasField {
			d.log.Debug("decode: no target field mapping for code", zap.String("code", raw.Code))
			return nil, false
		}
		if raw.Fields[field] == "" {
			d.log.Debug("decode: missing target field",
				zap.String("code", raw.Code), zap.String("field", field))
			return nil, false
		}
	}

	md := make(map[string]string, len(raw.Fields))
	for k, v := range raw.Fields {
		md[k] = v
	}

	return &event.TypedEvent{
		Code:      code,
		Timestamp: raw.Timestamp,
		Source:    event.Source(raw.Source),
		Pid:       raw.Pid,
		Metadata:  md,
	}, true
}

// Target extracts the target artifact string for an already-decoded event,
// per the code's target-field mapping (for ProcessCreation that is the
// Image field). Returns ok=false for codes with no target-field mapping
// (e.g. ProcessTerminated, ThreadStart) or if the field is empty.
func Target(ev *event.TypedEvent) (string, bool) {
	if ev == nil {
		return "", false
	}
	field, ok := event.TargetFieldForCode(ev.Code)
	if !ok {
		return "", false
	}
	v := ev.Get(field)
	if v == "" {
		return "", false
	}
	return v, true
}
