// Package filter implements the recorder's pre- and post-decode drop rules
// (spec §4.2): self-exclusion, user-name exclusion, and agent-image
// exclusion. Rather than a class hierarchy of tracepoint filters, it reifies
// the rule set as a FilterPipeline value composed of plain predicate
// functions over data — the design notes' "reify as data, not subclassing".
package filter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/arc-self/sysrecorder/internal/event"
)

// Identity is the agent's own process identity, established once at
// startup and passed into the FilterPipeline by value (no global mutable
// state, per the design notes).
type Identity struct {
	Pid        int64
	BinaryPath string
	IdlePid    int64 // conventionally 4 on Windows; parameterized per spec §4.2
}

// PreFilter runs on raw fields the producer has before decoding: just the
// originator pid.
type PreFilter func(originatorPid int64) bool

// PostFilter runs on a fully decoded event.
type PostFilter func(ev *event.TypedEvent) bool

// Pipeline composes pre- and post-decode predicates. All predicates must
// pass (logical AND) for an event to proceed.
type Pipeline struct {
	identity Identity
	pre      []PreFilter
	post     []PostFilter
}

var systemUserPattern = regexp.MustCompile(`(?i)^(nt authority\\)?system$`)

// New builds the standard self-filter pipeline for the given agent
// identity: drop events from the agent's own pid, from the OS idle/system
// pid, from the SYSTEM user, or whose image/source-image is the agent's own
// binary. Additional predicates can be appended with AddPre/AddPost.
func New(id Identity) *Pipeline {
	p := &Pipeline{identity: id}

	p.pre = append(p.pre, func(pid int64) bool {
		return pid != id.Pid
	})
	p.pre = append(p.pre, func(pid int64) bool {
		return pid != id.IdlePid
	})

	p.post = append(p.post, func(ev *event.TypedEvent) bool {
		return !systemUserPattern.MatchString(ev.Get("User"))
	})
	p.post = append(p.post, func(ev *event.TypedEvent) bool {
		img := ev.Get("Image")
		src := ev.Get("SourceImage")
		if id.BinaryPath == "" {
			return true
		}
		return !strings.EqualFold(img, id.BinaryPath) && !strings.EqualFold(src, id.BinaryPath)
	})
	p.post = append(p.post, func(ev *event.TypedEvent) bool {
		if ev.Code != event.ProcessAccess && ev.Code != event.CreateRemoteThread {
			return true
		}
		targetPid := ev.Get("TargetProcessId")
		return targetPid != strconv.FormatInt(id.Pid, 10)
	})

	return p
}

// AddPre appends an additional pre-decode predicate.
func (p *Pipeline) AddPre(f PreFilter) { p.pre = append(p.pre, f) }

// AddPost appends an additional post-decode predicate.
func (p *Pipeline) AddPost(f PostFilter) { p.post = append(p.post, f) }

// AllowPre reports whether an originator pid survives every pre-decode
// predicate.
func (p *Pipeline) AllowPre(originatorPid int64) bool {
	for _, f := range p.pre {
		if !f(originatorPid) {
			return false
		}
	}
	return true
}

// AllowPost reports whether a decoded event survives every post-decode
// predicate.
func (p *Pipeline) AllowPost(ev *event.TypedEvent) bool {
	for _, f := range p.post {
		if !f(ev) {
			return false
		}
	}
	return true
}

// Identity returns the agent identity this pipeline was built with.
func (p *Pipeline) Identity() Identity { return p.identity }
