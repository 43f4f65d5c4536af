// Package forest maintains the live forest of ProcessNodes the recorder
// tracks, keyed by OS pid (spec §4.4). The map is a sharded concurrent
// structure; mutations to a single node's actor tables and log counter are
// serialized by that node's own lock, so the map-level operation stays
// linearizable with per-node state changes without a single global lock.
package forest

import (
	"hash/fnv"
	"sync"

	"github.com/arc-self/sysrecorder/internal/event"
	"github.com/arc-self/sysrecorder/internal/exporter"
)

const shardCount = 32

// ActorNode owns one actor sub-span plus its accounting state (spec §3).
type ActorNode struct {
	Span     *exporter.SpanHandle
	Artifact event.Artifact
	Kind     event.ActorKind

	mu       sync.Mutex
	logCount uint64
}

// LogCount returns the node's current log_count.
func (n *ActorNode) LogCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logCount
}

// IncrementLogCount bumps log_count by one and returns the new value.
func (n *ActorNode) IncrementLogCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logCount++
	return n.logCount
}

// ProcessNode owns one process's root span, its two direction-keyed actor
// tables, and its own log counter (spec §3).
type ProcessNode struct {
	Span   *exporter.SpanHandle
	Pid    int64
	Ppid   int64
	Image  string
	Parent *ProcessNode // nil if ppid isn't tracked at creation time

	mu        sync.Mutex
	logCount  uint64
	readRecv  map[string]*ActorNode
	writeSend map[string]*ActorNode
}

func newProcessNode(pid, ppid int64, image string, span *exporter.SpanHandle, parent *ProcessNode) *ProcessNode {
	return &ProcessNode{
		Span:      span,
		Pid:       pid,
		Ppid:      ppid,
		Image:     image,
		Parent:    parent,
		readRecv:  make(map[string]*ActorNode),
		writeSend: make(map[string]*ActorNode),
	}
}

// LogCount returns the node's current log_count.
func (n *ProcessNode) LogCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logCount
}

// IncrementLogCount bumps log_count by one and returns the new value.
func (n *ProcessNode) IncrementLogCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logCount++
	return n.logCount
}

// table selects the direction-keyed actor map for a given direction.
func (n *ProcessNode) table(dir event.Direction) map[string]*ActorNode {
	if dir == event.ReadRecv {
		return n.readRecv
	}
	return n.writeSend
}

// GetOrCreateActor returns the existing ActorNode for (artifact, kind) in
// the correct direction table, or creates one via create if absent. create
// is called at most once, with the node's lock held, so two concurrent
// callers racing on the same (artifact, kind) never create two spans
// (spec §4.5 "actor upsert").
func (n *ProcessNode) GetOrCreateActor(artifact event.Artifact, kind event.ActorKind, create func() *exporter.SpanHandle) (*ActorNode, bool) {
	dir := event.DirectionOf(kind)
	key := artifact.ID() + "@" + string(kind)

	n.mu.Lock()
	defer n.mu.Unlock()

	tbl := n.table(dir)
	if existing, ok := tbl[key]; ok {
		return existing, false
	}
	node := &ActorNode{Span: create(), Artifact: artifact, Kind: kind}
	tbl[key] = node
	return node, true
}

// ActorNodes returns a snapshot of every actor node currently owned by n,
// across both direction tables.
func (n *ProcessNode) ActorNodes() []*ActorNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*ActorNode, 0, len(n.readRecv)+len(n.writeSend))
	for _, a := range n.readRecv {
		out = append(out, a)
	}
	for _, a := range n.writeSend {
		out = append(out, a)
	}
	return out
}

// Forest is the concurrent pid -> *ProcessNode map (spec §4.4), sharded to
// reduce lock contention across unrelated pids while keeping a strict
// single-writer-per-key guarantee within a shard.
type Forest struct {
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.RWMutex
	nodes map[int64]*ProcessNode
}

// New creates an empty Forest.
func New() *Forest {
	f := &Forest{}
	for i := range f.shards {
		f.shards[i] = &shard{nodes: make(map[int64]*ProcessNode)}
	}
	return f
}

func (f *Forest) shardFor(pid int64) *shard {
	h := fnv.New32a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(pid >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return f.shards[h.Sum32()%shardCount]
}

// Lookup returns the live node for pid, if any.
func (f *Forest) Lookup(pid int64) (*ProcessNode, bool) {
	s := f.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[pid]
	return n, ok
}

// GetOrCreate returns the existing node for pid (created=false), or creates
// one (created=true) via startSpan, parented to ppid's node if it is
// already tracked — otherwise as a root span (spec §4.4, §5: parent
// resolution is best-effort at create time, never retroactive).
//
// The parent lookup runs before pid's shard is locked, not after: pid and
// ppid can hash to the same shard, and sync.RWMutex isn't reentrant, so
// calling Lookup(ppid) while still holding pid's write lock would deadlock
// the goroutine against itself on any such collision.
func (f *Forest) GetOrCreate(pid, ppid int64, image string, startSpan func(parent *ProcessNode) *exporter.SpanHandle) (*ProcessNode, bool) {
	var parent *ProcessNode
	if ppid != pid {
		if p, ok := f.Lookup(ppid); ok {
			parent = p
		}
	}

	s := f.shardFor(pid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[pid]; ok {
		return existing, false
	}

	node := newProcessNode(pid, ppid, image, startSpan(parent), parent)
	s.nodes[pid] = node
	return node, true
}

// Remove atomically takes pid out of the forest, returning its node if it
// was present. Callers must stop the node's span (and its actors') after
// removal returns, never before — spec §5's invariant that removal happens
// atomically with, or before, stopping the span.
func (f *Forest) Remove(pid int64) (*ProcessNode, bool) {
	s := f.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[pid]
	if ok {
		delete(s.nodes, pid)
	}
	return n, ok
}

// Snapshot returns every currently-tracked node. Used by flush_all, which
// must tolerate nodes being concurrently removed out from under it.
func (f *Forest) Snapshot() []*ProcessNode {
	var out []*ProcessNode
	for _, s := range f.shards {
		s.mu.RLock()
		for _, n := range s.nodes {
			out = append(out, n)
		}
		s.mu.RUnlock()
	}
	return out
}

// Contains reports whether pid is currently tracked.
func (f *Forest) Contains(pid int64) bool {
	_, ok := f.Lookup(pid)
	return ok
}
