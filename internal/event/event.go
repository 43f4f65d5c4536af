// Package event defines the closed, typed event model the recorder
// consumes: event codes, actor/artifact kinds, and the fixed tables that
// map one to the other. Nothing here talks to a producer or an exporter —
// it is pure data, matching the "reify as data, not subclassing" note in
// the design notes for the original tracepoint hierarchy.
package event

import "time"

// Code is the closed set of event variants the recorder understands.
type Code string

const (
	ProcessCreation     Code = "ProcessCreation"
	ProcessTerminated   Code = "ProcessTerminated"
	ThreadStart         Code = "ThreadStart"
	ProcessAccess       Code = "ProcessAccess"
	CreateRemoteThread  Code = "CreateRemoteThread"
	ProcessTampering    Code = "ProcessTampering"
	FileCreate          Code = "FileCreate"
	FileModified        Code = "FileModified"
	FileDelete          Code = "FileDelete"
	CreateStreamHash    Code = "CreateStreamHash"
	RawAccessRead       Code = "RawAccessReadDetected"
	ImageLoad           Code = "ImageLoad"
	DriverLoad          Code = "DriverLoad"
	NetworkConnection   Code = "NetworkConnection"
	DnsQuery            Code = "DnsQuery"
	RegistryAdd         Code = "RegistryAdd"
	RegistryDelete      Code = "RegistryDelete"
	RegistrySet         Code = "RegistrySet"
	RegistryRename      Code = "RegistryRename"
	RegistryQuery       Code = "RegistryQuery"
	Unknown             Code = "Unknown"
)

// Source identifies which producer emitted the raw record this event was
// decoded from.
type Source string

const (
	SourceKernel Source = "kernel"
	SourceSysmon Source = "sysmon"
)

// ActorKind taxonomizes the interaction an actor event represents.
type ActorKind string

const (
	ActorCreate                ActorKind = "CREATE"
	ActorDelete                ActorKind = "DELETE"
	ActorModify                ActorKind = "MODIFY"
	ActorCreateStreamHash      ActorKind = "CREATE_STREAM_HASH"
	ActorConnect               ActorKind = "CONNECT"
	ActorAccept                ActorKind = "ACCEPT"
	ActorLoad                  ActorKind = "LOAD"
	ActorRemoteThread          ActorKind = "REMOTE_THREAD"
	ActorTampering             ActorKind = "TAMPERING"
	ActorAccess                ActorKind = "ACCESS"
	ActorRegAdd                ActorKind = "REG_ADD"
	ActorRegDelete             ActorKind = "REG_DELETE"
	ActorRegSet                ActorKind = "REG_SET"
	ActorRegRename             ActorKind = "REG_RENAME"
	ActorRegQuery              ActorKind = "REG_QUERY"
	ActorRawAccessReadDetected ActorKind = "RAW_ACCESS_READ_DETECTED"
	NotActor                   ActorKind = "NOT_ACTOR"
)

// Direction of an actor interaction relative to the owning process.
type Direction string

const (
	ReadRecv  Direction = "read/recv"
	WriteSend Direction = "write/send"
)

// ArtifactKind is the type of resource an actor interaction touches.
type ArtifactKind string

const (
	KindProcess  ArtifactKind = "Process"
	KindFile     ArtifactKind = "File"
	KindRegistry ArtifactKind = "Registry"
	KindNetwork  ArtifactKind = "Network"
	KindModule   ArtifactKind = "Module"
)

// Artifact is a named, typed resource an actor touches. Two artifacts with
// the same (Kind, Name) are the same artifact — identity is value equality.
type Artifact struct {
	Kind ArtifactKind
	Name string
}

// ID returns the artifact's identity string, "{name}@{kind}".
func (a Artifact) ID() string {
	return a.Name + "@" + string(a.Kind)
}

// TypedEvent is the normalized, decoded representation of a raw producer
// record. Metadata carries the handful of named fields the recorder and
// filter predicates need (User, Image, SourceImage, TargetPid, ...); it is
// intentionally a flat string map rather than per-code structs, mirroring
// how the source tables (§4.1) key off field *names*, not field positions.
type TypedEvent struct {
	Code      Code
	Timestamp time.Time
	Source    Source
	Pid       int64
	Metadata  map[string]string
}

// Get returns a metadata field, or "" if absent.
func (e *TypedEvent) Get(key string) string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// actorKindByCode is the fixed §4.1 mapping from event code to actor kind.
var actorKindByCode = map[Code]ActorKind{
	ProcessCreation:    NotActor,
	ProcessTerminated:  NotActor,
	ThreadStart:        NotActor,
	ProcessAccess:      ActorRemoteThread,
	CreateRemoteThread: ActorRemoteThread,
	ProcessTampering:   ActorTampering,
	FileCreate:         ActorCreate,
	FileModified:       ActorModify,
	FileDelete:         ActorDelete,
	CreateStreamHash:   ActorCreateStreamHash,
	RawAccessRead:      ActorRawAccessReadDetected,
	ImageLoad:          ActorLoad,
	DriverLoad:         ActorLoad,
	NetworkConnection:  ActorConnect,
	DnsQuery:           ActorConnect,
	RegistryAdd:        ActorRegAdd,
	RegistryDelete:     ActorRegDelete,
	RegistrySet:        ActorRegSet,
	RegistryRename:     ActorRegRename,
	RegistryQuery:      ActorRegQuery,
}

// artifactKindByCode is the fixed §4.1 mapping from event code to the kind
// of artifact the actor touches.
var artifactKindByCode = map[Code]ArtifactKind{
	ProcessAccess:      KindProcess,
	CreateRemoteThread: KindProcess,
	ProcessTampering:   KindProcess,
	FileCreate:         KindFile,
	FileModified:       KindFile,
	FileDelete:         KindFile,
	CreateStreamHash:   KindFile,
	RawAccessRead:      KindFile,
	ImageLoad:          KindModule,
	DriverLoad:         KindModule,
	NetworkConnection:  KindNetwork,
	DnsQuery:           KindNetwork,
	RegistryAdd:        KindRegistry,
	RegistryDelete:     KindRegistry,
	RegistrySet:        KindRegistry,
	RegistryRename:     KindRegistry,
	RegistryQuery:      KindRegistry,
}

// targetFieldByCode names, per code, which metadata field holds the target
// artifact string (§4.1 "Target-field extraction").
var targetFieldByCode = map[Code]string{
	ProcessCreation:    "Image",
	ProcessTampering:   "Image",
	ProcessAccess:      "TargetImage",
	CreateRemoteThread: "TargetImage",
	ImageLoad:          "ImageLoaded",
	DriverLoad:         "ImageLoaded",
	NetworkConnection:  "DestinationIp",
	DnsQuery:           "QueryName",
	RegistryAdd:        "TargetObject",
	RegistrySet:        "TargetObject",
	RegistryDelete:     "TargetObject",
	RegistryRename:     "NewName",
	RegistryQuery:      "TargetObject",
	FileCreate:         "TargetFilename",
	FileModified:       "TargetFilename",
	FileDelete:         "TargetFilename",
	CreateStreamHash:   "TargetFilename",
	RawAccessRead:      "Device",
}

// readRecvKinds are the actor kinds whose direction is ReadRecv; every
// other actor kind (except NotActor, which has no direction) is WriteSend.
var readRecvKinds = map[ActorKind]bool{
	ActorRemoteThread:          true,
	ActorAccept:                true,
	ActorLoad:                  true,
	ActorRawAccessReadDetected: true,
	ActorRegQuery:              true,
}

// ActorKindForCode returns the actor kind a code maps to, and whether the
// code is recognized at all.
func ActorKindForCode(c Code) (ActorKind, bool) {
	k, ok := actorKindByCode[c]
	return k, ok
}

// ArtifactKindForCode returns the artifact kind a code's target belongs to.
// Only meaningful for codes whose actor kind is not NotActor.
func ArtifactKindForCode(c Code) (ArtifactKind, bool) {
	k, ok := artifactKindByCode[c]
	return k, ok
}

// TargetFieldForCode returns the metadata field name that carries the
// target string for a given code.
func TargetFieldForCode(c Code) (string, bool) {
	f, ok := targetFieldByCode[c]
	return f, ok
}

// DirectionOf is a pure function of actor kind, per the ActorContext
// invariant in §3: direction is never stored independently of kind.
func DirectionOf(k ActorKind) Direction {
	if readRecvKinds[k] {
		return ReadRecv
	}
	return WriteSend
}
