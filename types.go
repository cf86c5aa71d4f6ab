package objperm

import (
	"fmt"
	"io"

	internalaudit "github.com/MrEthical07/objperm/internal/audit"
	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
)

// Mask is a set of permission bits of one vocabulary.
type Mask = permission.Mask

// Choice pairs a permission bit with its name.
type Choice = permission.Choice

// Record is the mask a subject holds over one instance.
type Record = record.Record

// SubjectKind distinguishes actors from groups.
type SubjectKind = record.SubjectKind

const (
	KindActor = record.KindActor
	KindGroup = record.KindGroup
)

// Subject is the holder of a permission record: an actor or a group.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// Actor returns the actor subject id.
func Actor(id string) Subject {
	return Subject{Kind: KindActor, ID: id}
}

// Group returns the group subject id.
func Group(id string) Subject {
	return Subject{Kind: KindGroup, ID: id}
}

// Validate fails with [ErrInvalidSubject] for an unknown kind or empty ID.
func (s Subject) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: kind %d", ErrInvalidSubject, s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidSubject, s.Kind)
	}
	return nil
}

func (s Subject) String() string {
	return s.Kind.String() + ":" + s.ID
}

// Instance is anything a permission can be scoped to. EntityType selects
// the vocabulary; InstanceID identifies the object within its type.
type Instance interface {
	EntityType() string
	InstanceID() string
}

// Ref is a value [Instance].
type Ref struct {
	Type string
	ID   string
}

func (r Ref) EntityType() string { return r.Type }
func (r Ref) InstanceID() string { return r.ID }

func (r Ref) String() string {
	return r.Type + "/" + r.ID
}

// CheckMode selects how a multi-permission check combines.
type CheckMode uint8

const (
	// CheckAll requires every requested permission.
	CheckAll CheckMode = iota
	// CheckAny requires at least one requested permission.
	CheckAny
)

func (m CheckMode) String() string {
	if m == CheckAny {
		return "any"
	}
	return "all"
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans audit events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
