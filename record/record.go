package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/objperm/permission"
)

var (
	// ErrUnavailable wraps backend failures (network, driver, encoding).
	ErrUnavailable = errors.New("record store unavailable")
	// ErrInvalidKey is returned for keys with an unknown kind or empty parts.
	ErrInvalidKey = errors.New("invalid record key")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("record corrupt")
)

// SubjectKind distinguishes individual actors from groups.
type SubjectKind uint8

const (
	// KindActor is an individual actor (a user, a service account).
	KindActor SubjectKind = iota + 1
	// KindGroup is a flat collection of actors.
	KindGroup
)

// String returns "actor" or "group".
func (k SubjectKind) String() string {
	switch k {
	case KindActor:
		return "actor"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Valid reports whether k is KindActor or KindGroup.
func (k SubjectKind) Valid() bool {
	return k == KindActor || k == KindGroup
}

// ParseSubjectKind is the inverse of [SubjectKind.String].
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "actor":
		return KindActor, nil
	case "group":
		return KindGroup, nil
	default:
		return 0, fmt.Errorf("%w: subject kind %q", ErrInvalidKey, s)
	}
}

// Key identifies one permission record: a subject, an entity type and an
// instance of that type.
type Key struct {
	Kind       SubjectKind
	SubjectID  string
	EntityType string
	InstanceID string
}

// Validate checks that every part of the key is set.
func (k Key) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: kind %d", ErrInvalidKey, k.Kind)
	}
	if k.SubjectID == "" || k.EntityType == "" || k.InstanceID == "" {
		return fmt.Errorf("%w: %s", ErrInvalidKey, k)
	}
	return nil
}

// String renders the key as kind:subject@type/instance.
func (k Key) String() string {
	return k.Kind.String() + ":" + k.SubjectID + "@" + k.EntityType + "/" + k.InstanceID
}

// Record is the accumulated permission mask a subject holds over one
// instance. A missing record reads as Mask 0.
type Record struct {
	Key  Key
	Mask permission.Mask
}

// Mutation is the outcome of an atomic read-modify-write on one record.
type Mutation struct {
	Record   Record
	Previous permission.Mask
	// Existed is false when the record did not exist before the operation.
	Existed bool
}

// Changed reports whether the mask was modified.
func (m Mutation) Changed() bool {
	return m.Previous != m.Record.Mask
}
