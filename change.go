package objperm

import (
	"time"

	"github.com/google/uuid"
)

// ChangeOp names the mutation that produced a [Change].
type ChangeOp string

const (
	OpGrant     ChangeOp = "grant"
	OpRevoke    ChangeOp = "revoke"
	OpRevokeAll ChangeOp = "revoke_all"
)

// Change describes one persisted mutation of a permission record. Record
// carries the mask after the mutation; listeners tell actor and group
// changes apart by Record.Key.Kind.
type Change struct {
	ID        uuid.UUID
	Op        ChangeOp
	Record    Record
	Instance  Instance
	Previous  Mask
	Requested Mask
	At        time.Time
	Initiator string
	RequestID string
}

// Subject returns the holder of the changed record.
func (c Change) Subject() Subject {
	return Subject{Kind: c.Record.Key.Kind, ID: c.Record.Key.SubjectID}
}

// Added returns the bits this change turned on.
func (c Change) Added() Mask {
	return c.Record.Mask &^ c.Previous
}

// Removed returns the bits this change turned off.
func (c Change) Removed() Mask {
	return c.Previous &^ c.Record.Mask
}

// Changed reports whether any bit flipped. Idempotent grants still notify
// with Changed() == false.
func (c Change) Changed() bool {
	return c.Previous != c.Record.Mask
}
