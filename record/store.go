package record

import (
	"context"

	"github.com/MrEthical07/objperm/permission"
)

// Store persists permission records. Implementations must apply Or and
// AndNot as one atomic read-modify-write per key so concurrent grants to
// the same record never lose updates.
type Store interface {
	// Get returns the record for key, or a zero-mask record when absent.
	Get(ctx context.Context, key Key) (Record, error)
	// GetMany returns one record per key, in key order. Absent keys read as
	// zero-mask records.
	GetMany(ctx context.Context, keys []Key) ([]Record, error)
	// Or sets bits on the record, creating it with mask 0 first if absent.
	Or(ctx context.Context, key Key, bits permission.Mask) (Mutation, error)
	// AndNot clears bits on an existing record. When the record is absent it
	// returns Mutation{Existed: false} and writes nothing.
	AndNot(ctx context.Context, key Key, bits permission.Mask) (Mutation, error)
	// DeleteIfZero removes the record only while its mask is 0, atomically
	// with Or and AndNot on the same key, and reports whether it did.
	DeleteIfZero(ctx context.Context, key Key) (bool, error)
	// ListByInstance returns every stored record of one instance, actors
	// first, each kind ordered by subject ID.
	ListByInstance(ctx context.Context, entityType, instanceID string) ([]Record, error)
}

// Membership resolves the flat group membership of actors.
type Membership interface {
	// Groups returns the IDs of every group actorID belongs to.
	Groups(ctx context.Context, actorID string) ([]string, error)
}
