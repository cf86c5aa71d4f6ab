// Package record defines the persisted permission record, the [Store] and
// [Membership] contracts the engine depends on, and in-memory
// implementations of both.
//
// # Design
//
// A record is keyed by (subject kind, subject ID, entity type, instance ID)
// and holds one permission mask. Grants and revokes are expressed as atomic
// bitwise updates (Or / AndNot) so a store can apply them without a
// read-then-write race: the memory store under a mutex, the Redis store with
// a Lua script, the Postgres store under a row lock. Pruning a zeroed record
// goes through DeleteIfZero for the same reason.
//
// # Architecture boundaries
//
// This package owns persistence contracts. It does NOT resolve permission
// names, combine actor and group masks, or emit notifications; those belong
// to the objperm engine.
//
// # What this package must NOT do
//
//   - Import objperm or any sibling store package.
//   - Cache reads.
//   - Interpret mask bits.
package record
