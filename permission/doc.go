// Package permission provides the per-entity-type permission vocabulary, the
// 64-bit [Mask] it produces, and the [Registry] binding entity types to
// vocabularies.
//
// # Bit assignment
//
// A [Vocabulary] assigns bit 1<<i to the i-th name it was built from. Bit
// values never change for the lifetime of the vocabulary, so masks persisted
// by a record store stay meaningful as long as the name order is kept.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. It provides the
// codec (EncodeMask/DecodeMask) used by the binary record stores.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import objperm, record, or any store package.
//   - Reorder or reassign bits after a vocabulary is built.
package permission
