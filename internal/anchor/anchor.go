// Package anchor implements tamper-evident anchoring of an append-only
// audit log.
//
// Records are linked into a single hash chain (each record's hash covers
// its content plus the previous record's hash), batched into Merkle trees,
// and stored together with an inclusion proof and an external oracle
// reference (height + timestamp). Once any hash in the chain has been
// anchored, altering or deleting an earlier record is detectable by
// recomputing hashes from the store.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package anchor
