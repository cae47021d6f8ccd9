// Package store defines the item cache contract and its error taxonomy.
//
// The package focuses on:
//   - A unified interface (IItemStore) for versioned item storage across
//     different backends
//   - A structured error system using typed return codes, so callers can
//     react to specific conditions (concurrency conflicts, missing items,
//     malformed filters) rather than generic errors
//
// Versioning model:
//
// Every Save and Delete appends a revision carrying a store-wide,
// strictly-increasing update sequence number (USN). USNs are never reused,
// so an item's revision history forms an append-only log. This log is what
// supports optimistic concurrency (compare-and-swap on an expected USN),
// delta synchronisation (queries bounded below by a minimum USN) and as-at
// reads (reconstructing the store state at a past instant).
//
// Implementations:
//
//   - Memory store (mstore): a single-node in-memory implementation with a
//     mutex-guarded revision log. Suitable wherever distributed consensus is
//     not required, and used as the state machine inside the replicated
//     store. Available in the "mstore" sub-package.
//
//   - Replicated store (dstore): a Dragonboat RAFT backed implementation
//     that replicates the revision log across nodes with strong consistency.
//     Available in the "dstore" sub-package.
package store
