// Package lockmgr provides distributed leases on top of the item store.
//
// A lease is an ordinary item: its Expires field carries the lease end and
// its Owner property identifies the holder. Because the store drops expired
// revisions from default reads, a lapsed lease looks exactly like a free
// one, so a crashed holder never blocks the next acquirer.
//
// # Implementation Approach
//
// Acquire works in three steps:
//
//  1. Load the lock item. A live revision means the lease is held and the
//     acquire fails fast.
//  2. Save a fresh revision carrying a random owner id, with the expected
//     USN pinned to the latest revision observed (zero for a never-used
//     name). Of two racing acquirers the store accepts exactly one save
//     and rejects the other with a concurrency conflict.
//  3. Load again and compare the owner property, confirming the saved
//     revision is the one that is actually current.
//
// Release and renew both load the item, compare the presented owner id
// against the Owner property, and only then delete respectively re-save.
//
// Run against a replicated store the same items, and therefore the same
// guarantees, are shared by every node in the cluster.
package lockmgr
