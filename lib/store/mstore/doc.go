// Package mstore provides the single-node, in-memory implementation of the
// item store.
//
// The store keeps every revision in an append-only log guarded by one
// RWMutex, with a latest-revision-per-name index for current reads and a
// concurrent id index for historical loads. USNs are assigned under the
// write lock, which is what makes them strictly increasing store-wide.
//
// Change events are handed to the registered watcher synchronously, after
// the revision is committed and the lock released but before the write call
// returns, giving subscribers an at-least-once view of every mutation.
package mstore
