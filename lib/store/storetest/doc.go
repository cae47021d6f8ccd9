// Package storetest provides the reusable conformance suite for IItemStore
// implementations. Each backend runs the same suite from its own package
// test, so behavioural guarantees (USN monotonicity, optimistic
// concurrency, time travel, delta sync, watcher handoff) stay identical
// across backends.
package storetest
