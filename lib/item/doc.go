// Package item defines the Item data model shared by the store, the
// subscription manager and the wire protocol.
//
// An Item is a versioned, named, typed object with a property bag used for
// filtering. Revisions are identified by a store-wide monotonic update
// sequence number (USN); an item's USN history forms an append-only log,
// which is what enables delta synchronisation (minimum-USN queries) and
// as-at (time-travel) reads. Deleted items remain addressable by id for
// time-travel but are excluded from default queries.
package item
