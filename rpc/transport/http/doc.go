// Package http implements an HTTP-based transport for the item cache's RPC
// system. Each request is a POST to /{channel} with the serialized message
// as body; the serialized response comes back in the HTTP response body.
//
// HTTP is a pure request/reply medium: it cannot carry the unsolicited
// server-to-client frames the subscription manager uses for deliveries.
// Clients that need subscriptions must use the tcp or unix transport. All
// other operations (save, load, select, delete) work unchanged.
//
// The transport is useful for debugging with standard HTTP tooling and for
// environments where only HTTP traffic is allowed through.
package http
