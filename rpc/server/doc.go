// Package server implements the RPC server of the item cache. It provides
// adapters for handling RPC requests against the item store and the
// subscription manager, along with the core server implementation that
// manages the served channel and request routing.
//
// The package focuses on:
//   - Server-side RPC request handling for item store and subscription operations
//   - Adapter pattern to decouple application logic from RPC mechanisms
//   - Local (in-memory) and replicated (raft) store backing, selected by config
//   - Push delivery of subscription notifications over the creating connection
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes incoming requests
//     against the AdapterContext.
//
//   - NewItemStoreServerAdapter: Factory function creating an adapter for
//     item store operations, translating RPC requests to store.IItemStore
//     method calls.
//
//   - NewSubscriptionServerAdapter: Factory function creating an adapter
//     for subscription operations. Subscription deliveries are serialized
//     as NotifyItems messages and pushed as unsolicited frames over the
//     connection the subscription was created on.
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  Mode:          common.CacheModeLocal,
//	  Endpoint:      "tcp://0.0.0.0:4004",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Start the server
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two store modes:
//
//   - CacheModeLocal: A single-node in-memory store, suitable for
//     development environments and per-host caches.
//
//   - CacheModeReplicated: A raft-replicated store providing strong
//     consistency across multiple nodes. When using this mode, the RAFT
//     configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead,
//     DataDir, ReplicaID, ShardID and ClusterMembers) must be properly
//     configured.
//
// Subscription Lifetime:
//
//	Subscriptions are bound to the connection that created them. When a
//	connection closes, the server cancels all subscriptions it created, in
//	addition to the lease expiry the subscription manager enforces.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently. The Listen method is not thread-safe and should be
//	called only once.
package server
