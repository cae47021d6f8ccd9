// Package base provides a foundation for transport layers of the item cache,
// implementing core functionality for RPC communication independent of the
// specific network protocol (TCP, Unix sockets, etc.). It serves as a base
// layer that can be extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Performance optimization through connection pooling and buffer reuse
//   - Frame-based message protocol with channel and requestID tracking
//   - Automatic request routing and response correlation
//   - Unsolicited server-to-client frames for subscription deliveries
//   - Robust error handling with retries and reconnection logic
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations that allow extending the base transport with different
//     network protocols.
//
//   - clientTransport: Core client implementation that manages multiple
//     connections with round-robin load balancing. Supports multiple
//     connections per endpoint for improved throughput.
//
//   - serverTransport: Core server implementation that accepts connections,
//     routes requests to the registered handler and exposes a per-connection
//     Push method for unsolicited frames.
//
// Wire Protocol:
//
//	Every frame carries a channel id, a request id and a length-prefixed
//	payload. Request ids correlate replies with their requests; request id
//	zero is reserved for frames the server sends on its own (subscription
//	deliveries), which the client routes to its push handler. A reply whose
//	request id no longer has a waiting request is dropped as stale.
//
// Performance Optimizations:
//
//   - Connection Pooling: Multiple connections per endpoint improve
//     throughput for high-load scenarios. For small messages a single
//     connection per endpoint may perform better due to reduced overhead.
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse buffers, reducing
//     GC pressure and memory allocations.
//
//   - Asynchronous Processing: The client sends requests and correlates
//     responses asynchronously using unique request IDs, enabling higher
//     throughput.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write
//     operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client transport uses atomic
//	operations and mutexes to ensure concurrent access safety, while the
//	server creates a dedicated goroutine for each connection.
package base
