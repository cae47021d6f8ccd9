// Package rpc provides a comprehensive framework for remote procedure calls
// in the item cache system. It acts as the communication layer between
// clients and cache servers, enabling operations across network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, session headers, configuration
//     structures, and logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, HTTP). Frames carry a channel id
//     and a request id; request id zero is reserved for unsolicited
//     server-to-client frames carrying subscription deliveries.
//
//   - serializer: Message serialization with multiple format options
//     (Binary, JSON, GOB) for converting between Message objects and byte
//     arrays.
//
//   - client: RPC client implementations for the item store and the
//     subscription manager, plus a typed facade, allowing applications to
//     interact with remote caches transparently.
//
//   - server: RPC server components that handle incoming requests,
//     including adapters for item store and subscription operations.
package rpc
