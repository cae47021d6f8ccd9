// Package common provides core data structures and utilities shared across
// the distributed item cache. It defines fundamental types, configuration
// structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for inter-component communication
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat
//   - Utilities for Dragonboat (RAFT) integration
//
// Key Components:
//
//   - SessionHeader: The envelope carried by every exchange, correlating
//     replies with requests by request id, marking paged answers via
//     MoreFollowing, and carrying reply routing and debug flags.
//
//   - Message: Core data structure for all RPC communication between
//     components, with a flexible structure that adapts to different
//     operation types. Includes factory methods for creating the request
//     and response shapes (SelectItems, AnswerItems, NotifyItems,
//     subscription management, CompletionResult).
//
//   - MessageType: Enumeration defining all supported operation types,
//     categorized into item store operations, subscription operations, and
//     control messages.
//
//   - ServerConfig: Comprehensive configuration for cache server nodes,
//     including RAFT parameters for the replicated mode, storage settings,
//     network configuration, and subscription sweep tuning. Provides
//     utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration surface of the client facade, naming the
//     environment and application identity and controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with
//     Dragonboat's logging system while providing consistent formatting
//     across the application.
package common
