// Package cmd implements the command-line interface for the corecache item
// cache. It provides a hierarchical command structure with operations for
// running the cache server, running a worker farm member, and interacting
// with a server as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the cache server
//   - item: Commands for item operations (save, load, select, delete, subscribe)
//   - farm: Command for running a valuation worker farm member
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See corecache -help for a list of all commands.
package cmd
