// Package dstore implements a distributed, fault-tolerant item store using
// the Dragonboat RAFT consensus library. It provides a strongly consistent
// implementation of the store.IItemStore interface that can operate across
// multiple nodes while maintaining linearizable consistency.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store Client: Implements the store.IItemStore interface and communicates
//     with the RAFT cluster. It serializes write operations into commands,
//     sends them to the consensus layer, and processes responses.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that
//     processes commands and queries on each node. The state machine contains
//     an mstore engine and applies operations to it.
//
//   - Communication Protocol: Defined in the internal package, this consists of
//     Command and Query structures with serialization logic for transmitting
//     operations across the network.
//
// Write Operations:
//
//	All write operations (Save, Delete, DeleteWhere) follow this flow:
//
//	1. The operation is serialized into a Command structure, stamped with the
//	   proposer's wall clock
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. The leader node replicates the command to a majority of followers
//	4. Once committed, the command is executed on the state machine on each
//	   node (Update method in statemachine.go)
//	5. The assigned USN (or tombstone count) is returned to the client
//
//	Revision timestamps come from the command stamp and revision ids are
//	derived from the raft log index, so every replica records an identical
//	revision history.
//
// Read Operations:
//
//	Read operations (Load, LoadById, Select) use SyncRead, which ensures the
//	node processing the read has applied all committed log entries locally
//	before serving the request. Reads are therefore linearizable regardless
//	of which node handles them.
//
// Change Notifications:
//
//	Watchers are per-replica: pass a store.ChangeHandler to
//	CreateStateMachineFactory and it observes every revision as the replica
//	applies it. SetWatcher on the store client is a no-op.
//
// Error Handling and Retries:
//
//	When Dragonboat returns ErrSystemBusy the operation is retried after a
//	short delay, up to 5 attempts. All operations carry a configurable
//	timeout; if consensus cannot be reached within it, the operation fails
//	with RetCInternalError.
//
// Usage:
//
//	  // Create NodeHost (RAFT client)
//	  nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	  if err != nil { ... }
//
//	  // Create and start shard (RAFT server), wiring local subscriptions
//	  err = nh.StartConcurrentReplica(
//	      clusterMembers,
//	      false,
//	      dstore.CreateStateMachineFactory(subs.OnItemChanged),
//	      shardConfig)
//	  if err != nil { ... }
//
//	  // Create store with appropriate timeout
//	  cache := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// For scenarios where distributed consensus is not required, consider using
// the simpler and faster mstore package, which provides a single-node
// in-memory implementation of the same interface.
package dstore
