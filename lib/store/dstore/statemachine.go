package dstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sm "github.com/lni/dragonboat/v4/statemachine"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/dstore/internal"
	"github.com/alexanderwatt/corecache/lib/store/mstore"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// idNamespace seeds the deterministic revision id generator. Ids are derived
// from (shard, entry index, sequence) so every replica assigns the same id
// to the same revision.
var idNamespace = uuid.MustParse("7f1c41a5-9c2e-4a8d-b7e3-2d5f8a0c6b94")

// ItemStateMachine adapts the in-memory item store to the Dragonboat RAFT
// runtime. Writes arrive as serialized Commands via Update, reads as Query
// structs via Lookup.
type ItemStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    store.IItemStore

	// applyStamp holds the timestamp of the command currently being applied
	// (unix nanos). The engine's clock reads it so revision timestamps are
	// replicated, not local.
	applyStamp atomic.Int64

	// id generator state, only touched from Update (single writer)
	idIndex uint64
	idSeq   uint64
}

// CreateStateMachineFactory returns a function used by dragonboat to create a
// new state machine per node host. The optional watcher receives every
// committed revision on this replica, which is how local subscriptions see
// changes agreed through consensus.
func CreateStateMachineFactory(watcher store.ChangeHandler) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		fsm := &ItemStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
		}
		fsm.engine = mstore.NewMemoryStore(&mstore.Options{
			Clock: fsm.applyTime,
			Ids:   fsm.nextId,
		})
		if watcher != nil {
			fsm.engine.SetWatcher(watcher)
		}
		return fsm
	}
}

// applyTime is the engine clock. During Update it returns the proposer's
// stamp; before the first command it falls back to the local clock, which
// only affects expiry evaluation on reads.
func (fsm *ItemStateMachine) applyTime() time.Time {
	ns := fsm.applyStamp.Load()
	if ns == 0 {
		return time.Now()
	}
	return time.Unix(0, ns)
}

// nextId derives a v5 uuid from (shard, raft index, sequence). A single
// command may consume several ids (DeleteWhere tombstones), hence the
// sequence counter.
func (fsm *ItemStateMachine) nextId() uuid.UUID {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], fsm.shardID)
	binary.BigEndian.PutUint64(buf[8:16], fsm.idIndex)
	binary.BigEndian.PutUint64(buf[16:24], fsm.idSeq)
	fsm.idSeq++
	return uuid.NewSHA1(idNamespace, buf[:])
}

// Lookup handles read-only queries by mapping each Query operation to the
// corresponding item store method.
func (fsm *ItemStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTLoad:
		return fsm.engine.Load(q.Name)
	case internal.QueryTLoadById:
		return fsm.engine.LoadById(q.Id)
	case internal.QueryTSelect:
		return fsm.engine.Select(q.Sel)
	default:
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands on the item store. All write operations are
// serialized into []byte and are accessible via the entries struct.
func (fsm *ItemStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}

		fsm.applyStamp.Store(cmd.Stamp.UnixNano())
		fsm.idIndex = e.Index
		fsm.idSeq = 0

		switch cmd.Type {
		case internal.CommandTSave:
			usn, err := fsm.engine.Save(store.SaveRequest{
				Name:        cmd.Name,
				Kind:        cmd.Kind,
				DataType:    cmd.DataType,
				AppScope:    cmd.AppScope,
				Props:       cmd.Props,
				Body:        cmd.Body,
				ExpectedUsn: cmd.ExpectedUsn,
				Expires:     cmd.Expires,
			})
			entries[idx].Result = resultOf(&internal.ApplyResult{Usn: usn}, err)
		case internal.CommandTDelete:
			usn, err := fsm.engine.Delete(cmd.Name)
			entries[idx].Result = resultOf(&internal.ApplyResult{Usn: usn}, err)
		case internal.CommandTDeleteWhere:
			filter, err := expr.Parse(cmd.Filter)
			if err != nil {
				entries[idx].Result = resultOf(nil, err)
				continue
			}
			count, err := fsm.engine.DeleteWhere(cmd.DataType, filter)
			entries[idx].Result = resultOf(&internal.ApplyResult{Count: count}, err)
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInternalError),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms",
			len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// resultOf packs an operation outcome into a raft entry result: the return
// code in Value, the encoded ApplyResult (or the error message) in Data.
func resultOf(res *internal.ApplyResult, err error) sm.Result {
	if err != nil {
		return sm.Result{Value: uint64(store.CodeOf(err)), Data: []byte(err.Error())}
	}
	return sm.Result{Value: uint64(store.RetCSuccess), Data: res.Encode()}
}

// PrepareSnapshot is not used. We don't need to prepare anything since the
// engine serializes a consistent view under its own lock.
func (fsm *ItemStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes the engine's full revision log to the writer.
func (fsm *ItemStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	snap, ok := fsm.engine.(store.ISnapshotter)
	if !ok {
		return fmt.Errorf("the item store implementation does not support snapshots")
	}
	return snap.SaveSnapshot(writer)
}

// RecoverFromSnapshot rebuilds the engine from a snapshot stream.
func (fsm *ItemStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	snap, ok := fsm.engine.(store.ISnapshotter)
	if !ok {
		return fmt.Errorf("the item store implementation does not support snapshots")
	}
	return snap.LoadSnapshot(r)
}

// Close performs any necessary cleanup.
func (fsm *ItemStateMachine) Close() error {
	return nil
}
