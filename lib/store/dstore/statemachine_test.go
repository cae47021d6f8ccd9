package dstore

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/dstore/internal"
)

// newMachine builds a state machine the way dragonboat would, without a
// running cluster.
func newMachine(t *testing.T, watcher store.ChangeHandler) *ItemStateMachine {
	t.Helper()
	fsm := CreateStateMachineFactory(watcher)(1, 1)
	return fsm.(*ItemStateMachine)
}

// apply runs one serialized command through Update and returns its result.
func apply(t *testing.T, fsm *ItemStateMachine, index uint64, cmd internal.Command) sm.Result {
	t.Helper()
	if cmd.Stamp.IsZero() {
		cmd.Stamp = time.Now()
	}
	data, err := cmd.Serialize()
	require.NoError(t, err)

	entries, err := fsm.Update([]sm.Entry{{Index: index, Cmd: data}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0].Result
}

func saveCmd(name, dataType string, body []byte) internal.Command {
	return internal.Command{
		Type:        internal.CommandTSave,
		Name:        name,
		DataType:    dataType,
		Body:        body,
		ExpectedUsn: store.AnyUsn,
	}
}

func TestStateMachineSaveAndLookup(t *testing.T) {
	fsm := newMachine(t, nil)

	res := apply(t, fsm, 1, saveCmd("Trade.1001", "Trade", []byte("payload")))
	require.Equal(t, uint64(store.RetCSuccess), res.Value)

	var applied internal.ApplyResult
	require.NoError(t, applied.Decode(res.Data))
	assert.Equal(t, uint64(1), applied.Usn)

	got, err := fsm.Lookup(internal.Query{Type: internal.QueryTLoad, Name: "Trade.1001"})
	require.NoError(t, err)
	it := got.(*item.Item)
	assert.Equal(t, "Trade.1001", it.Name)
	assert.Equal(t, []byte("payload"), it.Body)

	// historical revision reachable by id
	byId, err := fsm.Lookup(internal.Query{Type: internal.QueryTLoadById, Id: it.Id})
	require.NoError(t, err)
	assert.Equal(t, it, byId.(*item.Item))
}

func TestStateMachineConcurrencyConflictCode(t *testing.T) {
	fsm := newMachine(t, nil)

	apply(t, fsm, 1, saveCmd("Curve.EUR", "Curve", []byte("v1")))

	cmd := saveCmd("Curve.EUR", "Curve", []byte("v2"))
	cmd.ExpectedUsn = 99
	res := apply(t, fsm, 2, cmd)
	assert.Equal(t, uint64(store.RetCConcurrencyConflict), res.Value)
}

func TestStateMachineDeleteWhere(t *testing.T) {
	fsm := newMachine(t, nil)

	apply(t, fsm, 1, saveCmd("Trade.1", "Trade", []byte("a")))
	apply(t, fsm, 2, saveCmd("Trade.2", "Trade", []byte("b")))
	apply(t, fsm, 3, saveCmd("Curve.1", "Curve", []byte("c")))

	res := apply(t, fsm, 4, internal.Command{
		Type:     internal.CommandTDeleteWhere,
		DataType: "Trade",
		Filter:   `{"op":"all"}`,
	})
	require.Equal(t, uint64(store.RetCSuccess), res.Value)

	var applied internal.ApplyResult
	require.NoError(t, applied.Decode(res.Data))
	assert.Equal(t, 2, applied.Count)

	_, err := fsm.Lookup(internal.Query{Type: internal.QueryTLoad, Name: "Trade.1"})
	assert.True(t, store.IsNotFound(err))

	_, err = fsm.Lookup(internal.Query{Type: internal.QueryTLoad, Name: "Curve.1"})
	assert.NoError(t, err)
}

func TestStateMachineWatcherSeesAppliedRevisions(t *testing.T) {
	var seen atomic.Int32
	fsm := newMachine(t, func(it *item.Item) { seen.Add(1) })

	apply(t, fsm, 1, saveCmd("Trade.1", "Trade", []byte("a")))
	apply(t, fsm, 2, internal.Command{Type: internal.CommandTDelete, Name: "Trade.1"})
	assert.Equal(t, int32(2), seen.Load())
}

// Replicas applying the same log must produce identical revision ids, USNs
// and timestamps.
func TestStateMachineReplicasAgree(t *testing.T) {
	a := newMachine(t, nil)
	b := newMachine(t, nil)

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := []internal.Command{
		{Type: internal.CommandTSave, Stamp: stamp, Name: "Trade.1", DataType: "Trade", Body: []byte("a"), ExpectedUsn: store.AnyUsn},
		{Type: internal.CommandTSave, Stamp: stamp.Add(time.Second), Name: "Trade.2", DataType: "Trade", Body: []byte("b"), ExpectedUsn: store.AnyUsn},
		{Type: internal.CommandTDeleteWhere, Stamp: stamp.Add(2 * time.Second), DataType: "Trade", Filter: `{"op":"all"}`},
	}
	for i, cmd := range log {
		apply(t, a, uint64(i+1), cmd)
		apply(t, b, uint64(i+1), cmd)
	}

	selA, err := a.Lookup(internal.Query{Type: internal.QueryTSelect, Sel: store.Query{IncludeDeleted: true}})
	require.NoError(t, err)
	selB, err := b.Lookup(internal.Query{Type: internal.QueryTSelect, Sel: store.Query{IncludeDeleted: true}})
	require.NoError(t, err)

	revsA := selA.([]*item.Item)
	revsB := selB.([]*item.Item)
	require.Equal(t, len(revsA), len(revsB))
	for i := range revsA {
		assert.Equal(t, revsA[i].Id, revsB[i].Id)
		assert.Equal(t, revsA[i].USN, revsB[i].USN)
		assert.True(t, revsA[i].Created.Equal(revsB[i].Created))
	}
}

func TestStateMachineSnapshotRoundTrip(t *testing.T) {
	a := newMachine(t, nil)
	apply(t, a, 1, saveCmd("Trade.1", "Trade", []byte("a")))
	apply(t, a, 2, saveCmd("Trade.2", "Trade", []byte("b")))

	var buf bytes.Buffer
	require.NoError(t, a.SaveSnapshot(nil, &buf, nil, nil))

	b := newMachine(t, nil)
	require.NoError(t, b.RecoverFromSnapshot(&buf, nil, nil))

	got, err := b.Lookup(internal.Query{Type: internal.QueryTLoad, Name: "Trade.2"})
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got.(*item.Item).Body)

	// USN counter restored, next save continues the sequence
	res := apply(t, b, 3, saveCmd("Trade.3", "Trade", []byte("c")))
	var applied internal.ApplyResult
	require.NoError(t, applied.Decode(res.Data))
	assert.Equal(t, uint64(3), applied.Usn)
}
