package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/dstore/internal"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the replicated item store. It encapsulates a Dragonboat
// NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed item store instance which
// uses raft consensus to ensure strict linearizability across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IItemStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose. On success it
// returns the decoded ApplyResult, otherwise a *store.Error carrying the
// state machine's return code.
func (s *storeImpl) write(cmd internal.Command) (internal.ApplyResult, error) {
	var zero internal.ApplyResult

	cmd.Stamp = time.Now()
	data, err := cmd.Serialize()
	if err != nil {
		return zero, store.NewError(store.RetCInternalError, err.Error())
	}

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return zero, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		var applied internal.ApplyResult
		if err := applied.Decode(res.Data); err != nil {
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}
		return applied, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper that queries the state machine via SyncRead and
// attempts to convert the response into the expected type R.
//
// If the read operation fails due to a system busy error, the function
// retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		res, err := r.nh.SyncRead(ctx, r.shardID, q)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the
		// expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Save(req store.SaveRequest) (uint64, error) {
	res, err := s.write(internal.Command{
		Type:        internal.CommandTSave,
		Name:        req.Name,
		Kind:        req.Kind,
		DataType:    req.DataType,
		AppScope:    req.AppScope,
		Props:       req.Props,
		Body:        req.Body,
		ExpectedUsn: req.ExpectedUsn,
		Expires:     req.Expires,
	})
	if err != nil {
		return 0, err
	}
	return res.Usn, nil
}

func (s *storeImpl) Load(name string) (*item.Item, error) {
	return read[*item.Item](s, internal.Query{
		Type: internal.QueryTLoad,
		Name: name,
	})
}

func (s *storeImpl) LoadById(id uuid.UUID) (*item.Item, error) {
	return read[*item.Item](s, internal.Query{
		Type: internal.QueryTLoadById,
		Id:   id,
	})
}

func (s *storeImpl) Select(q store.Query) ([]*item.Item, error) {
	return read[[]*item.Item](s, internal.Query{
		Type: internal.QueryTSelect,
		Sel:  q,
	})
}

func (s *storeImpl) Delete(name string) (uint64, error) {
	res, err := s.write(internal.Command{
		Type: internal.CommandTDelete,
		Name: name,
	})
	if err != nil {
		return 0, err
	}
	return res.Usn, nil
}

func (s *storeImpl) DeleteWhere(dataType string, filter expr.IExpression) (int, error) {
	if filter == nil {
		filter = expr.All()
	}
	res, err := s.write(internal.Command{
		Type:     internal.CommandTDeleteWhere,
		DataType: dataType,
		Filter:   expr.Serialise(filter),
	})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// SetWatcher is a no-op on the replicated store. Change notifications are
// per-replica: pass the watcher to CreateStateMachineFactory so it observes
// commands as they are applied locally.
func (s *storeImpl) SetWatcher(_ store.ChangeHandler) {
	log.Warningf("SetWatcher called on distributed store, watchers attach via the state machine factory")
}
