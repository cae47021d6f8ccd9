package client

import (
	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

// NewRPCItemStore creates a store.IItemStore backed by a remote cache server
// The function takes a channel id, a config, a transport and a serializer as parameters
// It returns a store.IItemStore and an error
func NewRPCItemStore(
	channel uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IItemStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC store
	s := rpcItemStore{
		rpcClientAdapter{
			channel:    channel,
			sessionId:  uuid.New(),
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Return the RPC store
	return &s, nil
}

type rpcItemStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcItemStore) Save(req store.SaveRequest) (uint64, error) {
	msg := common.NewSaveItemRequest(i.newHeader(), req)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return 0, err
	}
	if resp, err = expectCompletionResult(resp); err != nil {
		return 0, err
	}
	return resp.Usn, nil
}

func (i *rpcItemStore) Load(name string) (*item.Item, error) {
	msg := common.NewLoadItemRequest(i.newHeader(), name)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return nil, err
	}
	if resp, err = expectAnswerItems(resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, store.NewError(store.RetCNotFound, "item not found: "+name)
	}
	return resp.Items[0], nil
}

func (i *rpcItemStore) LoadById(id uuid.UUID) (*item.Item, error) {
	msg := common.NewLoadByIdRequest(i.newHeader(), id)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return nil, err
	}
	if resp, err = expectAnswerItems(resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, store.NewError(store.RetCNotFound, "item revision not found: "+id.String())
	}
	return resp.Items[0], nil
}

func (i *rpcItemStore) Select(q store.Query) ([]*item.Item, error) {
	msg := common.NewSelectItemsRequest(i.newHeader(), q)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return nil, err
	}
	if resp, err = expectAnswerItems(resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (i *rpcItemStore) Delete(name string) (uint64, error) {
	msg := common.NewDeleteItemRequest(i.newHeader(), name)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return 0, err
	}
	if resp, err = expectCompletionResult(resp); err != nil {
		return 0, err
	}
	return resp.Usn, nil
}

func (i *rpcItemStore) DeleteWhere(dataType string, filter expr.IExpression) (int, error) {
	msg := common.NewDeleteWhereRequest(i.newHeader(), dataType, filter)
	resp, err := invokeRPCRequest(i.channel, msg, i.transport, i.serializer)
	if err != nil {
		return 0, err
	}
	if resp, err = expectCompletionResult(resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SetWatcher is not implemented for the RPC client: remote change streams
// are observed through subscriptions instead.
func (i *rpcItemStore) SetWatcher(_ store.ChangeHandler) {
	Logger.Warningf("SetWatcher has no effect on an RPC item store, use a subscription instead")
}
