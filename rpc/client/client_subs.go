package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

// NotifyHandler receives the items of one subscription delivery. Handlers
// are called from the transport's reader goroutine and must not block.
type NotifyHandler func(subscriptionId uuid.UUID, items []*item.Item)

// ISubscriptionClient manages leased subscriptions on a remote cache server
// and dispatches their deliveries to per-subscription handlers.
type ISubscriptionClient interface {
	// Subscribe creates a subscription and returns its client-generated id.
	// Deliveries arrive on the handler until the lease expires or Cancel is
	// called.
	Subscribe(dataType string, filter expr.IExpression, expiry time.Time, handler NotifyHandler) (uuid.UUID, error)
	// Extend renews the lease of a subscription.
	Extend(subscriptionId uuid.UUID, expiry time.Time) error
	// Cancel removes a subscription on the server and stops dispatching.
	Cancel(subscriptionId uuid.UUID) error
	// Close cancels all subscriptions and closes the transport.
	Close() error
}

// NewRPCSubscriptionClient creates a subscription client. The transport must
// not be connected yet: the client registers its push handler first, then
// connects.
func NewRPCSubscriptionClient(
	channel uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (ISubscriptionClient, error) {

	c := &rpcSubscriptionClient{
		rpcClientAdapter: rpcClientAdapter{
			channel:    channel,
			sessionId:  uuid.New(),
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		handlers: make(map[uuid.UUID]NotifyHandler),
	}

	// Route unsolicited frames before any can arrive
	transport.RegisterPushHandler(c.onPush)

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return c, nil
}

type rpcSubscriptionClient struct {
	rpcClientAdapter

	mu       sync.RWMutex
	handlers map[uuid.UUID]NotifyHandler
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ISubscriptionClient)
// --------------------------------------------------------------------------

func (c *rpcSubscriptionClient) Subscribe(dataType string, filter expr.IExpression, expiry time.Time, handler NotifyHandler) (uuid.UUID, error) {
	subId := uuid.New()

	// Register the handler before the server can start pushing
	c.mu.Lock()
	c.handlers[subId] = handler
	c.mu.Unlock()

	msg := common.NewCreateSubscriptionRequest(c.newHeader(), subId, dataType, filter, expiry)
	resp, err := invokeRPCRequest(c.channel, msg, c.transport, c.serializer)
	if err == nil {
		_, err = expectCompletionResult(resp)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.handlers, subId)
		c.mu.Unlock()
		return uuid.Nil, err
	}

	return subId, nil
}

func (c *rpcSubscriptionClient) Extend(subscriptionId uuid.UUID, expiry time.Time) error {
	msg := common.NewExtendSubscriptionRequest(c.newHeader(), subscriptionId, expiry)
	resp, err := invokeRPCRequest(c.channel, msg, c.transport, c.serializer)
	if err == nil {
		_, err = expectCompletionResult(resp)
	}
	return err
}

func (c *rpcSubscriptionClient) Cancel(subscriptionId uuid.UUID) error {
	c.mu.Lock()
	delete(c.handlers, subscriptionId)
	c.mu.Unlock()

	msg := common.NewCancelSubscriptionRequest(c.newHeader(), subscriptionId)
	resp, err := invokeRPCRequest(c.channel, msg, c.transport, c.serializer)
	if err == nil {
		_, err = expectCompletionResult(resp)
	}
	return err
}

func (c *rpcSubscriptionClient) Close() error {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	c.handlers = make(map[uuid.UUID]NotifyHandler)
	c.mu.Unlock()

	for _, id := range ids {
		msg := common.NewCancelSubscriptionRequest(c.newHeader(), id)
		if _, err := invokeRPCRequest(c.channel, msg, c.transport, c.serializer); err != nil {
			Logger.Debugf("Failed to cancel subscription %s on close: %v", id, err)
		}
	}

	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// onPush dispatches one unsolicited frame to the handler of the
// subscription it belongs to. Deliveries for unknown subscriptions are
// dropped: they race with Cancel and with lease expiry.
func (c *rpcSubscriptionClient) onPush(_ uint64, data []byte) {
	var msg common.Message
	if err := c.serializer.Deserialize(data, &msg); err != nil {
		Logger.Warningf("Failed to deserialize pushed frame: %v", err)
		return
	}

	if msg.MsgType != common.MsgTNotifyItems {
		Logger.Warningf("Dropping pushed frame of unexpected type %s", msg.MsgType)
		return
	}

	c.mu.RLock()
	handler, ok := c.handlers[msg.SubscriptionId]
	c.mu.RUnlock()

	if !ok {
		Logger.Debugf("Dropping delivery for unknown subscription %s", msg.SubscriptionId)
		return
	}

	handler(msg.SubscriptionId, msg.Items)
}
