package server

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/subs"
	"github.com/alexanderwatt/corecache/rpc/common"
)

// NewSubscriptionServerAdapter creates the adapter that maps subscription
// messages onto an ISubscriptionManager. Deliveries for a subscription are
// pushed back over the connection that created it.
func NewSubscriptionServerAdapter() IRPCServerAdapter {
	return &subscriptionServerAdapterImpl{}
}

type subscriptionServerAdapterImpl struct{}

func (adapter *subscriptionServerAdapterImpl) Handle(req *common.Message, ctx AdapterContext) *common.Message {
	// Check for nil manager
	if ctx.Subs == nil {
		return common.NewCompletionResult(req.Header, 0, 0,
			store.NewError(store.RetCInternalError, "handler: subscription manager is nil"))
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTCreateSubscription:
		filter, err := expr.Parse(req.Filter)
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0,
				store.NewError(store.RetCInvalidFilter, err.Error()))
		}

		sessionId := req.Header.SessionId
		push := ctx.Push

		// The sink runs on the subscription's pump goroutine. A failed
		// push means the connection is gone; the close handler will
		// cancel the subscription shortly after.
		sink := func(subId uuid.UUID, it *item.Item) {
			msg := common.NewNotifyItems(sessionId, subId, []*item.Item{it})
			if err := push(msg); err != nil {
				Logger.Debugf("Dropping delivery for subscription %s: %v", subId, err)
			}
		}

		err = ctx.Subs.Create(subs.Subscription{
			Id:        req.SubscriptionId,
			SessionId: sessionId,
			DataType:  req.DataType,
			Filter:    filter,
			Expiry:    req.Expiry,
		}, sink)
		return common.NewCompletionResult(req.Header, 0, 0, err)

	case common.MsgTExtendSubscription:
		err := ctx.Subs.Extend(req.SubscriptionId, req.Expiry)
		return common.NewCompletionResult(req.Header, 0, 0, err)

	case common.MsgTCancelSubscription:
		err := ctx.Subs.Cancel(req.SubscriptionId)
		return common.NewCompletionResult(req.Header, 0, 0, err)

	default:
		return common.NewCompletionResult(req.Header, 0, 0, store.NewError(
			store.RetCInternalError,
			fmt.Sprintf("subscription adapter: unsupported message type: %s", req.MsgType),
		))
	}
}
