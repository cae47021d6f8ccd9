package server

import (
	"fmt"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/common"
)

// NewItemStoreServerAdapter creates the adapter that maps item store
// messages onto an IItemStore.
func NewItemStoreServerAdapter() IRPCServerAdapter {
	return &itemStoreServerAdapterImpl{}
}

type itemStoreServerAdapterImpl struct{}

func (adapter *itemStoreServerAdapterImpl) Handle(req *common.Message, ctx AdapterContext) *common.Message {
	// Check for nil store
	if ctx.Store == nil {
		return common.NewCompletionResult(req.Header, 0, 0,
			store.NewError(store.RetCInternalError, "handler: store is nil"))
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTSaveItem:
		usn, err := ctx.Store.Save(req.ToSaveRequest())
		return common.NewCompletionResult(req.Header, usn, 0, err)

	case common.MsgTLoadItem:
		it, err := ctx.Store.Load(req.ItemName)
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0, err)
		}
		return common.NewAnswerItems(req.Header, []*item.Item{it}, false)

	case common.MsgTLoadById:
		it, err := ctx.Store.LoadById(req.ItemId)
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0, err)
		}
		return common.NewAnswerItems(req.Header, []*item.Item{it}, false)

	case common.MsgTSelectItems:
		q, err := req.ToQuery()
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0,
				store.NewError(store.RetCInvalidFilter, err.Error()))
		}
		items, err := ctx.Store.Select(q)
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0, err)
		}
		return common.NewAnswerItems(req.Header, items, false)

	case common.MsgTDeleteItem:
		usn, err := ctx.Store.Delete(req.ItemName)
		return common.NewCompletionResult(req.Header, usn, 0, err)

	case common.MsgTDeleteWhere:
		q, err := req.ToQuery()
		if err != nil {
			return common.NewCompletionResult(req.Header, 0, 0,
				store.NewError(store.RetCInvalidFilter, err.Error()))
		}
		count, err := ctx.Store.DeleteWhere(req.DataType, q.Filter)
		return common.NewCompletionResult(req.Header, 0, count, err)

	default:
		return common.NewCompletionResult(req.Header, 0, 0, store.NewError(
			store.RetCInternalError,
			fmt.Sprintf("item store adapter: unsupported message type: %s", req.MsgType),
		))
	}
}
