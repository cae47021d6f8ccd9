package server

import (
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/subs"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

// AdapterContext carries everything an adapter needs to handle one request:
// the store and subscription manager of the channel the request arrived on,
// the connection handle, and a Push callback that serializes a message and
// sends it as an unsolicited frame on that connection.
type AdapterContext struct {
	Store store.IItemStore
	Subs  subs.ISubscriptionManager
	Conn  transport.IServerConnection
	Push  func(msg *common.Message) error
}

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and the adapter context as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message, ctx AdapterContext) (resp *common.Message)
}
