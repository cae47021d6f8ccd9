package transport

import (
	"github.com/alexanderwatt/corecache/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IServerConnection is the handle a server handler receives for the
// connection a request arrived on. Push sends an unsolicited frame to the
// client (the frame carries request ID zero, which clients route to their
// push handler instead of a waiting request). The handle stays valid until
// the close handler fires for its ID.
type IServerConnection interface {
	// ID returns the transport-unique id of this connection
	ID() uint64
	// Push sends an unsolicited server-to-client frame on this connection
	Push(data []byte) error
}

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the connection, a channel id and a request as parameters and returns a response
type ServerHandleFunc func(conn IServerConnection, channel uint64, req []byte) (resp []byte)

// CloseHandleFunc is called by the transport when a connection goes away,
// after all in-flight handlers for it have returned
type CloseHandleFunc func(connID uint64)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The transport layer is responsible for routing the request to the appropriate channel
	RegisterHandler(handler ServerHandleFunc)
	// RegisterCloseHandler registers a handler invoked when a connection closes
	// Servers use this to drop per-connection state such as subscriptions
	RegisterCloseHandler(handler CloseHandleFunc)
	// Listen starts the transport layer and listens for incoming requests
	Listen(config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// PushHandleFunc is called by the client transport for every unsolicited
// server frame (request ID zero). It must not block: long work should be
// handed off so the reader goroutine can keep draining the connection.
type PushHandleFunc func(channel uint64, data []byte)

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(channel uint64, req []byte) (resp []byte, err error)
	// RegisterPushHandler registers the handler for unsolicited server frames
	// Must be called before Connect
	RegisterPushHandler(handler PushHandleFunc)
	// Close closes the transport connection
	Close() error
}
