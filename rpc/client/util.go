package client

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPCItemStore and RPCSubscriptionClient with composition pattern
type rpcClientAdapter struct {
	channel    uint64
	sessionId  uuid.UUID
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// newHeader returns the session header for a fresh request.
func (a *rpcClientAdapter) newHeader() common.SessionHeader {
	return common.NewHeader(a.sessionId)
}

// invokeRPCRequest is a helper function used for all RPC clients to send requests
// It takes a channel id, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks that the response belongs to the request and converts a
// failed CompletionResult back into the typed store error it carries
func invokeRPCRequest(channel uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.Send(channel, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("rpc client: failed to deserialize response: %s", err)
	}

	// Check that the response answers this request. The transport already
	// correlates frames, so a mismatch here means a server-side bug.
	if resp.Header.RequestId != uuid.Nil && resp.Header.RequestId != req.Header.RequestId {
		return nil, fmt.Errorf("rpc client: response for request %s does not match request %s",
			resp.Header.RequestId, req.Header.RequestId)
	}

	// A failed CompletionResult carries the typed store error
	if resp.MsgType == common.MsgTCompletionResult && !resp.Success {
		return nil, resp.ToError()
	}

	// Return the response
	return resp, nil
}

// expectAnswerItems verifies that a response is an AnswerItems message.
func expectAnswerItems(resp *common.Message) (*common.Message, error) {
	if resp.MsgType != common.MsgTAnswerItems {
		return nil, fmt.Errorf("rpc client: unexpected message type: %s, expected %s",
			resp.MsgType, common.MsgTAnswerItems)
	}
	return resp, nil
}

// expectCompletionResult verifies that a response is a CompletionResult message.
func expectCompletionResult(resp *common.Message) (*common.Message, error) {
	if resp.MsgType != common.MsgTCompletionResult {
		return nil, fmt.Errorf("rpc client: unexpected message type: %s, expected %s",
			resp.MsgType, common.MsgTCompletionResult)
	}
	return resp, nil
}
