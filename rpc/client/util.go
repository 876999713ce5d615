package client

import (
	"fmt"

	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/serializer"
	"github.com/guildkv/guildkv/rpc/transport"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed for an RPC client implementation.
// Used by Cluster and PeerPool with the composition pattern.
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used by all RPC clients to send
// requests. It serializes the request, sends it over the transport,
// deserializes the response, and turns error responses back into typed
// errors. It also checks that the response type matches the request type.
func invokeRPCRequest(req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc client - failed to decode response: %v", err)
	}

	// Error responses carry a stable kind that survives the wire
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, resp.Error()
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("rpc client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// recordFromMessage rebuilds a record from the response fields
func recordFromMessage(msg *common.Message) store.Record {
	return store.Record{
		GuildID: msg.GuildID,
		Payload: msg.Payload,
		Version: msg.Version,
		Owner:   msg.Sender,
	}
}
