package server

import (
	"github.com/guildkv/guildkv/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// It is responsible for handling requests and producing responses.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// If an error occurs, it is set in the response message.
	Handle(req *common.Message) (resp *common.Message)
}
