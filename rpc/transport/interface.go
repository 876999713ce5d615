package transport

import (
	"github.com/guildkv/guildkv/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// This function is called by a server transport layer when a request is
// received. It takes the raw request bytes and returns the raw response.
type ServerHandleFunc func(req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC server transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called once per received request. Requests arriving
	// on the same connection are dispatched sequentially so their responses
	// are produced in arrival order; separate connections proceed
	// concurrently.
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks serving requests until
	// Close is called or the listener fails
	Listen(config common.ServerConfig) error
	// Close stops the listener and releases its resources
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
