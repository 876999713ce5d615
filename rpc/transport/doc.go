// Package transport defines the interfaces and abstractions for RPC
// communication in the storage cluster. It provides a common contract that
// all transport implementations must fulfill, enabling protocol-agnostic
// communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Preserving per-connection request order on the server side
//   - Enabling multiple transport implementations (TCP, Unix sockets,
//     WebSocket)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport
//     implementations that handles connection management and request
//     sending.
//
//   - IRPCServerTransport: Interface for server-side transport
//     implementations that receives requests and routes them to the
//     registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
