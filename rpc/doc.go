// Package rpc provides the remote procedure call framework of the storage
// cluster. It acts as the communication layer both between clients and
// nodes and between the nodes themselves.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the RPC system, including
//     the Message protocol and the configuration structures.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, WebSocket).
//
//   - serializer: Message serialization with multiple format options
//     (Binary, JSON, GOB) for converting between Message objects and byte
//     arrays.
//
//   - client: The typed record API client and the peer pool used for
//     node-to-node traffic.
//
//   - server: The storage node server, including the adapters for record
//     and membership operations and the HTTP health endpoint.
package rpc
