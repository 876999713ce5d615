// Package common provides the data structures shared across the RPC layer
// of the storage cluster. It defines the message protocol, its type
// enumeration and the configuration structures used by client and server.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication, used for both
//     requests and responses, with a flexible structure that adapts to
//     record operations (get/put/delete/ping) and membership operations
//     (join/heartbeat/view exchange/cache invalidation). Includes factory
//     methods for every request and response shape.
//
//   - MessageType: Enumeration defining all supported operations, with a
//     stable string form used by the JSON serializer.
//
//   - ServerConfig: Configuration for storage nodes: identity, bind and
//     advertise addresses, seed list, storage and cache parameters,
//     membership timing and transport selection.
//
//   - ClientConfig: Configuration for clients, controlling connection
//     parameters, timeouts and retry behavior.
package common
