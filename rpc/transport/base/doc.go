// Package base provides a foundation for transport layers of the storage
// cluster, implementing core functionality for RPC communication
// independent of the specific network protocol (TCP, Unix sockets). It
// serves as a base layer that is extended with protocol-specific
// connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - A frame-based message protocol with requestID correlation
//   - Per-connection sequential dispatch on the server, preserving the
//     arrival order of requests sharing a connection
//   - Retries with exponential backoff and automatic reconnection on the
//     client
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations that allow extending the base transport with different
//     network protocols.
//
//   - clientTransport: Core client implementation that manages multiple
//     connections with round-robin load balancing. Supports multiple
//     connections per endpoint for improved throughput.
//
//   - serverTransport: Core server implementation that accepts connections
//     and processes each connection's requests strictly in order. Clients
//     that need request pipelining open multiple connections.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client transport uses atomic
//	operations and mutexes to ensure concurrent access safety, while the
//	server creates a dedicated goroutine per connection.
package base
