// Package server implements the RPC server of a storage node. It wires the
// persistent record store, the replica cache, the membership manager and
// the request router behind a message transport, and exposes health and
// metrics over a separate HTTP listener.
//
// The package focuses on:
//   - Server-side handling of the record API (get, put, delete, ping)
//   - Server-side handling of membership traffic (join, heartbeat, view
//     exchange, cache invalidation)
//   - Adapter pattern to decouple application logic from RPC mechanisms
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes one decoded message.
//
//   - NewRecordsServerAdapter: Factory function creating the adapter for
//     record operations, translating RPC requests to router calls.
//
//   - NewClusterServerAdapter: Factory function creating the adapter for
//     node-to-node membership operations.
//
//   - NewRPCServer: Factory function creating a configured node server with
//     the specified transport and serializer.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeID:        "node-a",
//	  Endpoint:      "0.0.0.0:4000",
//	  AdvertiseAddr: "10.0.0.1:4000",
//	  DataDir:       "/var/lib/guildkv",
//	  CacheTTL:      time.Minute,
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	The server implementation is thread-safe and handles concurrent
//	requests across multiple connections; requests sharing one connection
//	are processed in arrival order. The Serve method is not thread-safe
//	and should be called only once.
package server
