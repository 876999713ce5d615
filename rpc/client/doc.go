// Package client provides the client-side access to the storage cluster's
// RPC API.
//
// Key Components:
//
//   - Cluster: typed client for the record API (Get, Put, Delete, Ping).
//     Any node can serve as the entry point; requests for guilds it does
//     not own are forwarded inside the cluster.
//
//   - PeerPool: node-to-node client used inside a storage node. It keeps
//     one lazily dialed transport per peer address and implements both the
//     membership gateway used by the cluster manager and the forwarder used
//     by the request router, so both share connections.
//
// All clients work over any transport implementation (tcp, unix, ws) and
// any serializer (json, gob, binary); both are injected at construction.
package client
