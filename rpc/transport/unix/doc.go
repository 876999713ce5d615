// Package unix implements Unix domain socket transport for the cluster RPC
// system. It provides concrete implementations of the base package's
// connector interfaces.
//
// Unix sockets avoid the TCP/IP stack entirely and suit deployments where
// a client runs on the same host as a storage node, e.g. a bot process
// colocated with its local node. The server removes a stale socket file
// before binding.
package unix
