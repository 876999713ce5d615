// Package router implements the ownership-aware request path of a storage
// node. Every read and write is resolved against the current hash ring:
// keys this node owns hit the persistent store, keys owned elsewhere are
// forwarded to the owner over RPC. Remote reads go through the local
// replica cache first; when the owner is unreachable an unexpired replica
// is served flagged as stale, and writes are rejected rather than landed on
// the wrong node.
package router
