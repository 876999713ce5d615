// Package tcp implements TCP socket-based transport for the cluster RPC
// system. It provides concrete implementations of the base package's
// connector interfaces.
//
// This package builds on the base package's transport functionality,
// inheriting its connection handling, frame protocol and retry behavior.
// See the base package documentation for details.
//
// TCP is the transport used between cluster nodes: connections are
// long-lived, carry both forwarded record operations and membership
// traffic, and are tuned for low latency (no delay, keep-alive).
package tcp
