// Package ws implements WebSocket transport for the cluster RPC system.
//
// It does not build on the base stream transport: WebSocket already frames
// messages, so a request is a single binary message consisting of an 8-byte
// big-endian request ID followed by the serialized payload, and the
// response echoes the same ID. The server serves connections on the /rpc
// HTTP path and processes each connection's messages in arrival order.
//
// This transport exists for clients that cannot speak raw TCP, e.g.
// programs behind HTTP-only ingress.
package ws
