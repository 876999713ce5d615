// Package serializer provides message serialization for the cluster RPC
// system. It defines a common interface and multiple implementations for
// serializing and deserializing messages between nodes and clients.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations
//     must satisfy.
//
//   - binarySerializerImpl: Custom binary format optimized for speed and
//     space efficiency. A 16-bit flags word encodes which optional fields
//     are present (boolean fields are carried in the flags themselves), so
//     serialized messages contain only the fields they use.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or
//     interoperability with non-Go clients, at lower performance.
//
//   - gobSerializerImpl: Go's gob encoding, kept for compatibility with Go
//     tooling; larger payloads than the binary format.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent
//	use across multiple goroutines without additional synchronization.
package serializer
