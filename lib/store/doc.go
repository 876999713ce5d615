// Package store defines the durable record storage used by every cluster
// node, together with the typed error taxonomy shared across the system.
//
// The package focuses on:
//   - The Record type: the unit of guild data the cluster partitions
//   - The IRecordStore interface for per-node persistent storage
//   - A structured error system with stable, wire-safe error kinds
//
// The only shipped implementation is the bbolt-backed store in the
// "github.com/guildkv/guildkv/lib/store/bstore" package. The store is
// deliberately topology-blind: ownership of a guild is resolved by the
// hash ring and enforced by the request router, and the store persists
// whatever the router decides belongs to this node.
package store
