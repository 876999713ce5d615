// Package hashring implements the consistent-hash ring that assigns every
// guild key to exactly one owning node.
//
// Keys and nodes are mapped onto the same 64-bit circular hash space
// (xxhash); a key is owned by the first node position clockwise from the
// key's hash. Each physical node contributes a fixed number of virtual
// positions to smooth the load distribution, so removing one node from an
// N-node ring remaps only about 1/N of all keys instead of reshuffling
// everything, which is the property the cluster's cache and routing layers
// depend on.
//
// The ring is deliberately free of locks and I/O. The membership manager
// owns a private ring, applies node deltas to it, and publishes immutable
// clones inside cluster view snapshots; lookups therefore never contend
// with membership changes.
package hashring
