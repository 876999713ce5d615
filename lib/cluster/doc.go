// Package cluster implements gossip-style membership for the storage tier.
//
// Every node heartbeats every other known member on a fixed interval and
// piggybacks a digest of its cluster view. Digest mismatches trigger a full
// view exchange; the merge rule (highest ring version wins, ties broken by
// the lexicographically greatest node-ID set) is deterministic, so diverged
// nodes converge without coordination. Failure detection is timeout based:
// a silent peer moves Active -> Suspected -> Down and is then evicted from
// the hash ring by the periodic rebuild, which bumps the ring version.
//
// Membership is exposed as immutable View snapshots published through an
// atomic pointer, so the request path reads the ring without locking.
package cluster
