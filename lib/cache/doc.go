// Package cache implements the per-node replica cache: ephemeral,
// time-bounded copies of records whose owner is another node.
//
// Entries appear only as a side effect of the router forwarding a read to a
// remote owner and caching the returned record, never on writes - a write
// always goes to the owner and deliberately does not warm the cache, which
// trades hit rate for a smaller inconsistency window right after a write.
// A background sweeper removes expired entries on a timer that is
// independent of request traffic.
//
// Lookups return a tagged Result (Fresh, Stale, Miss) instead of a boolean
// so that the router makes explicit staleness decisions.
package cache
