// Package bstore implements the record store on top of bbolt. One database
// file per node, reopened under the same node ID across restarts. Writes go
// through bbolt update transactions, reads through snapshot-isolated view
// transactions; consecutive I/O failures flip the health probe so the node
// drops out of the load balancer until storage recovers.
package bstore
