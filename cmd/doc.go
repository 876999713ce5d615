// Package cmd implements the command-line interface for the guildKV
// distributed key-value store. It provides a hierarchical command structure
// with operations for running a storage node and interacting with a cluster
// as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for record operations (get, put, del, ping, perf)
//   - serve: Commands for starting and configuring a guildKV node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See guildkv -help for a list of all commands.
package cmd
