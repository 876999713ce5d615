package store

import "fmt"

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is one logical guild record. A record is created and updated only
// on its owning node; every successful write bumps Version, which lets
// readers of cached copies reason about staleness.
type Record struct {
	GuildID string `json:"guild_id"`
	Payload []byte `json:"payload"`
	Version uint64 `json:"version"`
	Owner   string `json:"owner"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IRecordStore is the durable per-node storage of owned records. It has no
// knowledge of cluster topology: which records land here is decided by the
// router, the store only persists them. Implementations must survive a
// process restart under the same node ID and must serialize concurrent
// writes to the same guild.
type IRecordStore interface {
	// Put inserts or updates the record for a guild and returns the stored
	// record including its newly assigned version.
	Put(guildID string, payload []byte, owner string) (Record, error)
	// Get returns the record for a guild. The boolean reports whether the
	// guild exists.
	Get(guildID string) (Record, bool, error)
	// Delete removes the record for a guild. Deleting an absent guild is
	// not an error.
	Delete(guildID string) error
	// Healthy reports nil while the underlying storage is serving requests.
	// A persistently failing store returns an error here, which marks the
	// node unhealthy on the liveness endpoint.
	Healthy() error
	// Close releases the underlying storage.
	Close() error
}

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// ErrKind is the machine-readable classification of an error. The kinds are
// stable: they cross the wire as the errorKind field of a response, and
// clients pick their retry behavior based on them.
type ErrKind string

const (
	// KindNoAvailableNode - the ring is empty; every routing attempt fails.
	KindNoAvailableNode ErrKind = "no_available_node"
	// KindOwnerUnavailable - the key's owner is unreachable, suspected or
	// down. Recoverable: clients retry with backoff.
	KindOwnerUnavailable ErrKind = "owner_unavailable"
	// KindMalformedRequest - the request could not be decoded or misses
	// required fields. Never affects cluster state.
	KindMalformedRequest ErrKind = "malformed_request"
	// KindPersistenceFailure - local store I/O failed; fatal to the
	// operation.
	KindPersistenceFailure ErrKind = "persistence_failure"
	// KindMembershipConflict - concurrent joins raced; resolved internally
	// by the deterministic view merge, never surfaced to clients.
	KindMembershipConflict ErrKind = "membership_conflict"
	// KindInternal - anything that does not fit the kinds above.
	KindInternal ErrKind = "internal"
)

// Error is the typed error used across the store, cluster and router
// layers. It wraps a stable kind plus a human-readable message.
type Error struct {
	Kind ErrKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError creates a new typed error.
func NewError(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of an error, returning KindInternal for plain
// errors and the empty kind for nil.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
