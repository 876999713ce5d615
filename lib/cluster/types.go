package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/guildkv/guildkv/lib/hashring"
)

// --------------------------------------------------------------------------
// Node State
// --------------------------------------------------------------------------

// NodeState is the membership state of a node as seen by the local manager.
// States only move along the documented transitions: Joining -> Active ->
// Suspected -> Down -> removed; a node that reappears after removal enters
// as Joining again.
type NodeState uint8

const (
	StateJoining NodeState = iota
	StateActive
	StateSuspected
	StateDown
)

// String returns the string representation of a NodeState.
func (s NodeState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateSuspected:
		return "suspected"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the state as its string name.
func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the state from its string name.
func (s *NodeState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "joining":
		*s = StateJoining
	case "active":
		*s = StateActive
	case "suspected":
		*s = StateSuspected
	case "down":
		*s = StateDown
	default:
		return fmt.Errorf("unknown node state: %s", str)
	}
	return nil
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node describes one cluster member.
type Node struct {
	ID            string    `json:"id"`
	Addr          string    `json:"addr"`
	State         NodeState `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// --------------------------------------------------------------------------
// Cluster View
// --------------------------------------------------------------------------

// View is an immutable snapshot of the cluster membership. The manager
// publishes a fresh View on every change; consumers hold a reference and
// may observe a view that is one generation stale, which is fine - the
// invariant is eventual convergence, not atomicity.
type View struct {
	Nodes       []Node `json:"nodes"` // sorted by ID
	RingVersion uint64 `json:"ring_version"`

	// Ring is the hash ring built from this view's non-Down nodes. It is a
	// private clone: lookups never contend with membership mutation.
	Ring *hashring.Ring `json:"-"`
	// Digest identifies this view's membership; it is piggybacked on every
	// heartbeat so peers detect divergence cheaply.
	Digest string `json:"-"`
}

// NodeByID returns the node with the given ID.
func (v *View) NodeByID(id string) (Node, bool) {
	for _, n := range v.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// idSetKey is the canonical serialization of the node-ID set, used as the
// deterministic tie-break when two views carry the same ring version.
func (v *View) idSetKey() string {
	ids := make([]string, 0, len(v.Nodes))
	for _, n := range v.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// computeDigest hashes the ring version plus every node's id and state into
// a short hex token. Any membership or state change changes the digest.
func computeDigest(nodes []Node, ringVersion uint64) string {
	var sb strings.Builder
	sb.WriteString("v")
	sb.WriteString(strconv.FormatUint(ringVersion, 10))
	for _, n := range nodes {
		sb.WriteString("|")
		sb.WriteString(n.ID)
		sb.WriteString("=")
		sb.WriteString(n.State.String())
	}
	return strconv.FormatUint(xxhash.Sum64String(sb.String()), 16)
}

// EncodeView serializes a view for the wire. Ring and digest are local
// artifacts and are rebuilt by the receiver.
func EncodeView(v *View) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeView parses a wire-encoded view.
func DecodeView(data []byte) (*View, error) {
	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].ID < v.Nodes[j].ID })
	v.Digest = computeDigest(v.Nodes, v.RingVersion)
	return &v, nil
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventType classifies membership events delivered to subscribers.
type EventType int

const (
	// NodeJoined - a new member was added to the view.
	NodeJoined EventType = iota
	// NodeLeft - a Down member was removed from the view and the ring.
	NodeLeft
)

// Event is a membership change notification.
type Event struct {
	Type EventType
	Node Node
}

// --------------------------------------------------------------------------
// Heartbeat
// --------------------------------------------------------------------------

// Heartbeat is the payload exchanged between peers on every heartbeat
// round. The digest lets the receiver (and, via the reply, the sender)
// detect that the two membership views have diverged.
type Heartbeat struct {
	SenderID   string
	SenderAddr string
	Digest     string
	Timestamp  time.Time
}

// --------------------------------------------------------------------------
// Peer Gateway
// --------------------------------------------------------------------------

// PeerGateway is the narrow transport interface the manager uses to talk to
// other nodes. The RPC client package provides the production
// implementation; tests substitute an in-memory one.
type PeerGateway interface {
	// Join announces self to a seed node and returns the seed's view.
	Join(addr string, self Node) (*View, error)
	// SendHeartbeat delivers a heartbeat and returns the peer's digest.
	SendHeartbeat(addr string, hb Heartbeat) (remoteDigest string, err error)
	// FetchView retrieves the peer's full cluster view.
	FetchView(addr string) (*View, error)
}
