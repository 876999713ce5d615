package hashring

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultVirtualNodes is the number of ring positions each node contributes
// when no explicit count is configured.
const DefaultVirtualNodes = 150

// ErrNoAvailableNode is returned by lookups on an empty ring.
var ErrNoAvailableNode = errors.New("hashring: no available node")

// --------------------------------------------------------------------------
// Ring Entry
// --------------------------------------------------------------------------

// Entry is a single virtual position on the ring.
type Entry struct {
	Position     uint64 // hash position on the ring
	NodeID       string // owning node
	VirtualIndex int    // index of this virtual node, in [0, V)
}

// entryLess orders entries by position, breaking position collisions by
// (NodeID, VirtualIndex) so that the ring layout is fully deterministic.
func entryLess(a, b Entry) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if a.NodeID != b.NodeID {
		return a.NodeID < b.NodeID
	}
	return a.VirtualIndex < b.VirtualIndex
}

// --------------------------------------------------------------------------
// Ring
// --------------------------------------------------------------------------

// Ring maps a key space onto a set of node identifiers using consistent
// hashing with virtual nodes. It is a pure data structure: it performs no
// I/O and no internal locking. Mutating methods must not be called
// concurrently with lookups; publish a Clone instead.
type Ring struct {
	virtualNodes int
	entries      []Entry // sorted by entryLess
	nodes        map[string]struct{}
}

// New creates an empty ring where every node contributes virtualNodes
// positions. A non-positive count falls back to DefaultVirtualNodes.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		nodes:        map[string]struct{}{},
	}
}

// hashPosition computes the ring position of virtual node i of the given
// node. The "<id>:vnode:<i>" construction keeps positions stable across
// process restarts.
func hashPosition(nodeID string, i int) uint64 {
	return xxhash.Sum64String(nodeID + ":vnode:" + strconv.Itoa(i))
}

// hashKey computes the ring position of a key.
func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// AddNode inserts the node's virtual positions into the ring. Adding an
// already present node is a no-op, so the operation is idempotent. Only the
// new node's entries are generated; existing entries are untouched.
func (r *Ring) AddNode(nodeID string) {
	if _, ok := r.nodes[nodeID]; ok {
		return
	}
	r.nodes[nodeID] = struct{}{}

	for i := 0; i < r.virtualNodes; i++ {
		e := Entry{
			Position:     hashPosition(nodeID, i),
			NodeID:       nodeID,
			VirtualIndex: i,
		}
		// insert sorted
		idx := sort.Search(len(r.entries), func(j int) bool {
			return !entryLess(r.entries[j], e)
		})
		r.entries = append(r.entries, Entry{})
		copy(r.entries[idx+1:], r.entries[idx:])
		r.entries[idx] = e
	}
}

// RemoveNode drops all virtual positions of the node. Removing an unknown
// node is a no-op.
func (r *Ring) RemoveNode(nodeID string) {
	if _, ok := r.nodes[nodeID]; !ok {
		return
	}
	delete(r.nodes, nodeID)

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.NodeID != nodeID {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Rebuild resets the ring to exactly the given node set. Nodes already on
// the ring keep their entries; only the delta is applied.
func (r *Ring) Rebuild(nodeIDs []string) {
	want := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = struct{}{}
	}
	for id := range r.nodes {
		if _, ok := want[id]; !ok {
			r.RemoveNode(id)
		}
	}
	for id := range want {
		r.AddNode(id)
	}
}

// Owner returns the node owning the key: the node of the first ring
// position at or after the key's hash, wrapping around at the top of the
// hash space. For a fixed ring this is a pure function of the key.
func (r *Ring) Owner(key string) (string, error) {
	if len(r.entries) == 0 {
		return "", ErrNoAvailableNode
	}
	h := hashKey(key)
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Position >= h
	})
	if idx == len(r.entries) {
		idx = 0
	}
	return r.entries[idx].NodeID, nil
}

// Neighbors returns up to n distinct node IDs starting with the key's owner
// and continuing clockwise. It is the placement primitive for optional
// replica extensions; the router only ever uses the first element.
func (r *Ring) Neighbors(key string, n int) ([]string, error) {
	if len(r.entries) == 0 {
		return nil, ErrNoAvailableNode
	}
	if n > len(r.nodes) {
		n = len(r.nodes)
	}

	h := hashKey(key)
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Position >= h
	})

	out := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < len(r.entries) && len(out) < n; i++ {
		e := r.entries[(idx+i)%len(r.entries)]
		if _, ok := seen[e.NodeID]; ok {
			continue
		}
		seen[e.NodeID] = struct{}{}
		out = append(out, e.NodeID)
	}
	return out, nil
}

// Clone returns a deep copy of the ring. Membership code mutates its
// private copy and publishes clones to lookup paths.
func (r *Ring) Clone() *Ring {
	c := &Ring{
		virtualNodes: r.virtualNodes,
		entries:      make([]Entry, len(r.entries)),
		nodes:        make(map[string]struct{}, len(r.nodes)),
	}
	copy(c.entries, r.entries)
	for id := range r.nodes {
		c.nodes[id] = struct{}{}
	}
	return c
}

// Len returns the number of physical nodes on the ring.
func (r *Ring) Len() int {
	return len(r.nodes)
}

// NodeIDs returns the sorted set of node IDs on the ring.
func (r *Ring) NodeIDs() []string {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// String returns a short human-readable summary, mainly for logs.
func (r *Ring) String() string {
	return fmt.Sprintf("Ring{nodes: %d, entries: %d, vnodes: %d}", len(r.nodes), len(r.entries), r.virtualNodes)
}
