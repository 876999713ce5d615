package router

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/guildkv/guildkv/lib/cache"
	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/lib/store"
)

var log = logger.GetLogger("router")

var (
	metricLocalOps        = metrics.NewCounter("guildkv_router_local_ops_total")
	metricForwards        = metrics.NewCounter("guildkv_router_forwards_total")
	metricStaleReads      = metrics.NewCounter("guildkv_router_stale_reads_total")
	metricOwnerUnavail    = metrics.NewCounter("guildkv_router_owner_unavailable_total")
	metricRoutingConflict = metrics.NewCounter("guildkv_router_conflicts_total")
)

// MaxHops is the forwarding budget of a request. One hop suffices when the
// sender's view is current; a second forward means the two views disagree
// about ownership and the request is rejected instead of bounced around.
const MaxHops = 1

// --------------------------------------------------------------------------
// Interfaces
// --------------------------------------------------------------------------

// ViewProvider yields the current cluster view. Satisfied by
// *cluster.Manager.
type ViewProvider interface {
	View() *cluster.View
}

// Forwarder sends record operations to a peer by address. The RPC client
// package provides the production implementation.
type Forwarder interface {
	ForwardGet(addr, guildID string, hops int) (store.Record, bool, error)
	ForwardPut(addr, guildID string, payload []byte, hops int) (store.Record, error)
	ForwardDelete(addr, guildID string, hops int) error
	// Invalidate asks a peer to drop its cached replica of a guild record.
	Invalidate(addr, guildID string) error
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// GetResult is the outcome of a read.
type GetResult struct {
	Record store.Record
	Found  bool
	// Stale marks a read served from the local replica cache while the
	// owning node was unreachable.
	Stale bool
}

// Router decides for every operation whether this node owns the guild key
// and either serves it from the local store or forwards it to the owner.
type Router struct {
	nodeID string
	views  ViewProvider
	store  store.IRecordStore
	cache  *cache.Cache
	fwd    Forwarder
}

// New creates a router for the given node.
func New(nodeID string, views ViewProvider, st store.IRecordStore, c *cache.Cache, fwd Forwarder) *Router {
	return &Router{nodeID: nodeID, views: views, store: st, cache: c, fwd: fwd}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get resolves a guild record. Local keys are always answered from the
// persistent store. Remote keys are answered cache-first; when the owner is
// unreachable an unexpired cached replica is served flagged as stale, and
// an expired one is never served.
func (r *Router) Get(guildID string, hops int) (GetResult, error) {
	view := r.views.View()
	owner, err := view.Ring.Owner(guildID)
	if err != nil {
		return GetResult{}, store.NewError(store.KindNoAvailableNode, "no node available for guild %s", guildID)
	}

	if owner == r.nodeID {
		metricLocalOps.Inc()
		rec, found, err := r.store.Get(guildID)
		if err != nil {
			return GetResult{}, err
		}
		return GetResult{Record: rec, Found: found}, nil
	}

	if hops >= MaxHops {
		metricRoutingConflict.Inc()
		return GetResult{}, store.NewError(store.KindMembershipConflict,
			"guild %s routed to %s but owned by %s", guildID, r.nodeID, owner)
	}

	rec, res := r.cache.Get(guildID)
	available := ownerAvailable(view, owner)

	if res == cache.Fresh {
		if available {
			return GetResult{Record: rec, Found: true}, nil
		}
		// Owner is unreachable but the replica has not expired yet.
		metricStaleReads.Inc()
		log.Debugf("serving stale replica of guild %s, owner %s unavailable", guildID, owner)
		return GetResult{Record: rec, Found: true, Stale: true}, nil
	}

	if !available {
		metricOwnerUnavail.Inc()
		return GetResult{}, store.NewError(store.KindOwnerUnavailable,
			"owner %s of guild %s is unavailable", owner, guildID)
	}

	ownerNode, _ := view.NodeByID(owner)
	metricForwards.Inc()
	fwdRec, found, err := r.fwd.ForwardGet(ownerNode.Addr, guildID, hops+1)
	if err != nil {
		metricOwnerUnavail.Inc()
		return GetResult{}, store.NewError(store.KindOwnerUnavailable,
			"forward to owner %s failed: %v", owner, err)
	}
	if found {
		r.cache.Put(fwdRec)
	}
	return GetResult{Record: fwdRec, Found: found}, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put stores a guild record. Writes only ever land on the owning node; if
// the owner is unreachable the write is rejected rather than written to the
// wrong node.
func (r *Router) Put(guildID string, payload []byte, hops int) (store.Record, error) {
	view := r.views.View()
	owner, err := view.Ring.Owner(guildID)
	if err != nil {
		return store.Record{}, store.NewError(store.KindNoAvailableNode, "no node available for guild %s", guildID)
	}

	if owner == r.nodeID {
		metricLocalOps.Inc()
		rec, err := r.store.Put(guildID, payload, r.nodeID)
		if err != nil {
			return store.Record{}, err
		}
		r.cache.Invalidate(guildID)
		r.broadcastInvalidate(view, guildID)
		return rec, nil
	}

	if hops >= MaxHops {
		metricRoutingConflict.Inc()
		return store.Record{}, store.NewError(store.KindMembershipConflict,
			"guild %s routed to %s but owned by %s", guildID, r.nodeID, owner)
	}

	if !ownerAvailable(view, owner) {
		metricOwnerUnavail.Inc()
		return store.Record{}, store.NewError(store.KindOwnerUnavailable,
			"owner %s of guild %s is unavailable, write rejected", owner, guildID)
	}

	ownerNode, _ := view.NodeByID(owner)
	metricForwards.Inc()
	rec, err := r.fwd.ForwardPut(ownerNode.Addr, guildID, payload, hops+1)
	if err != nil {
		metricOwnerUnavail.Inc()
		return store.Record{}, store.NewError(store.KindOwnerUnavailable,
			"forward to owner %s failed: %v", owner, err)
	}
	// Writes never warm the cache; only drop a replica that predates the
	// write. The next read through this node fetches from the owner.
	r.cache.Invalidate(guildID)
	return rec, nil
}

// Delete removes a guild record, with the same ownership rules as Put.
// Deleting an absent record succeeds.
func (r *Router) Delete(guildID string, hops int) error {
	view := r.views.View()
	owner, err := view.Ring.Owner(guildID)
	if err != nil {
		return store.NewError(store.KindNoAvailableNode, "no node available for guild %s", guildID)
	}

	if owner == r.nodeID {
		metricLocalOps.Inc()
		if err := r.store.Delete(guildID); err != nil {
			return err
		}
		r.cache.Invalidate(guildID)
		r.broadcastInvalidate(view, guildID)
		return nil
	}

	if hops >= MaxHops {
		metricRoutingConflict.Inc()
		return store.NewError(store.KindMembershipConflict,
			"guild %s routed to %s but owned by %s", guildID, r.nodeID, owner)
	}

	if !ownerAvailable(view, owner) {
		metricOwnerUnavail.Inc()
		return store.NewError(store.KindOwnerUnavailable,
			"owner %s of guild %s is unavailable, delete rejected", owner, guildID)
	}

	ownerNode, _ := view.NodeByID(owner)
	metricForwards.Inc()
	if err := r.fwd.ForwardDelete(ownerNode.Addr, guildID, hops+1); err != nil {
		metricOwnerUnavail.Inc()
		return store.NewError(store.KindOwnerUnavailable,
			"forward to owner %s failed: %v", owner, err)
	}
	r.cache.Invalidate(guildID)
	return nil
}

// --------------------------------------------------------------------------
// Invalidation
// --------------------------------------------------------------------------

// InvalidateLocal drops the local cached replica of a guild record. Called
// when a peer announces it has written or deleted the record.
func (r *Router) InvalidateLocal(guildID string) {
	r.cache.Invalidate(guildID)
}

// broadcastInvalidate tells all reachable peers to drop their cached
// replica after a local write. Best effort and fire-and-forget: a peer
// that misses the invalidation serves its replica at most until the TTL
// expires, and an unreachable peer must not add its timeout to the write
// latency.
func (r *Router) broadcastInvalidate(view *cluster.View, guildID string) {
	for _, n := range view.Nodes {
		if n.ID == r.nodeID || !ownerAvailable(view, n.ID) {
			continue
		}
		go func(n cluster.Node) {
			if err := r.fwd.Invalidate(n.Addr, guildID); err != nil {
				log.Debugf("invalidate of guild %s on %s failed: %v", guildID, n.ID, err)
			}
		}(n)
	}
}

// ownerAvailable reports whether the owning node is expected to answer.
// Joining nodes already hold ring positions and serve traffic.
func ownerAvailable(view *cluster.View, ownerID string) bool {
	n, ok := view.NodeByID(ownerID)
	if !ok {
		return false
	}
	return n.State == cluster.StateActive || n.State == cluster.StateJoining
}
