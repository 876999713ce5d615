package cluster

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/guildkv/guildkv/lib/hashring"
	"github.com/guildkv/guildkv/lib/logger"
	"github.com/jonboulle/clockwork"
)

var log = logger.GetLogger("cluster")

var (
	metricHeartbeatsSent    = metrics.NewCounter("guildkv_cluster_heartbeats_sent_total")
	metricHeartbeatFailures = metrics.NewCounter("guildkv_cluster_heartbeat_failures_total")
	metricViewMerges        = metrics.NewCounter("guildkv_cluster_view_merges_total")
	metricNodesRemoved      = metrics.NewCounter("guildkv_cluster_nodes_removed_total")
)

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config holds the membership parameters of one node.
type Config struct {
	// NodeID is the unique identifier of this node.
	NodeID string
	// AdvertiseAddr is the address peers use to reach this node.
	AdvertiseAddr string
	// Seeds are addresses of existing members to join through. Empty means
	// this node bootstraps as the sole Active member.
	Seeds []string
	// VirtualNodes per physical node on the hash ring (0 = default).
	VirtualNodes int

	// HeartbeatInterval is how often heartbeats are sent to every peer.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout moves an Active peer to Suspected when no heartbeat
	// was observed for this long.
	HeartbeatTimeout time.Duration
	// SuspicionTimeout moves a Suspected peer to Down when it stays silent
	// for this long after suspicion.
	SuspicionTimeout time.Duration
	// RebuildInterval is how often Down members are evicted from the ring.
	RebuildInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = time.Second
	}
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = 5 * time.Second
	}
	if out.SuspicionTimeout <= 0 {
		out.SuspicionTimeout = 15 * time.Second
	}
	if out.RebuildInterval <= 0 {
		out.RebuildInterval = 2 * time.Second
	}
	return out
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

type memberState struct {
	node        Node
	suspectedAt time.Time
}

// Manager owns the local node's membership state. All mutation happens
// under one mutex; reads go through the atomically published View snapshot
// and never take the lock.
type Manager struct {
	cfg     Config
	gateway PeerGateway
	clock   clockwork.Clock

	mu          sync.Mutex
	members     map[string]*memberState
	ring        *hashring.Ring
	ringVersion uint64
	subs        []func(Event)

	view atomic.Pointer[View]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a membership manager. Start must be called before the
// manager exchanges any traffic.
func NewManager(cfg Config, gateway PeerGateway, clock clockwork.Clock) *Manager {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		cfg:     cfg,
		gateway: gateway,
		clock:   clock,
		members: make(map[string]*memberState),
		ring:    hashring.New(cfg.VirtualNodes),
		stopCh:  make(chan struct{}),
	}

	// Register self. Without seeds the node self-elects as the sole Active
	// member; with seeds it starts Joining until the first successful
	// heartbeat exchange.
	state := StateActive
	if len(cfg.Seeds) > 0 {
		state = StateJoining
	}
	m.members[cfg.NodeID] = &memberState{node: Node{
		ID:            cfg.NodeID,
		Addr:          cfg.AdvertiseAddr,
		State:         state,
		LastHeartbeat: clock.Now(),
	}}
	m.ring.AddNode(cfg.NodeID)
	m.ringVersion = 1
	m.publishLocked()
	return m
}

// Subscribe registers a callback for membership events. Must be called
// before Start; callbacks run on the manager's goroutines and must not
// block.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start joins the cluster through the seed list and launches the heartbeat,
// failure detection and ring rebuild loops.
func (m *Manager) Start() {
	m.joinSeeds()

	m.wg.Add(3)
	go m.heartbeatLoop()
	go m.checkLoop()
	go m.rebuildLoop()
}

// Stop terminates the background loops. The last published view stays
// readable.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// View returns the current immutable membership snapshot.
func (m *Manager) View() *View {
	return m.view.Load()
}

// LocalNode returns this node's own membership entry.
func (m *Manager) LocalNode() Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[m.cfg.NodeID].node
}

// --------------------------------------------------------------------------
// Bootstrap
// --------------------------------------------------------------------------

func (m *Manager) joinSeeds() {
	self := m.LocalNode()
	for _, seed := range m.cfg.Seeds {
		if seed == m.cfg.AdvertiseAddr {
			continue
		}
		view, err := m.gateway.Join(seed, self)
		if err != nil {
			log.Warnf("join via seed %s failed: %v", seed, err)
			continue
		}
		log.Infof("joined cluster via seed %s (ring version %d, %d nodes)",
			seed, view.RingVersion, len(view.Nodes))
		m.MergeView(view)
		return
	}
	if len(m.cfg.Seeds) > 0 {
		// Nobody to heartbeat with, so nothing would ever promote this
		// node out of Joining. Bootstrap as a cluster of one instead of
		// staying unready forever; a reachable peer can still merge us in
		// later via join or heartbeat traffic.
		log.Errorf("no seed responded, bootstrapping as sole active member")
		m.mu.Lock()
		self := m.members[m.cfg.NodeID]
		if self.node.State == StateJoining {
			self.node.State = StateActive
			self.node.LastHeartbeat = m.clock.Now()
			m.publishLocked()
		}
		m.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// Inbound handlers (called by the RPC server)
// --------------------------------------------------------------------------

// OnJoin admits a joining node and returns the current view for the joiner
// to adopt. A node that was previously removed re-enters as Joining.
func (m *Manager) OnJoin(n Node) *View {
	m.mu.Lock()
	existing, known := m.members[n.ID]
	if known {
		existing.node.Addr = n.Addr
		existing.node.State = StateJoining
		existing.node.LastHeartbeat = m.clock.Now()
		existing.suspectedAt = time.Time{}
	} else {
		m.members[n.ID] = &memberState{node: Node{
			ID:            n.ID,
			Addr:          n.Addr,
			State:         StateJoining,
			LastHeartbeat: m.clock.Now(),
		}}
		m.ring.AddNode(n.ID)
		m.ringVersion++
	}
	m.publishLocked()
	view := m.view.Load()
	joined := m.members[n.ID].node
	m.mu.Unlock()

	if !known {
		m.emit(Event{Type: NodeJoined, Node: joined})
	}
	log.Infof("node %s joined via %s", n.ID, n.Addr)
	return view
}

// OnHeartbeat records a heartbeat from a peer and returns the local digest
// so the sender can detect divergence. An unknown sender is admitted as
// Joining.
func (m *Manager) OnHeartbeat(hb Heartbeat) string {
	m.mu.Lock()
	ms, known := m.members[hb.SenderID]
	if known {
		m.markAliveLocked(ms)
	} else {
		m.members[hb.SenderID] = &memberState{node: Node{
			ID:            hb.SenderID,
			Addr:          hb.SenderAddr,
			State:         StateJoining,
			LastHeartbeat: m.clock.Now(),
		}}
		m.ring.AddNode(hb.SenderID)
		m.ringVersion++
	}
	m.publishLocked()
	digest := m.view.Load().Digest
	var joined Node
	if !known {
		joined = m.members[hb.SenderID].node
	}
	m.mu.Unlock()

	if !known {
		m.emit(Event{Type: NodeJoined, Node: joined})
	}
	return digest
}

// OnViewRequest returns the current view for a peer resolving a digest
// mismatch.
func (m *Manager) OnViewRequest() *View {
	return m.view.Load()
}

// --------------------------------------------------------------------------
// View merge
// --------------------------------------------------------------------------

// MergeView reconciles a remote view with the local one. The higher ring
// version wins; on a tie the lexicographically greatest node-ID set wins.
// Both sides of a divergence apply the same rule, so they converge on the
// same membership without coordination.
func (m *Manager) MergeView(remote *View) {
	m.mu.Lock()

	local := m.view.Load()
	adopt := remote.RingVersion > m.ringVersion ||
		(remote.RingVersion == m.ringVersion && remote.idSetKey() > local.idSetKey())
	if !adopt {
		m.mu.Unlock()
		return
	}
	metricViewMerges.Inc()

	now := m.clock.Now()
	merged := make(map[string]*memberState, len(remote.Nodes))
	var joinedNodes []Node
	for _, rn := range remote.Nodes {
		if prev, ok := m.members[rn.ID]; ok {
			// Local liveness evidence wins for nodes we already track.
			merged[rn.ID] = prev
			if rn.Addr != "" {
				prev.node.Addr = rn.Addr
			}
			continue
		}
		ms := &memberState{node: Node{
			ID:            rn.ID,
			Addr:          rn.Addr,
			State:         rn.State,
			LastHeartbeat: now, // grace period before suspicion
		}}
		merged[rn.ID] = ms
		joinedNodes = append(joinedNodes, ms.node)
	}
	m.ringVersion = remote.RingVersion

	// A remote view that dropped us means we were removed during a
	// partition; re-announce by re-adding self with a version bump.
	if _, ok := merged[m.cfg.NodeID]; !ok {
		merged[m.cfg.NodeID] = m.members[m.cfg.NodeID]
		merged[m.cfg.NodeID].node.State = StateJoining
		m.ringVersion++
	}

	m.members = merged
	m.rebuildRingLocked()
	m.publishLocked()
	m.mu.Unlock()

	for _, n := range joinedNodes {
		m.emit(Event{Type: NodeJoined, Node: n})
	}
	log.Debugf("merged remote view, ring version now %d (%d nodes)",
		remote.RingVersion, len(remote.Nodes))
}

// --------------------------------------------------------------------------
// Background loops
// --------------------------------------------------------------------------

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.Chan():
			m.heartbeatRound()
		}
	}
}

func (m *Manager) heartbeatRound() {
	m.mu.Lock()
	digest := m.view.Load().Digest
	peers := make([]Node, 0, len(m.members))
	for id, ms := range m.members {
		if id == m.cfg.NodeID || ms.node.State == StateDown {
			continue
		}
		peers = append(peers, ms.node)
	}
	m.mu.Unlock()

	hb := Heartbeat{
		SenderID:   m.cfg.NodeID,
		SenderAddr: m.cfg.AdvertiseAddr,
		Digest:     digest,
		Timestamp:  m.clock.Now(),
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer Node) {
			defer wg.Done()
			metricHeartbeatsSent.Inc()
			remoteDigest, err := m.gateway.SendHeartbeat(peer.Addr, hb)
			if err != nil {
				// Failures never mark a node down directly; the timeout
				// checker owns state transitions.
				metricHeartbeatFailures.Inc()
				log.Debugf("heartbeat to %s failed: %v", peer.ID, err)
				return
			}
			m.markAlive(peer.ID)
			if remoteDigest != hb.Digest {
				m.resolveDivergence(peer)
			}
		}(peer)
	}
	wg.Wait()
}

func (m *Manager) resolveDivergence(peer Node) {
	view, err := m.gateway.FetchView(peer.Addr)
	if err != nil {
		log.Debugf("view fetch from %s failed: %v", peer.ID, err)
		return
	}
	m.MergeView(view)
}

func (m *Manager) checkLoop() {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.Chan():
			m.checkTimeouts()
		}
	}
}

func (m *Manager) checkTimeouts() {
	now := m.clock.Now()
	m.mu.Lock()
	changed := false
	for id, ms := range m.members {
		if id == m.cfg.NodeID {
			continue
		}
		switch ms.node.State {
		case StateActive, StateJoining:
			if now.Sub(ms.node.LastHeartbeat) > m.cfg.HeartbeatTimeout {
				ms.node.State = StateSuspected
				ms.suspectedAt = now
				changed = true
				log.Warnf("node %s suspected (last heartbeat %s ago)",
					id, now.Sub(ms.node.LastHeartbeat))
			}
		case StateSuspected:
			if now.Sub(ms.suspectedAt) > m.cfg.SuspicionTimeout {
				ms.node.State = StateDown
				changed = true
				log.Warnf("node %s marked down", id)
			}
		}
	}
	if changed {
		// State flips publish a new view but keep the ring version: the
		// node set is unchanged, so no keys move.
		m.publishLocked()
	}
	m.mu.Unlock()
}

func (m *Manager) rebuildLoop() {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.RebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.Chan():
			m.evictDown()
		}
	}
}

func (m *Manager) evictDown() {
	m.mu.Lock()
	var removed []Node
	for id, ms := range m.members {
		if ms.node.State != StateDown {
			continue
		}
		removed = append(removed, ms.node)
		delete(m.members, id)
		m.ring.RemoveNode(id)
	}
	if len(removed) > 0 {
		// One version bump per rebuild, however many nodes left.
		m.ringVersion++
		m.publishLocked()
	}
	m.mu.Unlock()

	for _, n := range removed {
		metricNodesRemoved.Inc()
		log.Infof("node %s removed from ring", n.ID)
		m.emit(Event{Type: NodeLeft, Node: n})
	}
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// markAlive records a successful heartbeat exchange with a peer and
// promotes the local node out of Joining.
func (m *Manager) markAlive(peerID string) {
	m.mu.Lock()
	changed := false
	if ms, ok := m.members[peerID]; ok {
		before := ms.node.State
		m.markAliveLocked(ms)
		changed = before != ms.node.State
	}
	if self := m.members[m.cfg.NodeID]; self.node.State == StateJoining {
		self.node.State = StateActive
		changed = true
		log.Infof("node %s is now active", m.cfg.NodeID)
	}
	if changed {
		m.publishLocked()
	}
	m.mu.Unlock()
}

func (m *Manager) markAliveLocked(ms *memberState) {
	ms.node.LastHeartbeat = m.clock.Now()
	if ms.node.State == StateJoining || ms.node.State == StateSuspected {
		ms.node.State = StateActive
		ms.suspectedAt = time.Time{}
	}
}

// rebuildRingLocked resets the ring to the current non-Down members.
func (m *Manager) rebuildRingLocked() {
	ids := make([]string, 0, len(m.members))
	for id, ms := range m.members {
		if ms.node.State == StateDown {
			continue
		}
		ids = append(ids, id)
	}
	m.ring.Rebuild(ids)
}

// publishLocked snapshots the membership into a fresh immutable View.
func (m *Manager) publishLocked() {
	nodes := make([]Node, 0, len(m.members))
	for _, ms := range m.members {
		nodes = append(nodes, ms.node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	m.view.Store(&View{
		Nodes:       nodes,
		RingVersion: m.ringVersion,
		Ring:        m.ring.Clone(),
		Digest:      computeDigest(nodes, m.ringVersion),
	})
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	subs := m.subs
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
