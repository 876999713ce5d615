package cluster

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory PeerGateway for driving the manager without a
// transport.
type fakeGateway struct {
	mu         sync.Mutex
	joinView   *View
	joinErr    error
	hbDigest   string
	hbErr      error
	fetchView  *View
	fetchErr   error
	heartbeats []Heartbeat
}

func (f *fakeGateway) Join(addr string, self Node) (*View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.joinView, nil
}

func (f *fakeGateway) SendHeartbeat(addr string, hb Heartbeat) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, hb)
	if f.hbErr != nil {
		return "", f.hbErr
	}
	if f.hbDigest != "" {
		return f.hbDigest, nil
	}
	return hb.Digest, nil
}

func (f *fakeGateway) FetchView(addr string) (*View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchView, f.fetchErr
}

func newTestManager(t *testing.T, nodeID string, seeds []string, gw PeerGateway) (*Manager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := NewManager(Config{
		NodeID:            nodeID,
		AdvertiseAddr:     nodeID + ":4000",
		Seeds:             seeds,
		VirtualNodes:      16,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		SuspicionTimeout:  15 * time.Second,
		RebuildInterval:   2 * time.Second,
	}, gw, clock)
	return m, clock
}

func TestBootstrapSoleMember(t *testing.T) {
	m, _ := newTestManager(t, "node-a", nil, &fakeGateway{})

	view := m.View()
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, "node-a", view.Nodes[0].ID)
	assert.Equal(t, StateActive, view.Nodes[0].State)
	assert.Equal(t, uint64(1), view.RingVersion)

	owner, err := view.Ring.Owner("guild-42")
	require.NoError(t, err)
	assert.Equal(t, "node-a", owner)
}

func TestBootstrapWithSeedsStartsJoining(t *testing.T) {
	m, _ := newTestManager(t, "node-b", []string{"node-a:4000"}, &fakeGateway{
		joinErr: errors.New("connection refused"),
	})
	assert.Equal(t, StateJoining, m.LocalNode().State)

	// All seeds unreachable: the node bootstraps as a sole Active member
	// so the health endpoint reports it ready.
	m.joinSeeds()
	assert.Len(t, m.View().Nodes, 1)
	assert.Equal(t, StateActive, m.LocalNode().State)
	n, ok := m.View().NodeByID("node-b")
	require.True(t, ok)
	assert.Equal(t, StateActive, n.State)
}

func TestJoinSeedsAdoptsSeedView(t *testing.T) {
	seedView := &View{
		Nodes: []Node{
			{ID: "node-a", Addr: "node-a:4000", State: StateActive},
			{ID: "node-c", Addr: "node-c:4000", State: StateActive},
		},
		RingVersion: 7,
	}
	m, _ := newTestManager(t, "node-b", []string{"node-a:4000"}, &fakeGateway{joinView: seedView})
	m.joinSeeds()

	view := m.View()
	// Self was not in the seed's view yet, so it re-announces with a bump.
	assert.Equal(t, uint64(8), view.RingVersion)
	assert.Len(t, view.Nodes, 3)
	_, ok := view.NodeByID("node-c")
	assert.True(t, ok)
	assert.Equal(t, 3, view.Ring.Len())
}

func TestOnJoinAdmitsNode(t *testing.T) {
	m, _ := newTestManager(t, "node-a", nil, &fakeGateway{})

	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	view := m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	assert.Equal(t, uint64(2), view.RingVersion)

	n, ok := view.NodeByID("node-b")
	require.True(t, ok)
	assert.Equal(t, StateJoining, n.State)

	require.Len(t, events, 1)
	assert.Equal(t, NodeJoined, events[0].Type)
	assert.Equal(t, "node-b", events[0].Node.ID)

	// Re-joining the same node must not bump the version again.
	view = m.OnJoin(Node{ID: "node-b", Addr: "node-b:5000"})
	assert.Equal(t, uint64(2), view.RingVersion)
	n, _ = view.NodeByID("node-b")
	assert.Equal(t, "node-b:5000", n.Addr)
}

func TestOnHeartbeatAdmitsUnknownSender(t *testing.T) {
	m, _ := newTestManager(t, "node-a", nil, &fakeGateway{})

	digest := m.OnHeartbeat(Heartbeat{SenderID: "node-b", SenderAddr: "node-b:4000"})
	assert.Equal(t, m.View().Digest, digest)

	n, ok := m.View().NodeByID("node-b")
	require.True(t, ok)
	assert.Equal(t, StateJoining, n.State)
	assert.Equal(t, uint64(2), m.View().RingVersion)
}

func TestHeartbeatPromotesJoining(t *testing.T) {
	m, _ := newTestManager(t, "node-b", []string{"node-a:4000"}, &fakeGateway{
		joinErr: errors.New("unreachable"),
	})
	m.OnJoin(Node{ID: "node-a", Addr: "node-a:4000"})

	require.Equal(t, StateJoining, m.LocalNode().State)
	m.markAlive("node-a")

	assert.Equal(t, StateActive, m.LocalNode().State)
	n, _ := m.View().NodeByID("node-a")
	assert.Equal(t, StateActive, n.State)
}

func TestFailureDetection(t *testing.T) {
	m, clock := newTestManager(t, "node-a", nil, &fakeGateway{})
	m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	m.markAlive("node-b")

	versionBefore := m.View().RingVersion

	// Silent past the heartbeat timeout: Active -> Suspected, no key moves.
	clock.Advance(6 * time.Second)
	m.checkTimeouts()
	n, _ := m.View().NodeByID("node-b")
	assert.Equal(t, StateSuspected, n.State)
	assert.Equal(t, versionBefore, m.View().RingVersion)
	assert.Equal(t, 2, m.View().Ring.Len())

	// A heartbeat during suspicion recovers the node.
	m.OnHeartbeat(Heartbeat{SenderID: "node-b", SenderAddr: "node-b:4000"})
	n, _ = m.View().NodeByID("node-b")
	assert.Equal(t, StateActive, n.State)

	// Silent through both timeouts: Suspected -> Down -> evicted, with
	// exactly one ring version bump.
	clock.Advance(6 * time.Second)
	m.checkTimeouts()
	clock.Advance(16 * time.Second)
	m.checkTimeouts()
	n, _ = m.View().NodeByID("node-b")
	assert.Equal(t, StateDown, n.State)

	var left []Event
	m.Subscribe(func(ev Event) {
		if ev.Type == NodeLeft {
			left = append(left, ev)
		}
	})
	m.evictDown()

	view := m.View()
	assert.Equal(t, versionBefore+1, view.RingVersion)
	_, ok := view.NodeByID("node-b")
	assert.False(t, ok)
	assert.Equal(t, 1, view.Ring.Len())
	require.Len(t, left, 1)
	assert.Equal(t, "node-b", left[0].Node.ID)
}

func TestMergeIgnoresLowerVersion(t *testing.T) {
	m, _ := newTestManager(t, "node-a", nil, &fakeGateway{})
	m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"}) // version 2

	m.MergeView(&View{
		Nodes:       []Node{{ID: "node-z", Addr: "node-z:4000", State: StateActive}},
		RingVersion: 1,
	})

	view := m.View()
	assert.Equal(t, uint64(2), view.RingVersion)
	_, ok := view.NodeByID("node-z")
	assert.False(t, ok)
}

func TestMergeTieBreakIsDeterministic(t *testing.T) {
	// Two views at the same ring version with different member sets: both
	// sides must settle on the set with the greater ID-set serialization.
	viewA := &View{
		Nodes: []Node{
			{ID: "node-a", Addr: "node-a:4000", State: StateActive},
			{ID: "node-b", Addr: "node-b:4000", State: StateActive},
		},
		RingVersion: 2,
	}
	viewB := &View{
		Nodes: []Node{
			{ID: "node-a", Addr: "node-a:4000", State: StateActive},
			{ID: "node-c", Addr: "node-c:4000", State: StateActive},
		},
		RingVersion: 2,
	}
	require.True(t, viewB.idSetKey() > viewA.idSetKey())

	a, _ := newTestManager(t, "node-a", nil, &fakeGateway{})
	a.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	a.MergeView(viewB)
	c, _ := newTestManager(t, "node-a", nil, &fakeGateway{})
	c.OnJoin(Node{ID: "node-c", Addr: "node-c:4000"})
	c.MergeView(viewA)

	// The winner's set is adopted by a and kept by c.
	assert.Equal(t, c.View().idSetKey(), a.View().idSetKey())
	_, ok := a.View().NodeByID("node-c")
	assert.True(t, ok)
}

func TestViewEncodeDecode(t *testing.T) {
	m, _ := newTestManager(t, "node-a", nil, &fakeGateway{})
	m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	orig := m.View()

	data, err := EncodeView(orig)
	require.NoError(t, err)
	decoded, err := DecodeView(data)
	require.NoError(t, err)

	assert.Equal(t, orig.RingVersion, decoded.RingVersion)
	assert.Equal(t, orig.Digest, decoded.Digest)
	require.Len(t, decoded.Nodes, 2)
	assert.Equal(t, orig.Nodes[0].ID, decoded.Nodes[0].ID)
	assert.Equal(t, orig.Nodes[0].State, decoded.Nodes[0].State)
}

func TestDigestTracksStateChanges(t *testing.T) {
	m, clock := newTestManager(t, "node-a", nil, &fakeGateway{})
	m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	before := m.View().Digest

	clock.Advance(6 * time.Second)
	m.checkTimeouts()

	assert.NotEqual(t, before, m.View().Digest)
}

func TestHeartbeatRoundSkipsSelfAndDown(t *testing.T) {
	gw := &fakeGateway{}
	m, clock := newTestManager(t, "node-a", nil, gw)
	m.OnJoin(Node{ID: "node-b", Addr: "node-b:4000"})
	m.OnJoin(Node{ID: "node-c", Addr: "node-c:4000"})

	// Let node-c go all the way down while node-b keeps heartbeating.
	m.markAlive("node-b")
	clock.Advance(6 * time.Second)
	m.checkTimeouts()
	m.markAlive("node-b")
	clock.Advance(16 * time.Second)
	m.checkTimeouts()
	m.markAlive("node-b")

	n, _ := m.View().NodeByID("node-c")
	require.Equal(t, StateDown, n.State)

	gw.mu.Lock()
	gw.heartbeats = nil
	gw.mu.Unlock()

	m.heartbeatRound()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.heartbeats, 1)
	assert.Equal(t, "node-a", gw.heartbeats[0].SenderID)
}
