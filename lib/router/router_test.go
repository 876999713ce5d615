package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkv/guildkv/lib/cache"
	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/hashring"
	"github.com/guildkv/guildkv/lib/store"
)

// ----------------------------------------------------------------------------
// Test doubles
// ----------------------------------------------------------------------------

type staticViews struct{ view *cluster.View }

func (s *staticViews) View() *cluster.View { return s.view }

type memStore struct {
	records map[string]store.Record
	version uint64
	failPut bool
}

func newMemStore() *memStore { return &memStore{records: make(map[string]store.Record)} }

func (m *memStore) Put(guildID string, payload []byte, owner string) (store.Record, error) {
	if m.failPut {
		return store.Record{}, store.NewError(store.KindPersistenceFailure, "disk full")
	}
	m.version++
	rec := store.Record{GuildID: guildID, Payload: payload, Version: m.version, Owner: owner}
	m.records[guildID] = rec
	return rec, nil
}

func (m *memStore) Get(guildID string) (store.Record, bool, error) {
	rec, ok := m.records[guildID]
	return rec, ok, nil
}

func (m *memStore) Delete(guildID string) error {
	delete(m.records, guildID)
	return nil
}

func (m *memStore) Healthy() error { return nil }
func (m *memStore) Close() error   { return nil }

type call struct {
	op      string
	addr    string
	guildID string
	hops    int
}

// fakeForwarder records calls under a mutex; invalidation broadcasts run
// on their own goroutines.
type fakeForwarder struct {
	mu      sync.Mutex
	calls   []call
	getRec  store.Record
	getOK   bool
	putRec  store.Record
	err     error
	invErrs map[string]error
}

func (f *fakeForwarder) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeForwarder) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeForwarder) ForwardGet(addr, guildID string, hops int) (store.Record, bool, error) {
	f.record(call{"get", addr, guildID, hops})
	return f.getRec, f.getOK, f.err
}

func (f *fakeForwarder) ForwardPut(addr, guildID string, payload []byte, hops int) (store.Record, error) {
	f.record(call{"put", addr, guildID, hops})
	return f.putRec, f.err
}

func (f *fakeForwarder) ForwardDelete(addr, guildID string, hops int) error {
	f.record(call{"delete", addr, guildID, hops})
	return f.err
}

func (f *fakeForwarder) Invalidate(addr, guildID string) error {
	f.record(call{"invalidate", addr, guildID, 0})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invErrs[addr]
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

// twoNodeView builds a view of node-a and node-b with the given peer state
// for node-b.
func twoNodeView(peerState cluster.NodeState) *cluster.View {
	ring := hashring.New(16)
	ring.AddNode("node-a")
	ring.AddNode("node-b")
	return &cluster.View{
		Nodes: []cluster.Node{
			{ID: "node-a", Addr: "node-a:4000", State: cluster.StateActive},
			{ID: "node-b", Addr: "node-b:4000", State: peerState},
		},
		RingVersion: 2,
		Ring:        ring,
	}
}

// keyOwnedBy finds a guild ID that the ring assigns to the wanted node.
func keyOwnedBy(t *testing.T, ring *hashring.Ring, nodeID string) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("guild-%d", i)
		owner, err := ring.Owner(key)
		require.NoError(t, err)
		if owner == nodeID {
			return key
		}
	}
	t.Fatalf("no key owned by %s found", nodeID)
	return ""
}

func newTestRouter(view *cluster.View, fwd *fakeForwarder) (*Router, *memStore, *cache.Cache, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	st := newMemStore()
	c := cache.New(time.Minute, clock)
	return New("node-a", &staticViews{view}, st, c, fwd), st, c, clock
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

func TestGetLocalKey(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	fwd := &fakeForwarder{}
	r, st, _, _ := newTestRouter(view, fwd)

	key := keyOwnedBy(t, view.Ring, "node-a")
	st.Put(key, []byte("settings"), "node-a")

	res, err := r.Get(key, 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Stale)
	assert.Equal(t, []byte("settings"), res.Record.Payload)
	assert.Empty(t, fwd.snapshot())
}

func TestGetLocalKeyMissing(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	r, _, _, _ := newTestRouter(view, &fakeForwarder{})

	res, err := r.Get(keyOwnedBy(t, view.Ring, "node-a"), 0)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestGetRemoteForwardsAndCaches(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{
		getRec: store.Record{GuildID: key, Payload: []byte("remote"), Version: 3, Owner: "node-b"},
		getOK:  true,
	}
	r, _, c, _ := newTestRouter(view, fwd)

	res, err := r.Get(key, 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Stale)
	require.Len(t, fwd.snapshot(), 1)
	assert.Equal(t, call{"get", "node-b:4000", key, 1}, fwd.snapshot()[0])

	// The reply populated the cache; the next read must not forward.
	cached, result := c.Get(key)
	assert.Equal(t, cache.Fresh, result)
	assert.Equal(t, uint64(3), cached.Version)

	res, err = r.Get(key, 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Stale)
	assert.Len(t, fwd.snapshot(), 1)
}

func TestGetRemoteOwnerDownFreshCacheIsStaleRead(t *testing.T) {
	view := twoNodeView(cluster.StateSuspected)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{}
	r, _, c, _ := newTestRouter(view, fwd)

	c.Put(store.Record{GuildID: key, Payload: []byte("replica"), Version: 2, Owner: "node-b"})

	res, err := r.Get(key, 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.Stale)
	assert.Equal(t, []byte("replica"), res.Record.Payload)
	assert.Empty(t, fwd.snapshot())
}

func TestGetRemoteOwnerDownExpiredCacheIsNeverServed(t *testing.T) {
	view := twoNodeView(cluster.StateDown)
	key := keyOwnedBy(t, view.Ring, "node-b")
	r, _, c, clock := newTestRouter(view, &fakeForwarder{})

	c.Put(store.Record{GuildID: key, Payload: []byte("replica"), Version: 2, Owner: "node-b"})
	clock.Advance(2 * time.Minute)

	_, err := r.Get(key, 0)
	require.Error(t, err)
	assert.Equal(t, store.KindOwnerUnavailable, store.KindOf(err))
}

func TestGetRemoteForwardFailure(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{err: errors.New("connection reset")}
	r, _, _, _ := newTestRouter(view, fwd)

	_, err := r.Get(key, 0)
	require.Error(t, err)
	assert.Equal(t, store.KindOwnerUnavailable, store.KindOf(err))
}

func TestGetHopGuard(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{}
	r, _, _, _ := newTestRouter(view, fwd)

	// A request that was already forwarded once must not bounce again.
	_, err := r.Get(key, 1)
	require.Error(t, err)
	assert.Equal(t, store.KindMembershipConflict, store.KindOf(err))
	assert.Empty(t, fwd.snapshot())
}

func TestGetEmptyRing(t *testing.T) {
	view := &cluster.View{Ring: hashring.New(16)}
	r, _, _, _ := newTestRouter(view, &fakeForwarder{})

	_, err := r.Get("guild-1", 0)
	require.Error(t, err)
	assert.Equal(t, store.KindNoAvailableNode, store.KindOf(err))
}

// ----------------------------------------------------------------------------
// Writes
// ----------------------------------------------------------------------------

func TestPutLocalKeyBroadcastsInvalidation(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-a")
	fwd := &fakeForwarder{}
	r, st, _, _ := newTestRouter(view, fwd)

	rec, err := r.Put(key, []byte("v1"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, "node-a", rec.Owner)

	stored, ok, _ := st.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), stored.Payload)

	// The broadcast runs off the write path.
	assert.Eventually(t, func() bool {
		calls := fwd.snapshot()
		return len(calls) == 1 && calls[0] == call{"invalidate", "node-b:4000", key, 0}
	}, time.Second, time.Millisecond)
}

func TestPutLocalBroadcastFailureIsTolerated(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-a")
	fwd := &fakeForwarder{invErrs: map[string]error{"node-b:4000": errors.New("connection reset")}}
	r, st, _, _ := newTestRouter(view, fwd)

	_, err := r.Put(key, []byte("v1"), 0)
	require.NoError(t, err)

	_, ok, _ := st.Get(key)
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		return len(fwd.snapshot()) == 1
	}, time.Second, time.Millisecond)
}

func TestPutLocalSkipsUnreachablePeers(t *testing.T) {
	for _, state := range []cluster.NodeState{cluster.StateSuspected, cluster.StateDown} {
		view := twoNodeView(state)
		key := keyOwnedBy(t, view.Ring, "node-a")
		fwd := &fakeForwarder{}
		r, _, _, _ := newTestRouter(view, fwd)

		_, err := r.Put(key, []byte("v1"), 0)
		require.NoError(t, err)
		assert.Empty(t, fwd.snapshot(), "peer state %s", state)
	}
}

func TestPutRemoteForwards(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{
		putRec: store.Record{GuildID: key, Payload: []byte("v2"), Version: 5, Owner: "node-b"},
	}
	r, st, c, _ := newTestRouter(view, fwd)

	rec, err := r.Put(key, []byte("v2"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Version)

	// Nothing lands in the local store, and the write does not warm the
	// cache: the next read must fetch the authoritative copy.
	_, ok, _ := st.Get(key)
	assert.False(t, ok)
	_, result := c.Get(key)
	assert.Equal(t, cache.Miss, result)
}

func TestPutRemoteDropsStaleReplica(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{
		putRec: store.Record{GuildID: key, Payload: []byte("v2"), Version: 5, Owner: "node-b"},
	}
	r, _, c, _ := newTestRouter(view, fwd)

	// A replica cached before the write must not survive it.
	c.Put(store.Record{GuildID: key, Payload: []byte("v1"), Version: 4, Owner: "node-b"})

	_, err := r.Put(key, []byte("v2"), 0)
	require.NoError(t, err)

	_, result := c.Get(key)
	assert.Equal(t, cache.Miss, result)
}

func TestPutRemoteOwnerUnavailableIsRejected(t *testing.T) {
	view := twoNodeView(cluster.StateSuspected)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{}
	r, st, _, _ := newTestRouter(view, fwd)

	_, err := r.Put(key, []byte("v1"), 0)
	require.Error(t, err)
	assert.Equal(t, store.KindOwnerUnavailable, store.KindOf(err))

	// The write never lands on the wrong node.
	_, ok, _ := st.Get(key)
	assert.False(t, ok)
	assert.Empty(t, fwd.snapshot())
}

func TestPutHopGuard(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	r, _, _, _ := newTestRouter(view, &fakeForwarder{})

	_, err := r.Put(key, []byte("v1"), 1)
	require.Error(t, err)
	assert.Equal(t, store.KindMembershipConflict, store.KindOf(err))
}

// ----------------------------------------------------------------------------
// Deletes
// ----------------------------------------------------------------------------

func TestDeleteLocal(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-a")
	fwd := &fakeForwarder{}
	r, st, _, _ := newTestRouter(view, fwd)

	st.Put(key, []byte("v1"), "node-a")
	require.NoError(t, r.Delete(key, 0))

	_, ok, _ := st.Get(key)
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		calls := fwd.snapshot()
		return len(calls) == 1 && calls[0].op == "invalidate"
	}, time.Second, time.Millisecond)
}

func TestDeleteLocalAbsentSucceeds(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-a")
	r, _, _, _ := newTestRouter(view, &fakeForwarder{})

	assert.NoError(t, r.Delete(key, 0))
}

func TestDeleteRemoteInvalidatesCache(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	key := keyOwnedBy(t, view.Ring, "node-b")
	fwd := &fakeForwarder{}
	r, _, c, _ := newTestRouter(view, fwd)

	c.Put(store.Record{GuildID: key, Payload: []byte("old"), Owner: "node-b"})
	require.NoError(t, r.Delete(key, 0))

	_, result := c.Get(key)
	assert.Equal(t, cache.Miss, result)
	require.Len(t, fwd.snapshot(), 1)
	assert.Equal(t, call{"delete", "node-b:4000", key, 1}, fwd.snapshot()[0])
}

// ----------------------------------------------------------------------------
// Invalidation
// ----------------------------------------------------------------------------

func TestInvalidateLocal(t *testing.T) {
	view := twoNodeView(cluster.StateActive)
	r, _, c, _ := newTestRouter(view, &fakeForwarder{})

	c.Put(store.Record{GuildID: "guild-1", Payload: []byte("x"), Owner: "node-b"})
	r.InvalidateLocal("guild-1")

	_, result := c.Get("guild-1")
	assert.Equal(t, cache.Miss, result)
}
