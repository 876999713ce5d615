package cache

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("cache")

var (
	hitsTotal    = metrics.NewCounter("guildkv_cache_hits_total")
	missesTotal  = metrics.NewCounter("guildkv_cache_misses_total")
	sweptTotal   = metrics.NewCounter("guildkv_cache_swept_entries_total")
	evictedTotal = metrics.NewCounter("guildkv_cache_invalidated_entries_total")
)

// --------------------------------------------------------------------------
// Result Type
// --------------------------------------------------------------------------

// Result tags a cache lookup so callers make explicit staleness decisions
// instead of comparing timestamps themselves.
type Result int

const (
	// Miss - no entry for the guild.
	Miss Result = iota
	// Fresh - an entry exists and its TTL has not elapsed.
	Fresh
	// Stale - an entry exists but its TTL has elapsed and the sweeper has
	// not removed it yet. Stale entries are never served to clients.
	Stale
)

func (r Result) String() string {
	switch r {
	case Miss:
		return "miss"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Replica Cache
// --------------------------------------------------------------------------

// entry is one cached record snapshot with its expiry.
type entry struct {
	record    store.Record
	expiresAt time.Time
}

// Cache holds time-bounded copies of records owned by other nodes. It is
// populated only by the router as a side effect of forwarding reads; writes
// never warm it. The TTL is fixed per deployment.
type Cache struct {
	ttl     time.Duration
	clock   clockwork.Clock
	entries *xsync.MapOf[string, entry]
	stopCh  chan struct{}
}

// New creates a replica cache with the given fixed TTL. The clock is
// injectable so expiry behavior is testable; pass clockwork.NewRealClock()
// in production.
func New(ttl time.Duration, clock clockwork.Clock) *Cache {
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: xsync.NewMapOf[string, entry](),
		stopCh:  make(chan struct{}),
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached record for a guild together with a tagged result.
func (c *Cache) Get(guildID string) (store.Record, Result) {
	e, ok := c.entries.Load(guildID)
	if !ok {
		missesTotal.Inc()
		return store.Record{}, Miss
	}
	if c.clock.Now().After(e.expiresAt) {
		missesTotal.Inc()
		return e.record, Stale
	}
	hitsTotal.Inc()
	return e.record, Fresh
}

// Put stores a record snapshot with the configured TTL.
func (c *Cache) Put(rec store.Record) {
	c.entries.Store(rec.GuildID, entry{
		record:    rec,
		expiresAt: c.clock.Now().Add(c.ttl),
	})
}

// Invalidate drops the entry for a guild, if any. Owners call this on peers
// after a write; it is best-effort, the TTL bounds the staleness window
// either way.
func (c *Cache) Invalidate(guildID string) {
	if _, ok := c.entries.LoadAndDelete(guildID); ok {
		evictedTotal.Inc()
	}
}

// InvalidateOwner drops every entry sourced from the given node. Called
// when a node leaves the cluster, since its records are about to be
// re-owned and the copies would otherwise linger until their TTL.
func (c *Cache) InvalidateOwner(nodeID string) {
	c.entries.Range(func(key string, e entry) bool {
		if e.record.Owner == nodeID {
			c.entries.Delete(key)
			evictedTotal.Inc()
		}
		return true
	})
}

// Sweep removes every expired entry. After Sweep returns, no entry with an
// expiry in the past remains.
func (c *Cache) Sweep() {
	now := c.clock.Now()
	c.entries.Range(func(key string, e entry) bool {
		if now.After(e.expiresAt) {
			c.entries.Delete(key)
			sweptTotal.Inc()
		}
		return true
	})
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	return c.entries.Size()
}

// Run sweeps the cache on the given interval until Stop is called. The
// timer is independent of request traffic, so memory stays bounded even
// when no reads follow a burst.
func (c *Cache) Run(sweepInterval time.Duration) {
	ticker := c.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	Logger.Infof("cache sweeper running every %s (ttl %s)", sweepInterval, c.ttl)
	for {
		select {
		case <-ticker.Chan():
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// Stop terminates the sweep loop.
func (c *Cache) Stop() {
	close(c.stopCh)
}
