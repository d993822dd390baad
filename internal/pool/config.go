package pool

import "github.com/joao-brasil/steadydb/internal/steady"

// PoolConfig carries the per-bucket knobs of spec.md §3/§6. It is built
// from bucket.Bucket by the toPoolConfig function handed to NewManager
// before a Pool is constructed.
type PoolConfig struct {
	// MinCached connections are opened and cached eagerly at construction
	// time. 0 means no warm-up.
	MinCached int
	// MaxCached caps the idle cache. 0 means unbounded. If MaxCached is
	// set below MinCached, it's raised to MinCached.
	MaxCached int
	// MaxShared caps how many distinct steady.Connections may exist in the
	// shared set. While |shared| < MaxShared each shared request gets its
	// own connection (taken from the idle cache, else newly opened); once full, requests reuse the least-shared,
	// non-transacting existing one. 0 disables sharing outright, as does a
	// driver reporting DB-API threadsafety below 2.
	MaxShared int
	// MaxConnections caps total connections (idle + shared + dedicated)
	// this Pool will ever hold open. 0 means unbounded. If set below
	// MaxCached or MaxShared, it's raised to whichever is larger.
	MaxConnections int
	// Blocking selects what Connection does when MaxConnections is
	// reached: true waits (sync.Cond) for a release, false returns
	// TooManyConnections immediately.
	Blocking bool
	// Reset, when true, forces Connection.Reset(ctx, true) on every
	// return to the pool, rather than only rolling back a connection
	// still mid-transaction.
	Reset bool
	// Steady is replayed verbatim into every steady.Open call this Pool
	// makes.
	Steady steady.Config
	// BucketID labels this Pool's Prometheus metrics. Set by
	// Manager.NewManager; leave empty outside Manager-driven construction.
	BucketID string
}
