package pool

import (
	"context"
	"sync"
	"time"

	"github.com/joao-brasil/steadydb/internal/metrics"
	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

// Pool multiplexes steady.Connections across concurrent users with two
// leasing disciplines (spec.md §4.3/§4.4): dedicated, where one caller
// owns a connection exclusively, and shared, where any number of callers
// may be handed the same connection while it is not mid-transaction (at
// most MaxShared distinct connections serve shared leases at once).
//
// mu + cond together form the monitor described in spec.md §5: a single
// condition variable is sufficient because every wait is for "a slot
// freed up somewhere", and Signal/Broadcast are called from every path
// that can free one (Cache, Unshare, Close).
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	driver      dbdriver.Driver
	connectArgs dbdriver.ConnectArgs
	cfg         PoolConfig

	idle   []*steady.Connection
	shared []*SharedRecord

	connections int
	closed      bool
}

// Stats is a point-in-time snapshot of a Pool's bookkeeping, published
// as-is by internal/statssink and internal/metrics.
type Stats struct {
	Idle           int
	Shared         int
	Connections    int
	MaxConnections int
}

// New builds a Pool and warms it up to cfg.MinCached connections.
// Sharing is disabled outright (MaxShared forced to 0) when the driver
// reports a DB-API threadsafety level below 2, since the underlying
// connection object itself can't safely serve two callers at once.
func New(ctx context.Context, driver dbdriver.Driver, cfg PoolConfig, args dbdriver.ConnectArgs) (*Pool, error) {
	if driver.Threadsafety() < 1 {
		return nil, &NotSupportedError{Reason: "driver reports threadsafety 0: module itself can't be shared"}
	}
	if cfg.MinCached < 0 {
		cfg.MinCached = 0
	}
	if cfg.MaxCached < 0 {
		cfg.MaxCached = 0
	}
	if cfg.MaxShared < 0 {
		cfg.MaxShared = 0
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.Steady.MaxUsage < 0 {
		cfg.Steady.MaxUsage = 0
	}
	if cfg.MaxShared > 0 && driver.Threadsafety() < 2 {
		cfg.MaxShared = 0
	}
	if cfg.MaxCached > 0 && cfg.MaxCached < cfg.MinCached {
		cfg.MaxCached = cfg.MinCached
	}
	if cfg.MaxConnections > 0 {
		if cfg.MaxConnections < cfg.MaxCached {
			cfg.MaxConnections = cfg.MaxCached
		}
		if cfg.MaxConnections < cfg.MaxShared {
			cfg.MaxConnections = cfg.MaxShared
		}
	}

	p := &Pool{driver: driver, connectArgs: args, cfg: cfg}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.MinCached; i++ {
		lease, err := p.DedicatedConnection(ctx)
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
		lease.Close()
	}
	return p, nil
}

func (p *Pool) createSteady(ctx context.Context) (*steady.Connection, error) {
	cfg := p.cfg.Steady
	cfg.Closeable = true
	return steady.Open(ctx, p.driver, cfg, p.connectArgs)
}

// waitLocked returns TooManyConnections at once under the non-blocking
// policy, or waits on cond under the blocking one. Caller holds
// p.mu. There is no cancellation or timeout at this layer (spec.md §5):
// a blocking wait is unbounded except by another goroutine freeing a
// slot or closing the pool.
func (p *Pool) waitLocked() error {
	if !p.cfg.Blocking {
		return TooManyConnections
	}
	start := time.Now()
	p.cond.Wait()
	metrics.AcquireWaitSeconds.WithLabelValues(p.cfg.BucketID).Observe(time.Since(start).Seconds())
	if p.closed {
		return Error
	}
	return nil
}

func popIdle(idle *[]*steady.Connection) *steady.Connection {
	s := *idle
	c := s[0]
	*idle = s[1:]
	return c
}

// Connection acquires a lease. shareable requests the shared discipline;
// it is honored only when the pool allows sharing at all (MaxShared > 0).
func (p *Pool) Connection(ctx context.Context, shareable bool) (Lease, error) {
	if shareable && p.cfg.MaxShared > 0 {
		return p.sharedConnection(ctx)
	}
	return p.DedicatedConnection(ctx)
}

// DedicatedConnection always acquires the exclusive discipline.
func (p *Pool) DedicatedConnection(ctx context.Context) (Lease, error) {
	p.mu.Lock()
	for p.cfg.MaxConnections > 0 && p.connections >= p.cfg.MaxConnections {
		if err := p.waitLocked(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}

	var conn *steady.Connection
	if len(p.idle) > 0 {
		conn = popIdle(&p.idle)
		p.mu.Unlock()
		conn.PingOnAcquireCheck(ctx)
		p.mu.Lock()
	} else {
		var err error
		conn, err = p.createSteady(ctx)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.connections++
	p.mu.Unlock()

	return &DedicatedLease{pool: p, conn: conn}, nil
}

func (p *Pool) sharedConnection(ctx context.Context) (Lease, error) {
	p.mu.Lock()

	for len(p.shared) == 0 && p.cfg.MaxConnections > 0 && p.connections >= p.cfg.MaxConnections {
		if err := p.waitLocked(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}

	var rec *SharedRecord
	if len(p.shared) < p.cfg.MaxShared {
		var conn *steady.Connection
		if len(p.idle) > 0 {
			conn = popIdle(&p.idle)
			conn.PingOnAcquireCheck(ctx)
		} else {
			var err error
			conn, err = p.createSteady(ctx)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
		}
		rec = &SharedRecord{conn: conn, shares: 1}
		p.connections++
	} else {
		sortShared(p.shared)
		rec = p.shared[0]
		p.shared = p.shared[1:]
		for rec.conn.InTransaction() {
			p.shared = append([]*SharedRecord{rec}, p.shared...)
			if err := p.waitLocked(); err != nil {
				p.mu.Unlock()
				return nil, err
			}
			sortShared(p.shared)
			rec = p.shared[0]
			p.shared = p.shared[1:]
		}
		rec.conn.PingOnAcquireCheck(ctx)
		rec.shares++
	}
	p.shared = append(p.shared, rec)
	p.cond.Signal()
	p.mu.Unlock()

	return &SharedLease{pool: p, record: rec, conn: rec.conn}, nil
}

// SteadyConnection is the unpooled escape hatch (spec.md §6): a
// steady.Connection with the same driver, args and policy as the pool's
// own, but always closeable and never counted against MaxConnections.
func (p *Pool) SteadyConnection(ctx context.Context) (*steady.Connection, error) {
	cfg := p.cfg.Steady
	cfg.Closeable = true
	return steady.Open(ctx, p.driver, cfg, p.connectArgs)
}

// Cache returns a dedicated connection to the idle pool, or closes it
// outright if the idle cache is already at MaxCached.
func (p *Pool) Cache(ctx context.Context, conn *steady.Connection) {
	conn.Reset(ctx, p.cfg.Reset)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close(ctx)
		return
	}
	if p.cfg.MaxCached == 0 || len(p.idle) < p.cfg.MaxCached {
		p.idle = append(p.idle, conn)
	} else {
		conn.Close(ctx)
	}
	p.connections--
	p.cond.Signal()
	p.mu.Unlock()
}

// Unshare drops one share from rec; once the last share is released the
// connection is reset and handed to Cache exactly like a dedicated
// return.
func (p *Pool) Unshare(ctx context.Context, rec *SharedRecord) {
	p.mu.Lock()
	rec.shares--
	zero := rec.shares == 0
	if zero {
		removeRecord(&p.shared, rec)
	}
	p.cond.Signal()
	p.mu.Unlock()

	if zero {
		p.Cache(ctx, rec.conn)
	}
}

// Stats reports a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:           len(p.idle),
		Shared:         len(p.shared),
		Connections:    p.connections,
		MaxConnections: p.cfg.MaxConnections,
	}
}

// Close tears down every idle and shared connection and wakes every
// waiter with Error. It does not wait for outstanding leases to be
// returned; a lease returned after Close simply closes its connection
// instead of caching it.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	for _, c := range p.idle {
		c.Close(ctx)
	}
	p.idle = nil
	for _, r := range p.shared {
		r.conn.Close(ctx)
	}
	p.shared = nil
	p.connections = 0
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
