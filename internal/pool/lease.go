package pool

import (
	"context"
	"sync"

	"github.com/joao-brasil/steadydb/internal/steady"
)

// Lease is what a caller actually holds: a handle on one steady
// connection plus a contract for giving it back. Both leasing
// disciplines (dedicated, shared) satisfy it.
//
// This replaces the original's attribute-forwarding proxy objects
// (PooledDedicatedDBConnection/PooledSharedDBConnection, which forward
// arbitrary attribute access to the wrapped connection via
// `__getattr__`) with an explicit interface plus a Raw escape hatch for
// anything not covered by it, per spec.md §9's "Proxy-via-attribute-
// forwarding" re-architecture guidance.
type Lease interface {
	Cursor(ctx context.Context) (*steady.Cursor, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Raw exposes the underlying steady.Connection for anything the
	// Lease interface doesn't cover (e.g. Use, Ping). It returns
	// InvalidConnection once the lease has been returned to the pool.
	Raw() (*steady.Connection, error)
	// Close returns the connection to the pool. Idempotent.
	Close() error
}

// DedicatedLease owns a steady.Connection exclusively until Close.
type DedicatedLease struct {
	mu   sync.Mutex
	pool *Pool
	conn *steady.Connection
}

func (l *DedicatedLease) Raw() (*steady.Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, InvalidConnection
	}
	return l.conn, nil
}

func (l *DedicatedLease) Cursor(ctx context.Context) (*steady.Cursor, error) {
	conn, err := l.Raw()
	if err != nil {
		return nil, err
	}
	return conn.Cursor(ctx)
}

func (l *DedicatedLease) Begin(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	return conn.Begin(ctx)
}

func (l *DedicatedLease) Commit(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	return conn.Commit(ctx)
}

func (l *DedicatedLease) Rollback(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	return conn.Rollback(ctx)
}

func (l *DedicatedLease) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	l.pool.Cache(context.Background(), conn)
	return nil
}

// SharedLease points at a steady.Connection that may be concurrently
// held by other SharedLeases. Begin marks the underlying connection as
// mid-transaction, which removes it from consideration for further
// sharing (spec.md §3's ordering law) until Commit/Rollback clears it.
type SharedLease struct {
	mu     sync.Mutex
	pool   *Pool
	record *SharedRecord
	conn   *steady.Connection
}

func (l *SharedLease) Raw() (*steady.Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, InvalidConnection
	}
	return l.conn, nil
}

func (l *SharedLease) Cursor(ctx context.Context) (*steady.Cursor, error) {
	conn, err := l.Raw()
	if err != nil {
		return nil, err
	}
	return conn.Cursor(ctx)
}

func (l *SharedLease) Begin(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	return conn.Begin(ctx)
}

func (l *SharedLease) Commit(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	err = conn.Commit(ctx)
	l.pool.mu.Lock()
	l.pool.cond.Signal()
	l.pool.mu.Unlock()
	return err
}

func (l *SharedLease) Rollback(ctx context.Context) error {
	conn, err := l.Raw()
	if err != nil {
		return err
	}
	err = conn.Rollback(ctx)
	l.pool.mu.Lock()
	l.pool.cond.Signal()
	l.pool.mu.Unlock()
	return err
}

func (l *SharedLease) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	rec := l.record
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	l.pool.Unshare(context.Background(), rec)
	return nil
}
