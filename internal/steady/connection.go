// Package steady hardens one raw driver connection against transient
// failures. A Connection transparently reopens its underlying
// dbdriver.RawConn on a failover-class error and enforces an optional
// per-connection usage cap; a Cursor layers the same failover discipline
// onto execute/call operations only.
package steady

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

// PingMask selects when Connection health-checks itself. The bit values
// are part of the wire-compatible configuration surface and must not be
// renumbered.
type PingMask int

const (
	PingOnAcquire PingMask = 1 << iota // checked when taken from a pool
	PingOnCursor                       // checked when a cursor is created
	PingOnExecute                      // checked before execute/call
)

// Config carries the per-connection policy knobs of spec.md §3/§6.
type Config struct {
	// MaxUsage is the number of successful cursor operations this
	// connection may serve before the next acquisition forces a reopen.
	// 0 means unlimited.
	MaxUsage int
	// SetSession is replayed, in order, on every (re)open before the
	// connection is handed to anyone.
	SetSession []string
	// Failures is the failover class. Nil means the driver's default.
	Failures []dbdriver.FailureKind
	// Ping selects when to health-check (see PingMask).
	Ping PingMask
	// Closeable, if false, makes Close perform a rollback-reset instead
	// of tearing the connection down.
	Closeable bool
	// OnFailover, if set, is called every time this Connection transparently
	// swaps its raw connection out for a fresh one (failover retry, a
	// dead-ping reconnect, or a usage-cap forced reopen). Used by callers
	// that want to count these events; never blocks the retry protocol.
	OnFailover func()
	// OnQuery, if set, is called after every Execute/Call with its
	// wall-clock duration, regardless of outcome.
	OnQuery func(time.Duration)
}

// Connection is a self-healing wrapper around one dbdriver.RawConn.
type Connection struct {
	driver      dbdriver.Driver
	connectArgs dbdriver.ConnectArgs
	cfg         Config
	failures    []dbdriver.FailureKind

	// mu serializes all bookkeeping and driver calls made through this
	// Connection. A Connection may be handed to several concurrent
	// callers via the pool's shared-lease path; the retry protocol in
	// Cursor's tough methods mutates raw/usage/inTransaction across
	// several sequential driver calls and must see a consistent view,
	// so the whole operation — including the underlying driver I/O — is
	// serialized here rather than released mid-retry. This trades away
	// true concurrent execution on a single shared connection (left to
	// drivers with DB-API threadsafety level 3) for a simple, clearly
	// correct reopen protocol.
	mu            sync.Mutex
	raw           dbdriver.RawConn
	usage         int
	inTransaction bool
	closed        bool
	pingMask      PingMask
}

// Open creates a new Connection: it opens a raw connection, runs
// SetSession, and returns a ready-to-use Connection. On any setup error
// the raw handle is closed before the error is returned.
func Open(ctx context.Context, driver dbdriver.Driver, cfg Config, args dbdriver.ConnectArgs) (*Connection, error) {
	failures := cfg.Failures
	if failures == nil {
		failures = driver.DefaultFailures()
	}
	c := &Connection{
		driver:      driver,
		connectArgs: args,
		cfg:         cfg,
		failures:    failures,
		pingMask:    cfg.Ping,
	}
	raw, err := c.create(ctx)
	if err != nil {
		return nil, err
	}
	c.store(raw)
	return c, nil
}

// create opens a brand new raw connection and runs SetSession on it. It
// does not touch c's stored state; callers adopt the result via store.
func (c *Connection) create(ctx context.Context) (dbdriver.RawConn, error) {
	raw, err := c.driver.Connect(ctx, c.connectArgs)
	if err != nil {
		return nil, err
	}
	if err := c.runSetSession(ctx, raw); err != nil {
		raw.Close()
		return nil, err
	}
	return raw, nil
}

func (c *Connection) runSetSession(ctx context.Context, raw dbdriver.RawConn) error {
	if len(c.cfg.SetSession) == 0 {
		return nil
	}
	cur, err := raw.Cursor(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	for _, sql := range c.cfg.SetSession {
		if _, err := cur.Execute(ctx, sql); err != nil {
			return fmt.Errorf("setsession %q: %w", sql, err)
		}
	}
	return nil
}

// store adopts raw as the live connection, resetting usage and
// transaction/closed state. Caller must hold c.mu.
func (c *Connection) store(raw dbdriver.RawConn) {
	c.raw = raw
	c.inTransaction = false
	c.closed = false
	c.usage = 0
}

func (c *Connection) isFailover(err error) bool {
	return dbdriver.IsFailover(err, c.failures)
}

// notifyFailover reports a transparent raw-connection swap to cfg.OnFailover,
// if set. Caller must hold c.mu.
func (c *Connection) notifyFailover() {
	if c.cfg.OnFailover != nil {
		c.cfg.OnFailover()
	}
}

// Usage returns the number of successful tough-method calls served by the
// currently stored raw connection.
func (c *Connection) Usage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// InTransaction reports whether Begin was called without a matching
// Commit/Rollback yet.
func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTransaction
}

// Closed reports whether this Connection is terminally closed.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Cursor returns a new Cursor bound to this Connection. If PingOnCursor
// is set and no transaction is open, the connection is health-checked
// (and transparently reopened if dead) before the cursor is created.
func (c *Connection) Cursor(ctx context.Context) (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inTransaction {
		c.pingCheckLocked(ctx, PingOnCursor, true)
	}

	raw, err := c.acquireRawCursorLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &Cursor{con: c, raw: raw, outputSizes: map[int]int{}}, nil
}

// acquireRawCursorLocked implements SteadyConnection._cursor: it forces a
// reopen when the usage cap is reached, then asks the live raw connection
// for a cursor, recovering via one reconnect-and-retry on a failover
// error. Caller must hold c.mu.
func (c *Connection) acquireRawCursorLocked(ctx context.Context) (dbdriver.RawCursor, error) {
	transaction := c.inTransaction

	if c.cfg.MaxUsage > 0 && c.usage >= c.cfg.MaxUsage {
		return c.reopenForCursorLocked(ctx, transaction, &dbdriver.DriverError{Kind: dbdriver.KindOperational, Err: errUsageCapReached})
	}

	cur, err := c.raw.Cursor(ctx)
	if err == nil {
		return cur, nil
	}
	if !c.isFailover(err) {
		return nil, err
	}
	return c.reopenForCursorLocked(ctx, transaction, err)
}

// reopenForCursorLocked reopens the raw connection and retries obtaining
// a cursor once, per spec.md §4.1 `_cursor`. On success outside a
// transaction it adopts the new connection and returns the new cursor;
// inside a transaction it adopts the new connection but re-raises the
// original error, since the transaction is already lost.
func (c *Connection) reopenForCursorLocked(ctx context.Context, transaction bool, origErr error) (dbdriver.RawCursor, error) {
	newRaw, err := c.create(ctx)
	if err != nil {
		if transaction {
			c.inTransaction = false
		}
		return nil, origErr
	}

	cur, err := newRaw.Cursor(ctx)
	if err != nil {
		newRaw.Close()
		if transaction {
			c.inTransaction = false
		}
		return nil, origErr
	}

	c.closeRawLocked()
	c.store(newRaw)
	c.notifyFailover()
	if transaction {
		return cur, origErr
	}
	return cur, nil
}

// PingOnAcquireCheck runs the PingOnAcquire health check (spec.md §4.3's
// "ping-check it, bit 1"), used by pool.Pool when handing out a
// connection taken from the idle cache or an existing shared record. It
// is a no-op while a transaction is open.
func (c *Connection) PingOnAcquireCheck(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTransaction {
		c.pingCheckLocked(ctx, PingOnAcquire, true)
	}
}

// Ping directly exercises the driver's liveness check, if it has one.
func (c *Connection) Ping(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinger, ok := c.raw.(dbdriver.Pinger)
	if !ok {
		return false, dbdriver.ErrPingUnsupported
	}
	return pinger.Ping(ctx, false)
}

// pingCheckLocked implements SteadyConnection._ping_check. Caller must
// hold c.mu.
func (c *Connection) pingCheckLocked(ctx context.Context, bit PingMask, reconnect bool) {
	if c.pingMask&bit == 0 {
		return
	}
	pinger, ok := c.raw.(dbdriver.Pinger)
	if !ok {
		c.pingMask = 0
		return
	}

	alive, err := pinger.Ping(ctx, false)
	if errors.Is(err, dbdriver.ErrPingUnsupported) {
		c.pingMask = 0
		return
	}
	if err != nil {
		alive = false
	}
	if alive {
		reconnect = false
	}
	if reconnect && !c.inTransaction {
		if newRaw, err := c.create(ctx); err == nil {
			c.closeRawLocked()
			c.store(newRaw)
			c.notifyFailover()
		}
	}
}

// Begin marks the start of a transaction. While a transaction is open,
// the underlying raw connection is never swapped out from under the
// caller (invariant I2), and the shared-lease path in pool.Pool will
// never hand this connection to a second concurrent user.
func (c *Connection) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTransaction = true
	if b, ok := c.raw.(dbdriver.Beginner); ok {
		return b.Begin(ctx)
	}
	return nil
}

// Commit ends the transaction. On a failover-class error, the connection
// is rotated (best-effort) before the original error is re-raised — the
// transaction is gone either way, and the caller must know that.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTransaction = false
	err := c.raw.Commit()
	if err == nil {
		return nil
	}
	if c.isFailover(err) {
		if newRaw, cerr := c.create(ctx); cerr == nil {
			c.closeRawLocked()
			c.store(newRaw)
			c.notifyFailover()
		}
	}
	return err
}

// Rollback ends the transaction, rotating the connection on a
// failover-class error exactly as Commit does.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackLocked(ctx)
}

// rollbackLocked rolls back the raw connection, rotating it on a
// failover-class error so a caller is never left holding a dead raw
// handle. Caller must hold c.mu.
func (c *Connection) rollbackLocked(ctx context.Context) error {
	c.inTransaction = false
	err := c.raw.Rollback()
	if err == nil {
		return nil
	}
	if c.isFailover(err) {
		if newRaw, cerr := c.create(ctx); cerr == nil {
			c.closeRawLocked()
			c.store(newRaw)
			c.notifyFailover()
		}
	}
	return err
}

// Cancel forwards to the raw connection's Cancel, if it implements one.
func (c *Connection) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTransaction = false
	if cncl, ok := c.raw.(dbdriver.Canceller); ok {
		return cncl.Cancel(ctx)
	}
	return nil
}

// Close tears down the connection, unless it was configured as
// non-closeable, in which case a dangling transaction is rolled back and
// the connection is kept alive for reuse.
func (c *Connection) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Closeable {
		c.closeRawLocked()
		return
	}
	if c.inTransaction {
		c.resetLocked(ctx, true)
	}
}

// closeRawLocked tears the connection down unconditionally. Caller must
// hold c.mu.
func (c *Connection) closeRawLocked() {
	if c.closed {
		return
	}
	if c.raw != nil {
		c.raw.Close()
	}
	c.inTransaction = false
	c.closed = true
}

// Reset rolls back any dangling transaction, or always rolls back when
// force is set — used by the pool when a connection is returned.
func (c *Connection) Reset(ctx context.Context, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(ctx, force)
}

func (c *Connection) resetLocked(ctx context.Context, force bool) {
	if c.closed || !(force || c.inTransaction) {
		return
	}
	c.rollbackLocked(ctx)
}

// Use runs fn against a cursor opened on this connection inside a
// transaction: fn's success commits, any error (including a panic,
// which is re-thrown after rollback) rolls back. This is the Go
// equivalent of the original SteadyDBConnection's context-manager
// protocol (__enter__/__exit__).
func (c *Connection) Use(ctx context.Context, fn func(*Cursor) error) (err error) {
	if err = c.Begin(ctx); err != nil {
		return err
	}
	cur, err := c.Cursor(ctx)
	if err != nil {
		c.Rollback(ctx)
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			cur.Close()
			c.Rollback(ctx)
			panic(r)
		}
	}()
	if err = fn(cur); err != nil {
		cur.Close()
		c.Rollback(ctx)
		return err
	}
	cur.Close()
	return c.Commit(ctx)
}
