package dbdriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockDriver is a deterministic, fully inspectable Driver implementation
// for exercising steady.Connection and pool.Pool without a real database.
// It is modeled on the original DBUtils test suite's fake DB-API modules
// (TestSolidPg / TestPooledPg): every raw connection it hands out records
// its own history (closed, commits, rollbacks, executed statements) so
// tests can assert on connection identity and lifecycle.
type MockDriver struct {
	mu sync.Mutex

	threadsafety int
	nextID       int64

	// failNConnects, when > 0, makes the next N Connect calls fail before
	// succeeding.
	failNConnects int

	// conns records every raw connection ever created, in creation order.
	conns []*MockConn
}

// NewMockDriver returns a MockDriver with the given DB-API style
// threadsafety level (see dbdriver.Driver.Threadsafety).
func NewMockDriver(threadsafety int) *MockDriver {
	return &MockDriver{threadsafety: threadsafety}
}

func (d *MockDriver) Threadsafety() int               { return d.threadsafety }
func (d *MockDriver) DefaultFailures() []FailureKind { return DefaultFailures() }

// FailNextConnects arranges for the next n calls to Connect to fail.
func (d *MockDriver) FailNextConnects(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNConnects = n
}

func (d *MockDriver) Connect(ctx context.Context, args ConnectArgs) (RawConn, error) {
	d.mu.Lock()
	if d.failNConnects > 0 {
		d.failNConnects--
		d.mu.Unlock()
		return nil, &DriverError{Kind: KindOperational, Err: fmt.Errorf("mock: connect refused")}
	}
	d.nextID++
	id := d.nextID
	d.mu.Unlock()

	c := &MockConn{id: id, args: args}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Conns returns every raw connection ever created by this driver, in
// creation order. Useful for asserting connection identity across
// acquire/release cycles (spec scenario S2).
func (d *MockDriver) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// MockConn is one raw connection handed out by MockDriver.
type MockConn struct {
	id   int64
	args ConnectArgs

	mu         sync.Mutex
	closed     bool
	commits    int
	rollbacks  int
	pingCalls  int
	pingAlive  bool
	pingErr    error
	noPing     bool // simulate a driver without a Ping method at all
	failExecN  int  // next N Execute/Call on any cursor fail with failNKind
	failNKind  FailureKind
	sessionLog []string
}

// ID is a stable identity for this raw connection, useful for asserting
// "same underlying connection returned" across pool acquire/release.
func (c *MockConn) ID() int64 { return c.id }

// SetAlive controls what Ping reports.
func (c *MockConn) SetAlive(alive bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingAlive, c.pingErr = alive, err
}

// DisablePing simulates a driver with no ping capability: the mock
// connection will not implement Pinger at all would be ideal, but Go
// interfaces are static, so instead Ping itself reports "unsupported" by
// returning the sentinel ErrPingUnsupported.
func (c *MockConn) DisablePing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noPing = true
}

// FailNextExecutes makes the next n tough-method calls on any cursor
// opened from this connection fail with the given failure kind.
func (c *MockConn) FailNextExecutes(n int, kind FailureKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failExecN = n
	c.failNKind = kind
}

func (c *MockConn) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func (c *MockConn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConn) Cursor(ctx context.Context) (RawCursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &DriverError{Kind: KindOperational, Err: fmt.Errorf("mock: connection %d closed", c.id)}
	}
	return &mockCursor{conn: c}, nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *MockConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return nil
}

func (c *MockConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	return nil
}

func (c *MockConn) Begin(ctx context.Context) error { return nil }

func (c *MockConn) Ping(ctx context.Context, reconnect bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noPing {
		return false, ErrPingUnsupported
	}
	c.pingCalls++
	return c.pingAlive, c.pingErr
}

// PingCalls reports how many times Ping was invoked on this connection.
func (c *MockConn) PingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingCalls
}

type mockCursor struct {
	conn   *MockConn
	closed atomic.Bool
}

func (mc *mockCursor) tough(kind string, name string, args ...any) (Result, error) {
	mc.conn.mu.Lock()
	if mc.conn.failExecN > 0 {
		mc.conn.failExecN--
		failKind := mc.conn.failNKind
		mc.conn.sessionLog = append(mc.conn.sessionLog, fmt.Sprintf("%s:%s:fail", kind, name))
		mc.conn.mu.Unlock()
		return Result{}, &DriverError{Kind: failKind, Err: fmt.Errorf("mock: %s failed", name)}
	}
	mc.conn.sessionLog = append(mc.conn.sessionLog, fmt.Sprintf("%s:%s:ok", kind, name))
	mc.conn.mu.Unlock()
	return Result{RowsAffected: int64(len(args))}, nil
}

func (mc *mockCursor) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	return mc.tough("execute", query, args...)
}

func (mc *mockCursor) Call(ctx context.Context, proc string, args ...any) (Result, error) {
	return mc.tough("call", proc, args...)
}

func (mc *mockCursor) SetInputSizes([]any)    {}
func (mc *mockCursor) SetOutputSize(int, int) {}

func (mc *mockCursor) Fetch(ctx context.Context) ([]Row, error) {
	return nil, nil
}

func (mc *mockCursor) Close() error {
	mc.closed.Store(true)
	return nil
}
