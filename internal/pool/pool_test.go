package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joao-brasil/steadydb/internal/pool"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

func newPool(t *testing.T, threadsafety int, cfg pool.PoolConfig) (*pool.Pool, *dbdriver.MockDriver) {
	t.Helper()
	cfg.Steady.Closeable = true
	driver := dbdriver.NewMockDriver(threadsafety)
	p, err := pool.New(context.Background(), driver, cfg, dbdriver.ConnectArgs{DSN: "mock"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, driver
}

func TestDedicatedConnection_WarmsUpAndReusesIdle(t *testing.T) {
	ctx := context.Background()
	p, driver := newPool(t, 1, pool.PoolConfig{MinCached: 1, MaxCached: 1, MaxConnections: 1})
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns after warm-up = %d, want 1", len(driver.Conns()))
	}

	lease, err := p.DedicatedConnection(ctx)
	if err != nil {
		t.Fatalf("DedicatedConnection: %v", err)
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns after acquire = %d, want 1 (idle connection should be reused)", len(driver.Conns()))
	}
	if err := lease.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stats := p.Stats()
	if stats.Idle != 1 || stats.Connections != 0 {
		t.Fatalf("stats = %+v, want idle=1 connections=0", stats)
	}
}

func TestDedicatedConnection_NonBlockingTooManyConnections(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t, 1, pool.PoolConfig{MaxConnections: 1, Blocking: false})

	lease, err := p.DedicatedConnection(ctx)
	if err != nil {
		t.Fatalf("DedicatedConnection: %v", err)
	}
	if _, err := p.DedicatedConnection(ctx); !errors.Is(err, pool.TooManyConnections) {
		t.Fatalf("second DedicatedConnection err = %v, want TooManyConnections", err)
	}
	if err := lease.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDedicatedConnection_BlockingWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t, 1, pool.PoolConfig{MaxConnections: 1, Blocking: true})

	lease1, err := p.DedicatedConnection(ctx)
	if err != nil {
		t.Fatalf("DedicatedConnection: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		lease2, err := p.DedicatedConnection(ctx)
		if err != nil {
			done <- err
			return
		}
		done <- lease2.Close()
	}()

	time.Sleep(50 * time.Millisecond)
	if err := lease1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked acquire returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking acquire never woke up after release")
	}
}

func TestSharedConnection_SharesUnderMaxShared(t *testing.T) {
	ctx := context.Background()
	// max_shared=1 caps the shared set at one distinct connection, so the
	// second acquire must take the reuse branch (spec.md §4.3 step 3)
	// instead of opening a second one (step 2, which only fires while
	// |shared| < max_shared).
	p, driver := newPool(t, 2, pool.PoolConfig{MaxShared: 1, MaxConnections: 1})

	l1, err := p.Connection(ctx, true)
	if err != nil {
		t.Fatalf("Connection 1: %v", err)
	}
	l2, err := p.Connection(ctx, true)
	if err != nil {
		t.Fatalf("Connection 2: %v", err)
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1 (both leases should share one connection)", len(driver.Conns()))
	}
	if stats := p.Stats(); stats.Shared != 1 {
		t.Fatalf("stats.Shared = %d, want 1", stats.Shared)
	}

	if err := l1.Close(); err != nil {
		t.Fatalf("Close l1: %v", err)
	}
	if stats := p.Stats(); stats.Shared != 1 || stats.Idle != 0 {
		t.Fatalf("stats after first release = %+v, want shared=1 idle=0", stats)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("Close l2: %v", err)
	}
	if stats := p.Stats(); stats.Shared != 0 || stats.Idle != 1 {
		t.Fatalf("stats after last release = %+v, want shared=0 idle=1", stats)
	}
}

func TestSharedConnection_MidTransactionRecordReinsertedAtHead(t *testing.T) {
	ctx := context.Background()
	// A single shared connection (max_shared=1) that never leaves the
	// mid-transaction state: every acquire attempt must hit the reinsert-
	// at-head-and-wait branch of sharedConnection (spec.md §4.3 step 3)
	// rather than ever being handed the transacting record.
	p, driver := newPool(t, 2, pool.PoolConfig{MaxShared: 1, MaxConnections: 1, Blocking: true})

	l1, err := p.Connection(ctx, true)
	if err != nil {
		t.Fatalf("Connection 1: %v", err)
	}
	if err := l1.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		l2, err := p.Connection(ctx, true)
		if err != nil {
			done <- err
			return
		}
		done <- l2.Close()
	}()

	// The waiter must still be blocked: the only shared record is
	// mid-transaction and max_shared=1 forbids opening a second distinct
	// connection, so sharedConnection can only reinsert-at-head and wait.
	select {
	case err := <-done:
		t.Fatalf("second shared acquire returned early (err=%v) while the sole record was mid-transaction", err)
	case <-time.After(100 * time.Millisecond):
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1 (max_shared=1 forbids a second distinct connection)", len(driver.Conns()))
	}

	if err := l1.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked shared acquire returned error after commit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shared acquire never woke up after the transaction committed")
	}

	if err := l1.Close(); err != nil {
		t.Fatalf("Close l1: %v", err)
	}
}

func TestSharingDisabledBelowThreadsafety2(t *testing.T) {
	ctx := context.Background()
	p, driver := newPool(t, 1, pool.PoolConfig{MaxShared: 5, MaxConnections: 2})

	l1, err := p.Connection(ctx, true)
	if err != nil {
		t.Fatalf("Connection 1: %v", err)
	}
	l2, err := p.Connection(ctx, true)
	if err != nil {
		t.Fatalf("Connection 2: %v", err)
	}
	if len(driver.Conns()) != 2 {
		t.Fatalf("conns = %d, want 2 (sharing must be disabled for threadsafety < 2)", len(driver.Conns()))
	}
	l1.Close()
	l2.Close()
}

func TestClose_WakesBlockedWaiters(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t, 1, pool.PoolConfig{MaxConnections: 1, Blocking: true})

	lease, err := p.DedicatedConnection(ctx)
	if err != nil {
		t.Fatalf("DedicatedConnection: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.DedicatedConnection(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	p.Close(ctx)
	_ = lease // Close leaves an outstanding dedicated lease's connection open

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the pool is closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke on Close")
	}
}

func TestSteadyConnection_UnpooledEscapeHatch(t *testing.T) {
	ctx := context.Background()
	p, driver := newPool(t, 1, pool.PoolConfig{MaxConnections: 1})

	con, err := p.SteadyConnection(ctx)
	if err != nil {
		t.Fatalf("SteadyConnection: %v", err)
	}
	defer con.Close(ctx)

	if stats := p.Stats(); stats.Connections != 0 {
		t.Fatalf("stats.Connections = %d, want 0 (escape hatch must not count against the pool)", stats.Connections)
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1", len(driver.Conns()))
	}
}
