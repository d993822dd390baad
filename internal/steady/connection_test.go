package steady_test

import (
	"context"
	"errors"
	"testing"

	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

func openMock(t *testing.T, cfg steady.Config) (*steady.Connection, *dbdriver.MockDriver) {
	t.Helper()
	driver := dbdriver.NewMockDriver(1)
	con, err := steady.Open(context.Background(), driver, cfg, dbdriver.ConnectArgs{DSN: "mock"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return con, driver
}

func TestOpen_Success(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	if con.Usage() != 0 {
		t.Fatalf("usage = %d, want 0", con.Usage())
	}
	if con.InTransaction() {
		t.Fatal("freshly opened connection should not be in a transaction")
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1", len(driver.Conns()))
	}
}

func TestOpen_ConnectFailure(t *testing.T) {
	driver := dbdriver.NewMockDriver(1)
	driver.FailNextConnects(1)
	if _, err := steady.Open(context.Background(), driver, steady.Config{Closeable: true}, dbdriver.ConnectArgs{DSN: "mock"}); err == nil {
		t.Fatal("expected error from Open")
	}
}

func TestCursor_ExecuteIncrementsUsage(t *testing.T) {
	con, _ := openMock(t, steady.Config{Closeable: true})
	cur, err := con.Cursor(context.Background())
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if _, err := cur.Execute(context.Background(), "SELECT 1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if con.Usage() != 1 {
		t.Fatalf("usage = %d, want 1", con.Usage())
	}
}

func TestCursor_MaxUsageForcesReopen(t *testing.T) {
	con, driver := openMock(t, steady.Config{MaxUsage: 1, Closeable: true})
	ctx := context.Background()

	cur1, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if _, err := cur1.Execute(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := con.Cursor(ctx); err != nil {
		t.Fatalf("Cursor after cap: %v", err)
	}
	if len(driver.Conns()) != 2 {
		t.Fatalf("conns = %d, want 2 (usage cap should force a reopen)", len(driver.Conns()))
	}
	if con.Usage() != 0 {
		t.Fatalf("usage = %d, want 0 after reopen", con.Usage())
	}
}

func TestCursor_FailoverSameConnectionRetry(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	driver.Conns()[0].FailNextExecutes(1, dbdriver.KindOperational)

	if _, err := cur.Execute(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Execute should recover transparently, got: %v", err)
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1 (same connection should be reused)", len(driver.Conns()))
	}
	if con.Usage() != 1 {
		t.Fatalf("usage = %d, want 1", con.Usage())
	}
}

func TestCursor_FailoverFreshConnectionRetry(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	// Fail both the original attempt and the same-connection retry, so
	// recovery must fall through to a fresh connection.
	driver.Conns()[0].FailNextExecutes(2, dbdriver.KindOperational)

	if _, err := cur.Execute(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Execute should recover via a fresh connection, got: %v", err)
	}
	if len(driver.Conns()) != 2 {
		t.Fatalf("conns = %d, want 2", len(driver.Conns()))
	}
	if con.Usage() != 1 {
		t.Fatalf("usage = %d, want 1", con.Usage())
	}
}

// failNewConnsDriver arms every connection it opens to fail its first
// tough-method call with kind. MockConn failures are per connection, so
// this is how a fresh connection opened during recovery is made to fail.
type failNewConnsDriver struct {
	*dbdriver.MockDriver
	kind dbdriver.FailureKind
}

func (d failNewConnsDriver) Connect(ctx context.Context, args dbdriver.ConnectArgs) (dbdriver.RawConn, error) {
	raw, err := d.MockDriver.Connect(ctx, args)
	if err == nil {
		raw.(*dbdriver.MockConn).FailNextExecutes(1, d.kind)
	}
	return raw, err
}

func TestCursor_FailoverSameClassKeepsOriginalError(t *testing.T) {
	driver := dbdriver.NewMockDriver(1)
	ctx := context.Background()
	con, err := steady.Open(ctx, failNewConnsDriver{driver, dbdriver.KindOperational}, steady.Config{Closeable: true}, dbdriver.ConnectArgs{DSN: "mock"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	// Original attempt, same-connection retry, and fresh-connection retry
	// all fail with the same kind: the original error must survive
	// untouched and usage must not advance. The first connection fails
	// twice; the fresh one fails once on its own.
	driver.Conns()[0].FailNextExecutes(2, dbdriver.KindOperational)

	_, err = cur.Execute(ctx, "SELECT 1")
	if err == nil {
		t.Fatal("expected the original failover error to survive")
	}
	if con.Usage() != 0 {
		t.Fatalf("usage = %d, want 0", con.Usage())
	}
}

func TestConnection_BeginFailoverClearsTransaction(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	if err := con.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	driver.Conns()[0].FailNextExecutes(1, dbdriver.KindOperational)

	if _, err := cur.Execute(ctx, "UPDATE t SET x = 1"); err == nil {
		t.Fatal("expected the failover error to survive a mid-transaction reopen")
	}
	if con.InTransaction() {
		t.Fatal("a forced reopen mid-transaction should leave the transaction cleared")
	}
	if len(driver.Conns()) != 2 {
		t.Fatalf("conns = %d, want 2 (transaction loss forces an immediate fresh connection)", len(driver.Conns()))
	}
}

func TestConnection_PingUnsupportedDisablesPermanently(t *testing.T) {
	driver := dbdriver.NewMockDriver(1)
	con, err := steady.Open(context.Background(), driver, steady.Config{Ping: steady.PingOnCursor, Closeable: true}, dbdriver.ConnectArgs{DSN: "mock"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	driver.Conns()[0].DisablePing()

	ctx := context.Background()
	if _, err := con.Cursor(ctx); err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if _, err := con.Cursor(ctx); err != nil {
		t.Fatalf("Cursor (second): %v", err)
	}
	if len(driver.Conns()) != 1 {
		t.Fatalf("conns = %d, want 1 (no reconnect should be attempted once ping is unsupported)", len(driver.Conns()))
	}
}

func TestConnection_PingDeadTriggersReconnect(t *testing.T) {
	driver := dbdriver.NewMockDriver(1)
	con, err := steady.Open(context.Background(), driver, steady.Config{Ping: steady.PingOnCursor, Closeable: true}, dbdriver.ConnectArgs{DSN: "mock"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	driver.Conns()[0].SetAlive(false, nil)

	if _, err := con.Cursor(context.Background()); err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if len(driver.Conns()) != 2 {
		t.Fatalf("conns = %d, want 2 (dead ping should trigger a reconnect)", len(driver.Conns()))
	}
}

func TestConnection_UseCommitsOnSuccess(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	err := con.Use(context.Background(), func(cur *steady.Cursor) error {
		_, err := cur.Execute(context.Background(), "INSERT INTO t VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	mc := driver.Conns()[0]
	if mc.Commits() != 1 || mc.Rollbacks() != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/0", mc.Commits(), mc.Rollbacks())
	}
}

func TestConnection_UseRollsBackOnError(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	sentinel := errors.New("boom")
	err := con.Use(context.Background(), func(cur *steady.Cursor) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	mc := driver.Conns()[0]
	if mc.Rollbacks() != 1 || mc.Commits() != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", mc.Commits(), mc.Rollbacks())
	}
}
