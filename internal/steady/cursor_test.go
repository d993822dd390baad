package steady_test

import (
	"context"
	"errors"
	"testing"

	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

func TestCursor_ClosedReturnsInvalidCursor(t *testing.T) {
	con, _ := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := cur.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := cur.Execute(ctx, "SELECT 1"); !errors.Is(err, steady.InvalidCursor) {
		t.Fatalf("Execute after close = %v, want InvalidCursor", err)
	}
	if _, err := cur.Fetch(ctx); !errors.Is(err, steady.InvalidCursor) {
		t.Fatalf("Fetch after close = %v, want InvalidCursor", err)
	}
}

func TestCursor_ExecuteWithSizesSurvivesAFailoverSwap(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	cur.SetInputSizes([]any{10})
	cur.SetOutputSize(20, 0)

	// Force a fresh-connection swap and confirm the call still succeeds
	// with sizes recorded. The mock cursor ignores SetInputSizes and
	// SetOutputSize, so this checks only that the swap path replays them
	// without failing; it does not observe the replayed values.
	driver.Conns()[0].FailNextExecutes(2, dbdriver.KindOperational)
	if _, err := cur.Execute(ctx, "INSERT INTO t VALUES (?)", 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestCursor_CallRoutesThroughSameRetryLadder(t *testing.T) {
	con, driver := openMock(t, steady.Config{Closeable: true})
	ctx := context.Background()

	cur, err := con.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	driver.Conns()[0].FailNextExecutes(1, dbdriver.KindInternal)

	if _, err := cur.Call(ctx, "sp_do_thing"); err != nil {
		t.Fatalf("Call should recover transparently, got: %v", err)
	}
	if con.Usage() != 1 {
		t.Fatalf("usage = %d, want 1", con.Usage())
	}
}
