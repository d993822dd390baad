package pool_test

import (
	"context"
	"testing"

	"github.com/joao-brasil/steadydb/internal/pool"
	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/bucket"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

func TestManager_AcquireReleaseAcrossBuckets(t *testing.T) {
	ctx := context.Background()
	driver := dbdriver.NewMockDriver(1)
	buckets := []bucket.Bucket{
		{ID: "orders", Host: "db1", Port: 1433, MaxConnections: 2},
		{ID: "inventory", Host: "db2", Port: 1433, MaxConnections: 1},
	}

	mgr, err := pool.NewManager(ctx, driver, buckets, func(b bucket.Bucket) pool.PoolConfig {
		return pool.PoolConfig{
			MaxConnections: b.MaxConnections,
			Steady:         steady.Config{Closeable: true},
		}
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close(ctx)

	lease, err := mgr.Acquire(ctx, "orders", false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	cur, err := lease.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if _, err := cur.Execute(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cur.Close()
	if err := mgr.Release("orders", lease); err != nil {
		t.Fatalf("Release: %v", err)
	}

	stats := mgr.Stats()
	if _, ok := stats["orders"]; !ok {
		t.Fatal("expected stats for bucket \"orders\"")
	}
	if _, ok := stats["inventory"]; !ok {
		t.Fatal("expected stats for bucket \"inventory\"")
	}
}

func TestManager_AcquireUnknownBucket(t *testing.T) {
	ctx := context.Background()
	driver := dbdriver.NewMockDriver(1)
	mgr, err := pool.NewManager(ctx, driver, []bucket.Bucket{{ID: "orders", Host: "db1", Port: 1433, MaxConnections: 1}},
		func(b bucket.Bucket) pool.PoolConfig {
			return pool.PoolConfig{MaxConnections: b.MaxConnections, Steady: steady.Config{Closeable: true}}
		})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close(ctx)

	if _, err := mgr.Acquire(ctx, "does-not-exist", false); err == nil {
		t.Fatal("expected an error for an unknown bucket")
	}
}
