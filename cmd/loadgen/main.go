// Package main is a load generator that exercises a running
// configuration's pools directly (in-process), without a network proxy
// in front of them: it opens pool.Manager against the same buckets
// config as cmd/poolserver and drives concurrent acquire/execute/release
// cycles against it, reporting success and failure counts.
package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/steadydb/internal/config"
	"github.com/joao-brasil/steadydb/internal/pool"
	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/bucket"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

var (
	serverConfigPath  = flag.String("config", "configs/server.yaml", "Path to server configuration file")
	bucketsConfigPath = flag.String("buckets", "configs/buckets.yaml", "Path to buckets configuration file")
	concurrency       = flag.Int("concurrency", 20, "Number of concurrent workers per bucket")
	duration          = flag.Duration("duration", 30*time.Second, "How long to run the load")
	shared            = flag.Bool("shared", false, "Use shared leases instead of dedicated ones")
	query             = flag.String("query", "SELECT 1", "Query executed on every cycle")
)

func toPoolConfig(b bucket.Bucket) pool.PoolConfig {
	return pool.PoolConfig{
		MinCached:      b.MinCached,
		MaxCached:      b.MaxCached,
		MaxShared:      b.MaxShared,
		MaxConnections: b.MaxConnections,
		Blocking:       b.Blocking,
		Reset:          b.Reset,
		Steady: steady.Config{
			MaxUsage:   b.MaxUsage,
			SetSession: b.SetSession,
			Ping:       steady.PingMask(b.Ping),
		},
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*serverConfigPath, *bucketsConfigPath)
	if err != nil {
		log.Fatalf("[loadgen] loading config: %v", err)
	}

	driver := dbdriver.MSSQLDriver{}
	ctx := context.Background()
	mgr, err := pool.NewManager(ctx, driver, cfg.Buckets, toPoolConfig)
	if err != nil {
		log.Fatalf("[loadgen] initializing pool manager: %v", err)
	}
	defer mgr.Close(ctx)

	var successes, failures int64
	deadline := time.Now().Add(*duration)

	var wg sync.WaitGroup
	for _, b := range cfg.Buckets {
		for i := 0; i < *concurrency; i++ {
			wg.Add(1)
			go func(bucketID string) {
				defer wg.Done()
				for time.Now().Before(deadline) {
					if err := runCycle(ctx, mgr, bucketID); err != nil {
						atomic.AddInt64(&failures, 1)
						continue
					}
					atomic.AddInt64(&successes, 1)
				}
			}(b.ID)
		}
	}

	wg.Wait()
	log.Printf("[loadgen] done: successes=%d failures=%d", atomic.LoadInt64(&successes), atomic.LoadInt64(&failures))
}

func runCycle(ctx context.Context, mgr *pool.Manager, bucketID string) error {
	lease, err := mgr.Acquire(ctx, bucketID, *shared)
	if err != nil {
		return err
	}
	defer mgr.Release(bucketID, lease)

	cur, err := lease.Cursor(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()

	_, err = cur.Execute(ctx, *query)
	return err
}
