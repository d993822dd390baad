package pool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/joao-brasil/steadydb/internal/metrics"
	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/bucket"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

// Manager owns one Pool per configured bucket and is the entry point
// cmd/poolserver wires against. It adds nothing to the single-process
// acquisition semantics of Pool itself — it just keeps the bucket-keyed
// map and the Prometheus instrumentation out of Pool's own code.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager opens one Pool per bucket using driver to connect to each
// bucket's DSN. If any bucket fails to warm up, every pool opened so far
// is closed and the error is returned.
func NewManager(ctx context.Context, driver dbdriver.Driver, buckets []bucket.Bucket, toPoolConfig func(bucket.Bucket) PoolConfig) (*Manager, error) {
	m := &Manager{pools: make(map[string]*Pool, len(buckets))}
	for _, b := range buckets {
		args := dbdriver.ConnectArgs{DSN: b.DSN()}
		cfg := toPoolConfig(b)
		cfg.BucketID = b.ID
		p, err := New(ctx, driver, cfg, args)
		if err != nil {
			m.Close(ctx)
			return nil, fmt.Errorf("bucket %q: %w", b.ID, err)
		}
		m.pools[b.ID] = p
		log.Printf("[pool] bucket %q ready: min_cached=%d max_cached=%d max_shared=%d max_connections=%d",
			b.ID, b.MinCached, b.MaxCached, b.MaxShared, b.MaxConnections)
	}
	return m, nil
}

// Pool returns the Pool for a bucket ID, if any.
func (m *Manager) Pool(bucketID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[bucketID]
	return p, ok
}

// Acquire leases a connection from the named bucket's pool, recording
// the outcome in Prometheus.
func (m *Manager) Acquire(ctx context.Context, bucketID string, shareable bool) (Lease, error) {
	p, ok := m.Pool(bucketID)
	if !ok {
		return nil, fmt.Errorf("pool: unknown bucket %q", bucketID)
	}
	discipline := "dedicated"
	if shareable {
		discipline = "shared"
	}
	lease, err := p.Connection(ctx, shareable)
	if err != nil {
		metrics.AcquireTotal.WithLabelValues(bucketID, discipline, "error").Inc()
		return nil, err
	}
	metrics.AcquireTotal.WithLabelValues(bucketID, discipline, "ok").Inc()
	return lease, nil
}

// Release returns a lease and records it in Prometheus. The discipline
// label is inferred from the lease's concrete type.
func (m *Manager) Release(bucketID string, lease Lease) error {
	discipline := "dedicated"
	if _, ok := lease.(*SharedLease); ok {
		discipline = "shared"
	}
	err := lease.Close()
	metrics.ReleaseTotal.WithLabelValues(bucketID, discipline).Inc()
	return err
}

// SteadyConnection opens the unpooled escape hatch for a given bucket.
func (m *Manager) SteadyConnection(ctx context.Context, bucketID string) (*steady.Connection, error) {
	p, ok := m.Pool(bucketID)
	if !ok {
		return nil, fmt.Errorf("pool: unknown bucket %q", bucketID)
	}
	return p.SteadyConnection(ctx)
}

// Stats returns a snapshot of every bucket's pool, and also pushes the
// snapshot into the idle/shared/open Prometheus gauges.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.pools))
	for id, p := range m.pools {
		s := p.Stats()
		out[id] = s
		metrics.IdleConnections.WithLabelValues(id).Set(float64(s.Idle))
		metrics.SharedConnections.WithLabelValues(id).Set(float64(s.Shared))
		metrics.OpenConnections.WithLabelValues(id).Set(float64(s.Connections))
	}
	return out
}

// Close tears down every bucket's pool.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		p.Close(ctx)
		log.Printf("[pool] bucket %q closed", id)
	}
	m.pools = map[string]*Pool{}
}
