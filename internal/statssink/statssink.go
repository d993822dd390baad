// Package statssink periodically publishes pool.Manager stats to Redis
// for cross-instance dashboards. It is strictly a side channel: nothing
// here ever gates an acquire/release decision (spec.md §1's explicit
// Non-goal, "no distributed coordination — the pool is single-process").
// It's adapted from the teacher's internal/coordinator heartbeat, with
// the distributed-admission half removed entirely.
package statssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joao-brasil/steadydb/internal/pool"
	"github.com/redis/go-redis/v9"
)

const (
	keyInstanceStats = "steadydb:instance:%s:stats" // hash: bucket_id -> JSON snapshot
	keyInstanceList  = "steadydb:instances"          // set of known instance IDs
	channelStats     = "steadydb:stats"              // Pub/Sub channel for live dashboards
)

// Snapshot is what gets published for one bucket.
type Snapshot struct {
	InstanceID string    `json:"instance_id"`
	Bucket     string    `json:"bucket"`
	Idle       int       `json:"idle"`
	Shared     int       `json:"shared"`
	Open       int       `json:"open"`
	At         time.Time `json:"at"`
}

// Sink periodically snapshots a pool.Manager and publishes it to Redis.
type Sink struct {
	client     *redis.Client
	manager    *pool.Manager
	instanceID string
	interval   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Options configures a Sink.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InstanceID identifies this process in the published stats. If
	// empty, a random UUID is generated — unlike the teacher's
	// hostname-or-nothing default, this guarantees distinct publishers
	// even when hostnames collide (e.g. identical container images).
	InstanceID string
	Interval   time.Duration
}

// New builds a Sink. It does not contact Redis until Start is called.
func New(opts Options, manager *pool.Manager) *Sink {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	interval := opts.Interval
	if interval == 0 {
		interval = 10 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	return &Sink{
		client:     client,
		manager:    manager,
		instanceID: instanceID,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// InstanceID returns the identifier this sink publishes under.
func (s *Sink) InstanceID() string { return s.instanceID }

// Ping checks Redis reachability; used by internal/health's status
// endpoint.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Start begins the periodic publish loop in a background goroutine.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	log.Printf("[statssink] started: instance=%s interval=%s", s.instanceID, s.interval)
}

// Stop signals the publish loop to exit and waits for it.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sink) loop(ctx context.Context) {
	defer s.wg.Done()

	s.publish(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *Sink) publish(ctx context.Context) {
	stats := s.manager.Stats()

	pipe := s.client.Pipeline()
	instKey := fmt.Sprintf(keyInstanceStats, s.instanceID)
	now := time.Now()

	for bucketID, st := range stats {
		snap := Snapshot{
			InstanceID: s.instanceID,
			Bucket:     bucketID,
			Idle:       st.Idle,
			Shared:     st.Shared,
			Open:       st.Connections,
			At:         now,
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("[statssink] marshal snapshot for bucket %q: %v", bucketID, err)
			continue
		}
		pipe.HSet(ctx, instKey, bucketID, payload)
		pipe.Publish(ctx, channelStats, payload)
	}
	pipe.SAdd(ctx, keyInstanceList, s.instanceID)
	pipe.Expire(ctx, instKey, 5*s.interval)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[statssink] publish failed: %v", err)
	}
}

// Close releases the underlying Redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}
