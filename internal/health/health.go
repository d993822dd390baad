// Package health provides HTTP health-check endpoints for the pool
// server: a liveness probe, a readiness probe, and a detailed status
// dump used by operators.
package health

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/joao-brasil/steadydb/internal/pool"
)

// Checker answers liveness/readiness questions about the pool manager
// and any optional side channels (e.g. the Redis stats sink).
type Checker struct {
	manager  *pool.Manager
	pingSink func(ctx context.Context) error
}

// NewChecker builds a Checker. pingSink may be nil when no stats sink is
// configured.
func NewChecker(manager *pool.Manager, pingSink func(ctx context.Context) error) *Checker {
	return &Checker{manager: manager, pingSink: pingSink}
}

type bucketStatus struct {
	Idle           int `json:"idle"`
	Shared         int `json:"shared"`
	Connections    int `json:"connections"`
	MaxConnections int `json:"max_connections"`
}

type statusResponse struct {
	Status    string                  `json:"status"`
	Buckets   map[string]bucketStatus `json:"buckets"`
	StatsSink string                  `json:"stats_sink,omitempty"`
}

// Handler returns the http.Handler serving /health, /health/ready and
// /health/live.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.handleStatus)
	mux.HandleFunc("/health/ready", c.handleReady)
	mux.HandleFunc("/health/live", c.handleLive)
	return mux
}

func (c *Checker) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (c *Checker) handleReady(w http.ResponseWriter, r *http.Request) {
	stats := c.manager.Stats()
	if len(stats) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no buckets configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (c *Checker) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := statusResponse{Status: "ok", Buckets: make(map[string]bucketStatus)}
	for id, s := range c.manager.Stats() {
		resp.Buckets[id] = bucketStatus{
			Idle:           s.Idle,
			Shared:         s.Shared,
			Connections:    s.Connections,
			MaxConnections: s.MaxConnections,
		}
	}

	if c.pingSink != nil {
		if err := c.pingSink(ctx); err != nil {
			resp.StatsSink = "unavailable: " + err.Error()
		} else {
			resp.StatsSink = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[health] encode response: %v", err)
	}
}
