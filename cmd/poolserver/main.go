// Package main is the entrypoint for the pool server. It loads
// configuration, opens one connection pool per bucket, and serves
// metrics and health endpoints until told to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-brasil/steadydb/internal/config"
	"github.com/joao-brasil/steadydb/internal/health"
	"github.com/joao-brasil/steadydb/internal/metrics"
	"github.com/joao-brasil/steadydb/internal/pool"
	"github.com/joao-brasil/steadydb/internal/statssink"
	"github.com/joao-brasil/steadydb/internal/steady"
	"github.com/joao-brasil/steadydb/pkg/bucket"
	"github.com/joao-brasil/steadydb/pkg/dbdriver"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serverConfigPath  = flag.String("config", "configs/server.yaml", "Path to server configuration file")
	bucketsConfigPath = flag.String("buckets", "configs/buckets.yaml", "Path to buckets configuration file")
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
			OnFailover: func() { metrics.FailoverTotal.WithLabelValues(b.ID).Inc() },
			OnQuery: func(d time.Duration) {
				metrics.QueryDurationSeconds.WithLabelValues(b.ID).Observe(d.Seconds())
			},
		},
	}
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting pool server")

	cfg, err := config.Load(*serverConfigPath, *bucketsConfigPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}
	log.Printf("[main] Configuration loaded: %d buckets, instance=%s", len(cfg.Buckets), cfg.Server.InstanceID)
	for _, b := range cfg.Buckets {
		log.Printf("[main]   Bucket %s -> %s (max_connections=%d, min_cached=%d)",
			b.ID, b.Addr(), b.MaxConnections, b.MinCached)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	log.Println("[main] Initializing connection pool manager...")
	driver := dbdriver.MSSQLDriver{}
	poolMgr, err := pool.NewManager(context.Background(), driver, cfg.Buckets, toPoolConfig)
	if err != nil {
		log.Fatalf("[main] Failed to initialize pool manager: %v", err)
	}
	defer func() {
		log.Println("[main] Closing pool manager...")
		poolMgr.Close(context.Background())
	}()
	for id, s := range poolMgr.Stats() {
		log.Printf("[main]   Pool %s: idle=%d shared=%d connections=%d max=%d", id, s.Idle, s.Shared, s.Connections, s.MaxConnections)
	}

	log.Println("[main] Starting stats sink...")
	sink := statssink.New(statssink.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		InstanceID:   cfg.Server.InstanceID,
		Interval:     cfg.Server.StatsSinkInterval,
	}, poolMgr)
	sink.Start(context.Background())
	defer func() {
		log.Println("[main] Stopping stats sink...")
		sink.Stop()
		sink.Close()
	}()

	checker := health.NewChecker(poolMgr, sink.Ping)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HealthCheckPort),
		Handler:      checker.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Health check server listening on :%d/health", cfg.Server.HealthCheckPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Health server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] Pool server is ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}
