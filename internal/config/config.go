// Package config handles loading and validating server and bucket configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joao-brasil/steadydb/pkg/bucket"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds process-wide configuration for cmd/poolserver.
type ServerConfig struct {
	InstanceID          string        `yaml:"instance_id"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckPort     int           `yaml:"health_check_port"`
	MetricsPort         int           `yaml:"metrics_port"`
	StatsSinkInterval   time.Duration `yaml:"stats_sink_interval"`
}

// RedisConfig holds the Redis connection configuration used by
// internal/statssink to publish pool stats. Redis is never consulted on
// an acquire/release path; it's purely a dashboard side channel.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Buckets []bucket.Bucket
}

// serverFileConfig mirrors the YAML structure for the server config file.
type serverFileConfig struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
}

// bucketsFileConfig mirrors the YAML structure for the buckets config file.
type bucketsFileConfig struct {
	Buckets []bucket.Bucket `yaml:"buckets"`
}

// Load reads and parses both the server config file and the buckets
// config file.
func Load(serverConfigPath, bucketsConfigPath string) (*Config, error) {
	serverData, err := os.ReadFile(serverConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading server config %s: %w", serverConfigPath, err)
	}

	var serverFile serverFileConfig
	if err := yaml.Unmarshal(serverData, &serverFile); err != nil {
		return nil, fmt.Errorf("parsing server config %s: %w", serverConfigPath, err)
	}

	bucketsData, err := os.ReadFile(bucketsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading buckets config %s: %w", bucketsConfigPath, err)
	}

	var bucketsFile bucketsFileConfig
	if err := yaml.Unmarshal(bucketsData, &bucketsFile); err != nil {
		return nil, fmt.Errorf("parsing buckets config %s: %w", bucketsConfigPath, err)
	}

	cfg := &Config{
		Server:  serverFile.Server,
		Redis:   serverFile.Redis,
		Buckets: bucketsFile.Buckets,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// validate checks mandatory fields and each bucket's own sanity rules.
func (c *Config) validate() error {
	if len(c.Buckets) == 0 {
		return fmt.Errorf("at least one bucket must be configured")
	}
	seen := make(map[string]bool, len(c.Buckets))
	for i := range c.Buckets {
		if err := c.Buckets[i].Validate(); err != nil {
			return fmt.Errorf("bucket[%d]: %w", i, err)
		}
		if seen[c.Buckets[i].ID] {
			return fmt.Errorf("bucket[%d]: duplicate id %q", i, c.Buckets[i].ID)
		}
		seen[c.Buckets[i].ID] = true
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	if c.Server.HealthCheckInterval == 0 {
		c.Server.HealthCheckInterval = 15 * time.Second
	}
	if c.Server.HealthCheckPort == 0 {
		c.Server.HealthCheckPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.StatsSinkInterval == 0 {
		c.Server.StatsSinkInterval = 10 * time.Second
	}
	if c.Server.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.Server.InstanceID = hostname
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "redis:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	for i := range c.Buckets {
		if c.Buckets[i].ConnectionTimeout == 0 {
			c.Buckets[i].ConnectionTimeout = 30 * time.Second
		}
		if c.Buckets[i].MaxCached == 0 && c.Buckets[i].MinCached > 0 {
			c.Buckets[i].MaxCached = c.Buckets[i].MinCached
		}
	}
}

// BucketByID returns the bucket configuration for a given bucket ID.
func (c *Config) BucketByID(id string) (*bucket.Bucket, bool) {
	for i := range c.Buckets {
		if c.Buckets[i].ID == id {
			return &c.Buckets[i], true
		}
	}
	return nil, false
}
