// Package bucket describes one pooled database target: where it lives
// and the pool policy knobs to apply to it (spec.md §6).
package bucket

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Bucket is one named pool configuration, loaded from the buckets YAML
// file by internal/config. Its pool knobs map 1:1 onto
// pool.PoolConfig/steady.Config; the toPoolConfig function that
// cmd/poolserver and cmd/loadgen pass to pool.NewManager translates
// between the two.
type Bucket struct {
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// ConnectionTimeout bounds a single connect attempt. It is the only
	// timeout this repo imposes; blocking pool waits are unbounded
	// (spec.md §5).
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	MinCached      int      `yaml:"min_cached"`
	MaxCached      int      `yaml:"max_cached"`
	MaxShared      int      `yaml:"max_shared"`
	MaxConnections int      `yaml:"max_connections"`
	Blocking       bool     `yaml:"blocking"`
	MaxUsage       int      `yaml:"max_usage"`
	SetSession     []string `yaml:"setsession"`
	Reset          bool     `yaml:"reset"`
	// Ping is a steady.PingMask bit combination: 1 on acquire, 2 on
	// cursor, 4 on execute.
	Ping int `yaml:"ping"`
}

// Addr returns the host:port pair this bucket connects to.
func (b *Bucket) Addr() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// DSN builds the sqlserver:// connection string go-mssqldb expects.
func (b *Bucket) DSN() string {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(b.User, b.Password),
		Host:   b.Addr(),
	}
	q := u.Query()
	if b.Database != "" {
		q.Set("database", b.Database)
	}
	if b.ConnectionTimeout > 0 {
		secs := (b.ConnectionTimeout + time.Second - 1) / time.Second
		q.Set("connection timeout", strconv.FormatInt(int64(secs), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate checks the fields that have no sane auto-correction,
// mirroring the basic sanity half of the original PooledDB docstring's
// configuration table. The mincached/maxcached/maxshared/maxconnections
// compatibility matrix itself is auto-corrected by pool.New, exactly as
// the original silently raises/lowers those values rather than erroring.
func (b *Bucket) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("bucket: id is required")
	}
	if b.Host == "" {
		return fmt.Errorf("bucket %q: host is required", b.ID)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("bucket %q: port %d out of range", b.ID, b.Port)
	}
	if b.MinCached < 0 || b.MaxCached < 0 || b.MaxShared < 0 || b.MaxConnections < 0 || b.MaxUsage < 0 {
		return fmt.Errorf("bucket %q: pool knobs must be non-negative", b.ID)
	}
	if b.ConnectionTimeout < 0 {
		return fmt.Errorf("bucket %q: connection_timeout must be non-negative", b.ID)
	}
	if b.Ping < 0 || b.Ping > 7 {
		return fmt.Errorf("bucket %q: ping must be a combination of bits 1, 2 and 4", b.ID)
	}
	return nil
}
