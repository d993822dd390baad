// Package dbdriver defines the capability-provider contract that the
// steady-connection and pool layers consume. It deliberately mirrors a
// classic DB-API 2 style driver contract (connect / cursor / commit /
// rollback / optional ping) rather than database/sql's driver.Driver,
// because the pool needs to observe and retry at the cursor level, not
// just at the connection level.
package dbdriver

import (
	"context"
	"errors"
)

// FailureKind classifies a driver error as belonging to the "failover
// class" — the set of errors that the steady layer treats as transient
// and worth a reopen-and-retry.
type FailureKind int

const (
	// KindOperational mirrors DB-API 2's OperationalError: the database
	// is unreachable, the connection dropped, a timeout occurred.
	KindOperational FailureKind = iota
	// KindInternal mirrors DB-API 2's InternalError: the driver or the
	// database is in a state the operation can't proceed from (e.g. a
	// cursor is no longer valid).
	KindInternal
)

func (k FailureKind) String() string {
	switch k {
	case KindOperational:
		return "operational"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// DriverError wraps an underlying driver error with the FailureKind the
// driver assigned to it. Classification of a failure is done by type
// (errors.As), not by value, so a driver can wrap arbitrary causes.
type DriverError struct {
	Kind FailureKind
	Err  error
}

func (e *DriverError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *DriverError) Unwrap() error { return e.Err }

// IsFailover reports whether err belongs to one of the given failure
// kinds. An empty failures set matches nothing.
func IsFailover(err error, failures []FailureKind) bool {
	var de *DriverError
	if !errors.As(err, &de) {
		return false
	}
	for _, k := range failures {
		if de.Kind == k {
			return true
		}
	}
	return false
}

// DefaultFailures is the failover class used when a Driver or caller does
// not supply an explicit one: operational and internal errors, mirroring
// DB-API 2's (OperationalError, InternalError) default.
func DefaultFailures() []FailureKind {
	return []FailureKind{KindOperational, KindInternal}
}

// ConnectArgs carries whatever a Driver needs to open a connection. It is
// replayed verbatim on every reopen, so it must be safe to reuse.
type ConnectArgs struct {
	DSN string
	// Extra holds driver-specific options beyond a bare DSN (e.g.
	// per-statement timeouts). Drivers that don't need it may ignore it.
	Extra map[string]string
}

// Driver is the capability provider consumed by steady.Connection and
// pool.Pool. It replaces the source's dynamic module-chain discovery
// (walking a driver module for OperationalError/InternalError/threadsafety)
// with an explicit, statically typed contract.
type Driver interface {
	// Connect opens one raw connection using args.
	Connect(ctx context.Context, args ConnectArgs) (RawConn, error)
	// Threadsafety reports the DB-API 2 style threadsafety level:
	//   0 - driver may not be shared at all
	//   1 - module may be shared, connections may not
	//   2 - module and connections may be shared, cursors may not
	//   3 - everything may be shared
	Threadsafety() int
	// DefaultFailures is the failover class used when the caller does not
	// supply an explicit one.
	DefaultFailures() []FailureKind
}

// RawConn is one live raw connection as the driver exposes it.
type RawConn interface {
	Cursor(ctx context.Context) (RawCursor, error)
	Close() error
	Commit() error
	Rollback() error
}

// Beginner is implemented by raw connections that need an explicit begin
// call (most drivers start transactions implicitly on first statement and
// don't need this).
type Beginner interface {
	Begin(ctx context.Context) error
}

// Canceller is implemented by raw connections that support cancelling an
// in-flight operation.
type Canceller interface {
	Cancel(ctx context.Context) error
}

// Pinger is implemented by raw connections that can check liveness
// without a full round trip through a cursor. reconnect, when the driver
// supports it, hints whether the driver itself should attempt to recover
// a dead connection before returning; the steady layer always manages
// reconnection itself and calls with reconnect=false when it can.
type Pinger interface {
	Ping(ctx context.Context, reconnect bool) (bool, error)
}

// RawCursor is one cursor/statement handle bound to a RawConn.
//
// Execute and Call are the two "tough methods": operations the steady
// cursor wraps with the failover-and-retry protocol. Everything else
// (SetInputSizes, SetOutputSize, Fetch, Close) is outside that protocol.
type RawCursor interface {
	Close() error
	Execute(ctx context.Context, query string, args ...any) (Result, error)
	Call(ctx context.Context, proc string, args ...any) (Result, error)
	SetInputSizes(sizes []any)
	SetOutputSize(size int, column int) // column < 0 means "all columns"
	Fetch(ctx context.Context) ([]Row, error)
}

// ErrPingUnsupported is the sentinel a Pinger should return (wrapped or
// bare, checked with errors.Is) when the underlying driver has no ping
// capability at all. The steady layer responds by permanently disabling
// further ping checks on that connection, mirroring the source's
// behavior of clearing its ping mask the first time AttributeError-class
// errors surface from a missing ping() method.
var ErrPingUnsupported = errors.New("dbdriver: ping not supported")

// Row is one fetched row of arbitrary columns.
type Row []any

// Result is the outcome of an Execute/Call, mirroring database/sql.Result
// closely enough to be familiar.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}
