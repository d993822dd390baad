package pool

import (
	"fmt"

	"github.com/joao-brasil/steadydb/internal/steady"
)

// Error is the pool layer's sentinel. It is steady.Error itself, not a
// new value wrapping it: errors.Is only succeeds when the target value
// is actually present in a chain, so a distinct pool-level wrapper would
// never match a steady-rooted error no matter how it wrapped it.
// Aliasing the two names to one value is what lets a caller catch both
// layers' errors broadly through either root (spec.md §7: "all derived
// from one root so callers can catch broadly"). steady.Error has to be
// the shared value, not the other way around, since internal/pool
// already imports internal/steady.
var Error = steady.Error

// NotSupportedError is returned by New when the driver reports
// threadsafety 0. A driver reporting threadsafety 1 does not trigger it
// when sharing is requested: New disables sharing (MaxShared = 0) instead.
type NotSupportedError struct {
	Reason string
}

func (e *NotSupportedError) Error() string { return fmt.Sprintf("pool: not supported: %s", e.Reason) }
func (e *NotSupportedError) Unwrap() error { return Error }

// TooManyConnections is returned by a non-blocking Pool when the
// connection cap is already reached.
var TooManyConnections = wrap("too many connections")

// InvalidConnection is returned by a Lease method once the lease has
// already been returned to the pool via Close.
var InvalidConnection = wrap("connection already returned to pool")

func wrap(msg string) error { return &poolError{msg: msg} }

type poolError struct{ msg string }

func (e *poolError) Error() string { return "pool: " + e.msg }
func (e *poolError) Unwrap() error { return Error }
