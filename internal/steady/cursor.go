package steady

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/steadydb/pkg/dbdriver"
)

// Cursor is a thin wrapper owning one dbdriver.RawCursor and referencing
// its parent Connection. Execute and Call are "tough methods": they run
// through the failover-and-retry protocol of spec.md §4.2. SetInputSizes
// and SetOutputSize record sizes that are replayed before each Execute
// attempt; Fetch and Close pass straight through.
type Cursor struct {
	con *Connection

	mu          sync.Mutex
	raw         dbdriver.RawCursor
	inputSizes  []any
	outputSizes map[int]int

	closed atomic.Bool
}

func (cur *Cursor) clearSizes() {
	cur.inputSizes = nil
	cur.outputSizes = map[int]int{}
}

// SetInputSizes records sizes to be replayed before every subsequent
// Execute, including across a reopen-triggered cursor swap.
func (cur *Cursor) SetInputSizes(sizes []any) error {
	if cur.closed.Load() {
		return InvalidCursor
	}
	cur.mu.Lock()
	defer cur.mu.Unlock()
	cur.inputSizes = sizes
	return nil
}

// SetOutputSize records an output size to be replayed the same way.
// column < 0 applies to all columns.
func (cur *Cursor) SetOutputSize(size int, column int) error {
	if cur.closed.Load() {
		return InvalidCursor
	}
	cur.mu.Lock()
	defer cur.mu.Unlock()
	cur.outputSizes[column] = size
	return nil
}

func (cur *Cursor) applySizesLocked(raw dbdriver.RawCursor) {
	if len(cur.inputSizes) > 0 {
		raw.SetInputSizes(cur.inputSizes)
	}
	for column, size := range cur.outputSizes {
		raw.SetOutputSize(size, column)
	}
}

// Fetch passes straight through to the underlying raw cursor.
func (cur *Cursor) Fetch(ctx context.Context) ([]dbdriver.Row, error) {
	if cur.closed.Load() {
		return nil, InvalidCursor
	}
	cur.mu.Lock()
	raw := cur.raw
	cur.mu.Unlock()
	return raw.Fetch(ctx)
}

// Close closes the underlying raw cursor. Idempotent.
func (cur *Cursor) Close() error {
	if cur.closed.Swap(true) {
		return nil
	}
	cur.mu.Lock()
	raw := cur.raw
	cur.mu.Unlock()
	return raw.Close()
}

// Execute runs query as a tough method: it goes through the same
// failover-and-retry protocol as Call.
func (cur *Cursor) Execute(ctx context.Context, query string, args ...any) (dbdriver.Result, error) {
	if cur.closed.Load() {
		return dbdriver.Result{}, InvalidCursor
	}
	return cur.timedTough(ctx, true, query, args)
}

// Call invokes a stored procedure as a tough method.
func (cur *Cursor) Call(ctx context.Context, proc string, args ...any) (dbdriver.Result, error) {
	if cur.closed.Load() {
		return dbdriver.Result{}, InvalidCursor
	}
	return cur.timedTough(ctx, false, proc, args)
}

// timedTough wraps tough with cfg.OnQuery timing, covering any failover
// retry the call triggers along the way.
func (cur *Cursor) timedTough(ctx context.Context, isExecute bool, name string, args []any) (dbdriver.Result, error) {
	onQuery := cur.con.cfg.OnQuery
	if onQuery == nil {
		return cur.tough(ctx, isExecute, name, args)
	}
	start := time.Now()
	result, err := cur.tough(ctx, isExecute, name, args)
	onQuery(time.Since(start))
	return result, err
}

// invoke runs the underlying raw method (Execute or Call) named by
// isExecute, applying stored sizes first when it's an Execute.
func (cur *Cursor) invoke(ctx context.Context, raw dbdriver.RawCursor, isExecute bool, name string, args []any) (dbdriver.Result, error) {
	cur.mu.Lock()
	if isExecute {
		cur.applySizesLocked(raw)
	}
	cur.mu.Unlock()

	if isExecute {
		return raw.Execute(ctx, name, args...)
	}
	return raw.Call(ctx, name, args...)
}

// tough implements the tough-method protocol of spec.md §4.2 steps 1-5.
func (cur *Cursor) tough(ctx context.Context, isExecute bool, name string, args []any) (dbdriver.Result, error) {
	con := cur.con
	con.mu.Lock()
	defer con.mu.Unlock()

	transaction := con.inTransaction
	if !transaction {
		con.pingCheckLocked(ctx, PingOnExecute, true)
	}

	var (
		result dbdriver.Result
		err    error
	)
	if con.cfg.MaxUsage > 0 && con.usage >= con.cfg.MaxUsage {
		err = &dbdriver.DriverError{Kind: dbdriver.KindOperational, Err: errUsageCapReached}
	} else {
		result, err = cur.invoke(ctx, cur.raw, isExecute, name, args)
		if err == nil {
			cur.mu.Lock()
			if isExecute {
				cur.clearSizes()
			}
			cur.mu.Unlock()
			con.usage++
			return result, nil
		}
	}

	if !con.isFailover(err) {
		return dbdriver.Result{}, err
	}

	return cur.recoverLocked(ctx, con, transaction, isExecute, name, args, err)
}

// recoverLocked implements the two-retry recovery ladder: same-connection
// fresh cursor (only outside a transaction), then fresh connection.
// Caller holds con.mu.
func (cur *Cursor) recoverLocked(ctx context.Context, con *Connection, transaction, isExecute bool, name string, args []any, origErr error) (dbdriver.Result, error) {
	if !transaction {
		if cur2, err := con.acquireRawCursorLocked(ctx); err == nil {
			if result, err := cur.invoke(ctx, cur2, isExecute, name, args); err == nil {
				cur.raw.Close()
				cur.raw = cur2
				if isExecute {
					cur.mu.Lock()
					cur.clearSizes()
					cur.mu.Unlock()
				}
				con.usage++
				return result, nil
			}
			cur2.Close()
		}
	}

	newRaw, err := con.create(ctx)
	if err != nil {
		if transaction {
			con.inTransaction = false
		}
		return dbdriver.Result{}, origErr
	}

	cur2, err := newRaw.Cursor(ctx)
	if err != nil {
		newRaw.Close()
		if transaction {
			con.inTransaction = false
		}
		return dbdriver.Result{}, origErr
	}

	if transaction {
		cur.raw.Close()
		con.closeRawLocked()
		con.store(newRaw)
		con.notifyFailover()
		cur.raw = cur2
		return dbdriver.Result{}, origErr
	}

	result, retryErr := cur.invoke(ctx, cur2, isExecute, name, args)
	switch {
	case retryErr == nil:
		cur.raw.Close()
		con.closeRawLocked()
		con.store(newRaw)
		con.notifyFailover()
		cur.raw = cur2
		if isExecute {
			cur.mu.Lock()
			cur.clearSizes()
			cur.mu.Unlock()
		}
		con.usage++
		return result, nil
	case sameFailureClass(origErr, retryErr):
		cur2.Close()
		newRaw.Close()
		return dbdriver.Result{}, origErr
	default:
		cur.raw.Close()
		con.closeRawLocked()
		con.store(newRaw)
		con.notifyFailover()
		cur.raw = cur2
		return dbdriver.Result{}, retryErr
	}
}

// sameFailureClass reports whether two errors belong to the same
// dbdriver.FailureKind, mirroring the source's `except error.__class__`
// check used to decide whether a second failure is "the same kind of
// trouble" as the first.
func sameFailureClass(a, b error) bool {
	var da, db *dbdriver.DriverError
	aok := errors.As(a, &da)
	bok := errors.As(b, &db)
	if !aok || !bok {
		return false
	}
	return da.Kind == db.Kind
}
