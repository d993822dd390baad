package dbdriver

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

// MSSQLDriver adapts SQL Server, over database/sql and go-mssqldb, to the
// Driver contract. Each RawConn is backed by exactly one *sql.Conn pinned
// out of a single-connection *sql.DB, so SteadyConnection's reopen
// protocol maps onto one physical TDS connection, not onto database/sql's
// own pool (which this layer replaces for pooling purposes).
type MSSQLDriver struct{}

// NewMSSQLDriver returns a Driver backed by go-mssqldb.
func NewMSSQLDriver() *MSSQLDriver { return &MSSQLDriver{} }

func (MSSQLDriver) Threadsafety() int { return 1 }

func (MSSQLDriver) DefaultFailures() []FailureKind { return DefaultFailures() }

func (MSSQLDriver) Connect(ctx context.Context, args ConnectArgs) (RawConn, error) {
	db, err := sql.Open("sqlserver", args.DSN)
	if err != nil {
		return nil, &DriverError{Kind: KindOperational, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, classifyMSSQLError(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, classifyMSSQLError(err)
	}
	return &mssqlConn{db: db, conn: conn}, nil
}

type mssqlConn struct {
	db   *sql.DB
	conn *sql.Conn
}

func (c *mssqlConn) Cursor(ctx context.Context) (RawCursor, error) {
	return &mssqlCursor{conn: c.conn}, nil
}

func (c *mssqlConn) Close() error {
	err := c.conn.Close()
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *mssqlConn) Commit() error {
	_, err := c.conn.ExecContext(context.Background(), "COMMIT TRANSACTION")
	if err != nil {
		return classifyMSSQLError(err)
	}
	return nil
}

func (c *mssqlConn) Rollback() error {
	_, err := c.conn.ExecContext(context.Background(), "ROLLBACK TRANSACTION")
	if err != nil {
		return classifyMSSQLError(err)
	}
	return nil
}

func (c *mssqlConn) Begin(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, "BEGIN TRANSACTION")
	if err != nil {
		return classifyMSSQLError(err)
	}
	return nil
}

func (c *mssqlConn) Ping(ctx context.Context, _ bool) (bool, error) {
	if err := c.conn.PingContext(ctx); err != nil {
		return false, classifyMSSQLError(err)
	}
	return true, nil
}

type mssqlCursor struct {
	conn *sql.Conn
	rows *sql.Rows
}

func (c *mssqlCursor) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, classifyMSSQLError(err)
	}
	affected, _ := res.RowsAffected()
	id, _ := res.LastInsertId()
	return Result{RowsAffected: affected, LastInsertID: id}, nil
}

func (c *mssqlCursor) Call(ctx context.Context, proc string, args ...any) (Result, error) {
	return c.Execute(ctx, "EXEC "+proc, args...)
}

func (c *mssqlCursor) SetInputSizes([]any)    {}
func (c *mssqlCursor) SetOutputSize(int, int) {}

func (c *mssqlCursor) Fetch(ctx context.Context) ([]Row, error) {
	rows, err := c.conn.QueryContext(ctx, "SELECT @@ROWCOUNT")
	if err != nil {
		return nil, classifyMSSQLError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, Row(vals))
	}
	return out, rows.Err()
}

func (c *mssqlCursor) Close() error {
	if c.rows != nil {
		return c.rows.Close()
	}
	return nil
}

// classifyMSSQLError buckets a go-mssqldb/database-sql error into the
// failover taxonomy. A closed connection or finished transaction
// (sql.ErrConnDone, sql.ErrTxDone) is internal; network errors and the
// driver reporting a bad connection are operational; anything else
// propagates untouched so it is never mistaken for transient.
func classifyMSSQLError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return &DriverError{Kind: KindInternal, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "eof") {
		return &DriverError{Kind: KindOperational, Err: err}
	}
	return err
}
