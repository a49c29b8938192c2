package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// NewLoggingConnector returns a driver.Connector for sql.OpenDB whose
// connections log every statement at debug level. A nil logger selects
// slog.Default().
func NewLoggingConnector(dsn string, logger *slog.Logger) (driver.Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingConnector{dsn: dsn, logger: logger}, nil
}

type loggingConnector struct {
	dsn    string
	logger *slog.Logger
}

func (c *loggingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite3-log: unexpected connection type %T", conn)
	}
	return &tracedConn{SQLiteConn: sc, logger: c.logger}, nil
}

func (c *loggingConnector) Driver() driver.Driver { return loggingDriver{} }

// loggingDriver exists only to satisfy driver.Connector.
type loggingDriver struct{}

func (loggingDriver) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("sqlite3-log: use sql.OpenDB(NewLoggingConnector(...)) instead of sql.Open")
}

// tracedConn is a sqlite3 connection with statement logging. Transactions,
// ping and close go straight to the embedded connection. Exec and Query run
// on the connection itself so multi-statement scripts execute in full.
type tracedConn struct {
	*sqlite3.SQLiteConn
	logger *slog.Logger
}

func (c *tracedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.trace("exec", query, args)
	return c.SQLiteConn.ExecContext(ctx, query, args)
}

func (c *tracedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.trace("query", query, args)
	return c.SQLiteConn.QueryContext(ctx, query, args)
}

func (c *tracedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	stmt, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	cs, ok := stmt.(contextStmt)
	if !ok {
		_ = stmt.Close()
		return nil, fmt.Errorf("sqlite3-log: statement %T lacks context support", stmt)
	}
	return &tracedStmt{contextStmt: cs, conn: c, query: query}, nil
}

func (c *tracedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracedConn) trace(op, query string, args []driver.NamedValue) {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	c.logger.Debug("sql", "op", op, "sql", query, "args", formatArgs(args))
}

type contextStmt interface {
	driver.Stmt
	driver.StmtExecContext
	driver.StmtQueryContext
}

// tracedStmt logs each execution of a prepared statement. database/sql always
// prefers the context variants, so the embedded legacy Exec and Query are
// never reached through it.
type tracedStmt struct {
	contextStmt
	conn  *tracedConn
	query string
}

func (s *tracedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	s.conn.trace("exec", s.query, args)
	return s.contextStmt.ExecContext(ctx, args)
}

func (s *tracedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	s.conn.trace("query", s.query, args)
	return s.contextStmt.QueryContext(ctx, args)
}

// formatArgs renders bound values for the log; NULL for nil, text for blobs,
// and name=value for named parameters.
func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		var v string
		switch t := a.Value.(type) {
		case nil:
			v = "NULL"
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
