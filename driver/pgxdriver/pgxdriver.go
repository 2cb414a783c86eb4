// Package pgxdriver adapts jackc/pgx connections to the pool driver
// interface. Importing it registers the "pgx" and "postgres" drivers.
package pgxdriver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/guileen/connpool/driver"
)

func init() {
	factory := func(dsn string) (driver.Driver, error) { return New(dsn) }
	driver.Register("pgx", factory)
	driver.Register("postgres", factory)
}

// Driver dials PostgreSQL connections with pgx.
type Driver struct {
	config *pgx.ConnConfig
}

// New parses a PostgreSQL connection string or keyword/value DSN.
func New(dsn string) (*Driver, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: parse dsn: %w", err)
	}
	return &Driver{config: config}, nil
}

// Dial opens a new connection.
func (d *Driver) Dial(ctx context.Context) (driver.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.config.Copy())
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// ValidateProbeCommand requires the probe to parse as exactly one
// PostgreSQL statement.
func (d *Driver) ValidateProbeCommand(command string) error {
	result, err := pg_query.Parse(command)
	if err != nil {
		return err
	}
	if n := len(result.Stmts); n != 1 {
		return fmt.Errorf("expected a single statement, got %d", n)
	}
	return nil
}

// Conn wraps a *pgx.Conn.
type Conn struct {
	conn *pgx.Conn
}

// Pgx returns the underlying connection for running queries.
func (c *Conn) Pgx() *pgx.Conn { return c.conn }

// ID identifies the connection by its backend process id.
func (c *Conn) ID() string {
	return "pid-" + strconv.FormatUint(uint64(c.conn.PgConn().PID()), 10)
}

func (c *Conn) Probe(ctx context.Context, command string) error {
	_, err := c.conn.Exec(ctx, command)
	return err
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
