// Package sqldriver adapts any database/sql/driver implementation to the
// pool driver interface, bypassing database/sql's own pooling. Importing it
// registers the "mysql" and "sqlite3" drivers.
package sqldriver

import (
	"context"
	sqldrv "database/sql/driver"
	"errors"
	"fmt"
	"io"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/guileen/connpool/driver"
)

func init() {
	driver.Register("mysql", func(dsn string) (driver.Driver, error) { return NewMySQL(dsn) })
	driver.Register("sqlite3", func(dsn string) (driver.Driver, error) { return NewSQLite(dsn), nil })
}

// ErrNoProbe is returned when the underlying connection can neither execute
// statements nor ping.
var ErrNoProbe = errors.New("sqldriver: connection supports no probe method")

// Driver opens connections through a database/sql/driver.Driver.
type Driver struct {
	connector sqldrv.Connector
}

// New wraps drv for dsn. When drv implements DriverContext its connector is
// used, so dials honour the context.
func New(drv sqldrv.Driver, dsn string) (*Driver, error) {
	if dc, ok := drv.(sqldrv.DriverContext); ok {
		connector, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, fmt.Errorf("sqldriver: open connector: %w", err)
		}
		return &Driver{connector: connector}, nil
	}
	return &Driver{connector: dsnConnector{dsn: dsn, driver: drv}}, nil
}

// NewMySQL validates dsn and returns a MySQL driver.
func NewMySQL(dsn string) (*Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldriver: parse mysql dsn: %w", err)
	}
	return New(mysql.MySQLDriver{}, cfg.FormatDSN())
}

// NewSQLite returns a driver for the SQLite database at dsn.
func NewSQLite(dsn string) *Driver {
	return &Driver{connector: dsnConnector{dsn: dsn, driver: &sqlite3.SQLiteDriver{}}}
}

// Dial opens a new connection.
func (d *Driver) Dial(ctx context.Context) (driver.Conn, error) {
	conn, err := d.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// dsnConnector is the connector for drivers without DriverContext.
type dsnConnector struct {
	dsn    string
	driver sqldrv.Driver
}

func (c dsnConnector) Connect(ctx context.Context) (sqldrv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() sqldrv.Driver { return c.driver }

// Conn wraps a database/sql/driver.Conn.
type Conn struct {
	conn sqldrv.Conn
}

// SQL returns the underlying driver connection.
func (c *Conn) SQL() sqldrv.Conn { return c.conn }

// Probe executes command, falling back to a query and then a ping depending
// on what the driver connection supports.
func (c *Conn) Probe(ctx context.Context, command string) error {
	if e, ok := c.conn.(sqldrv.ExecerContext); ok {
		_, err := e.ExecContext(ctx, command, nil)
		if !errors.Is(err, sqldrv.ErrSkip) {
			return err
		}
	}
	if q, ok := c.conn.(sqldrv.QueryerContext); ok {
		rows, err := q.QueryContext(ctx, command, nil)
		if !errors.Is(err, sqldrv.ErrSkip) {
			if err != nil {
				return err
			}
			return drain(rows)
		}
	}
	if p, ok := c.conn.(sqldrv.Pinger); ok {
		return p.Ping(ctx)
	}
	return ErrNoProbe
}

func drain(rows sqldrv.Rows) error {
	dest := make([]sqldrv.Value, len(rows.Columns()))
	for {
		if err := rows.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				return rows.Close()
			}
			rows.Close()
			return err
		}
	}
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close()
}
