// Package clickhouse stores evaluation analytics in ClickHouse.
package clickhouse

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultNativePort = "9000"
	dialTimeout       = 10 * time.Second
)

// Conn is a native-protocol connection shared by the stores.
type Conn struct {
	driver.Conn
}

// NewConn connects to the database named in a clickhouse:// DSN.
func NewConn(ctx context.Context, dsn string) (*Conn, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return open(ctx, opts)
}

// NewConnWithDatabase connects with the DSN's address and credentials but the
// given database. An empty database selects the server default.
func NewConnWithDatabase(ctx context.Context, dsn, database string) (*Conn, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	opts.Auth.Database = database
	return open(ctx, opts)
}

func open(ctx context.Context, opts *clickhouse.Options) (*Conn, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reach clickhouse %v: %w", opts.Addr, err)
	}
	return &Conn{Conn: conn}, nil
}

// parseDSN reads the DSN with the driver's parser and fills in the native
// port when the address has none.
func parseDSN(dsn string) (*clickhouse.Options, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	for i, addr := range opts.Addr {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			opts.Addr[i] = net.JoinHostPort(addr, defaultNativePort)
		}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = dialTimeout
	}
	return opts, nil
}
