// Package clickhouse owns the database/sql pool used by the ClickHouse catalog and ledger.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Options describes one ClickHouse endpoint. Zero values fall back to the defaults in Open.
type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// HTTP selects the HTTP interface (usually port 8123) over the native protocol.
	HTTP        bool
	AsyncInsert bool
	WaitAsync   bool

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	MaxExecution time.Duration

	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

func (o *Options) fill() {
	if o.Port == 0 {
		o.Port = 9000
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.MaxOpen <= 0 {
		o.MaxOpen = 10
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = o.MaxOpen / 2
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = 5 * time.Minute
	}
}

// DSN renders the clickhouse-go connection string; credentials are URL escaped.
func (o Options) DSN() string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:   "/" + o.Database,
	}
	if o.HTTP {
		u.Scheme = "http"
	}
	if o.User != "" {
		u.User = url.UserPassword(o.User, o.Password)
	}

	q := url.Values{}
	if o.DialTimeout > 0 {
		q.Set("dial_timeout", o.DialTimeout.String())
	}
	if o.ReadTimeout > 0 {
		q.Set("read_timeout", o.ReadTimeout.String())
	}
	if o.MaxExecution > 0 {
		q.Set("max_execution_time", strconv.Itoa(int(o.MaxExecution/time.Second)))
	}
	if o.AsyncInsert {
		q.Set("async_insert", "1")
		if o.WaitAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Client is the shared pool.
type Client struct {
	db *sql.DB
}

// Open builds the pool and pings once so a bad address fails at startup.
func Open(ctx context.Context, o Options) (*Client, error) {
	if o.Host == "" {
		return nil, errors.New("clickhouse: host is required")
	}
	o.fill()

	db, err := sql.Open("clickhouse", o.DSN())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(o.MaxOpen)
	db.SetMaxIdleConns(o.MaxIdle)
	db.SetConnMaxLifetime(o.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", o.Host, err)
	}
	return &Client{db: db}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL in order and stops at the first failure.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
