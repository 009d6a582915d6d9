// Package db provides database clients, the raw SQL execution contract
// shared by every component of the migration core, and live-schema
// introspection against the catalog views of the supported engines.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Connection is the raw SQL executor contract the migration core works
// against. It is satisfied by *sql.DB, *sql.Conn and *sql.Tx; the
// executor relies on *sql.Conn so that plain START TRANSACTION/COMMIT
// statements stay on one session.
type Connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ParseDatabaseURL detects the database type from a URL and returns the
// driver-specific connection string.
func ParseDatabaseURL(url string) (dbType, connectionStr string, err error) {
	if url == "" {
		return "", "", fmt.Errorf("database URL is required")
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres", url, nil
	}

	if strings.HasPrefix(url, "mysql://") {
		// Strip mysql:// prefix for the Go MySQL driver
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	}

	if strings.HasPrefix(url, "sqlite://") {
		// Strip sqlite:// prefix to get the file path
		return "sqlite", strings.TrimPrefix(url, "sqlite://"), nil
	}

	return "", "", fmt.Errorf("invalid database URL scheme (must start with postgres://, mysql://, or sqlite://)")
}

// Open connects to the database identified by a URL and returns a client
// along with the introspector matching its engine.
func Open(ctx context.Context, databaseURL string) (*Client, Introspector, error) {
	dbType, connStr, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch dbType {
	case "mysql":
		client, err := NewMySQLClient(ctx, connStr)
		if err != nil {
			return nil, nil, err
		}
		dbName, err := DatabaseNameFromDSN(connStr)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to determine database name: %w", err)
		}
		return client, NewMySQLIntrospector(client.DB(), dbName), nil
	case "postgres":
		client, err := NewPostgresClient(ctx, connStr)
		if err != nil {
			return nil, nil, err
		}
		return client, NewPostgresIntrospector(client.DB(), "public"), nil
	case "sqlite":
		client, err := NewSQLiteClient(ctx, connStr)
		if err != nil {
			return nil, nil, err
		}
		return client, NewSQLiteIntrospector(client.DB()), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Client manages a pooled connection to one database.
type Client struct {
	db     *sql.DB
	driver string
}

// DB returns the underlying connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Driver returns the driver key: mysql, postgres or sqlite.
func (c *Client) Driver() string {
	return c.driver
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// Session pins a single connection out of the pool. Migration execution
// uses it so transaction control statements see one session.
func (c *Client) Session(ctx context.Context) (*sql.Conn, error) {
	return c.db.Conn(ctx)
}
