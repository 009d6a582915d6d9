package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// NewMySQLClient creates a new MySQL client.
func NewMySQLClient(ctx context.Context, connString string) (*Client, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db, driver: "mysql"}, nil
}

// DatabaseNameFromDSN extracts the database name from a MySQL DSN.
func DatabaseNameFromDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("DSN does not name a database")
	}
	return cfg.DBName, nil
}
