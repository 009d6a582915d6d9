package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresClient creates a new PostgreSQL client. The pgx stdlib
// adapter keeps every engine behind the same database/sql contract.
func NewPostgresClient(ctx context.Context, connString string) (*Client, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db, driver: "postgres"}, nil
}
