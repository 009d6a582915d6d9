package db

import (
	"context"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// Names of the two tracking tables. Introspection excludes them so they
// never show up in a schema diff.
const (
	MigrationsTable    = "migrations"
	MigrationLockTable = "migration_lock"
)

// Introspector reads the live structure of a database from its catalog
// metadata. All methods are read-only except InitializeMigrationTables,
// which creates the tracking tables idempotently.
type Introspector interface {
	// CurrentSchema reads every table of the current database, excluding
	// the tracking tables.
	CurrentSchema(ctx context.Context) (*schema.DatabaseSchema, error)

	// InitializeMigrationTables creates the migrations and migration_lock
	// tables if they do not exist yet.
	InitializeMigrationTables(ctx context.Context) error

	// MigrationTablesExist reports whether both tracking tables exist.
	MigrationTablesExist(ctx context.Context) (bool, error)

	// TableRowCount returns the exact row count of a table.
	TableRowCount(ctx context.Context, table string) (int64, error)

	// EstimatedRowCount returns the engine's row-count estimate from its
	// catalog statistics, which can be cheap but stale.
	EstimatedRowCount(ctx context.Context, table string) (int64, error)
}

// isTrackingTable filters the two tracking tables out of introspection
// results.
func isTrackingTable(name string) bool {
	return name == MigrationsTable || name == MigrationLockTable
}
