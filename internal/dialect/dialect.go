// Package dialect isolates engine-specific SQL fragments (identifier
// quoting, type keywords, DDL syntax, transaction control) behind one
// strategy interface, so the generator and executor stay engine-neutral.
package dialect

import (
	"fmt"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// Dialect renders SQL for one database engine.
type Dialect interface {
	// Name is the driver key: mysql, sqlite or postgres.
	Name() string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(name string) string

	// ColumnSQL renders a full column clause for CREATE/ALTER statements.
	ColumnSQL(col schema.ColumnDefinition) string

	CreateTableSQL(table *schema.TableDefinition) string
	// InlinesIndexes reports whether CreateTableSQL renders the table's
	// indexes inside the CREATE TABLE statement. When false, callers must
	// emit AddIndexSQL statements after creating the table.
	InlinesIndexes() bool
	DropTableSQL(table string) string
	RenameTableSQL(from, to string) string

	AddColumnSQL(table string, col schema.ColumnDefinition) string
	DropColumnSQL(table, column string) string
	RenameColumnSQL(table, from, to string) string
	ModifyColumnSQL(table string, col schema.ColumnDefinition) string

	AddIndexSQL(table string, idx schema.IndexDefinition) string
	DropIndexSQL(table, index string) string

	AddForeignKeySQL(table string, fk schema.ForeignKeyDefinition) string
	DropForeignKeySQL(table, constraint string) string

	// Transaction control, issued as plain statements on one session.
	BeginSQL() string
	CommitSQL() string
	RollbackSQL() string

	// Foreign key enforcement toggles used around data dumps.
	DisableForeignKeyChecksSQL() string
	EnableForeignKeyChecksSQL() string

	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string
}

// ForDriver returns the dialect for a driver key.
func ForDriver(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "pgx":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}
