package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// SQLiteIntrospector reads the live schema of a SQLite database through
// its PRAGMA interface. SQLite has no schema concept, so no scoping is
// needed.
type SQLiteIntrospector struct {
	conn Connection
}

// NewSQLiteIntrospector creates a SQLite introspector.
func NewSQLiteIntrospector(conn Connection) *SQLiteIntrospector {
	return &SQLiteIntrospector{conn: conn}
}

// CurrentSchema reads the full database structure, excluding the
// tracking tables and SQLite's own internal tables.
func (in *SQLiteIntrospector) CurrentSchema(ctx context.Context) (*schema.DatabaseSchema, error) {
	result := schema.NewDatabaseSchema()

	tableNames, err := in.tableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	for _, tableName := range tableNames {
		table, err := in.introspectTable(ctx, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect table %s: %w", tableName, err)
		}
		result.AddTable(table)
	}

	return result, nil
}

func (in *SQLiteIntrospector) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := in.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		if tableName == "" || isTrackingTable(tableName) {
			continue
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

func (in *SQLiteIntrospector) introspectTable(ctx context.Context, tableName string) (*schema.TableDefinition, error) {
	table := &schema.TableDefinition{Name: tableName}

	columns, err := in.introspectColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	table.Columns = columns

	indexes, uniqueCols, err := in.introspectIndexes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	table.Indexes = indexes

	for i := range table.Columns {
		// Primary keys are handled separately from unique constraints.
		if uniqueCols[table.Columns[i].Name] && !table.Columns[i].Primary {
			table.Columns[i].Unique = true
		}
	}

	foreignKeys, err := in.introspectForeignKeys(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys: %w", err)
	}
	table.ForeignKeys = foreignKeys

	return table, nil
}

func (in *SQLiteIntrospector) introspectColumns(ctx context.Context, tableName string) ([]schema.ColumnDefinition, error) {
	query := fmt.Sprintf("PRAGMA table_info(%q)", tableName)

	rows, err := in.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.ColumnDefinition
	for rows.Next() {
		var (
			cid          int
			name         string
			colType      string
			notNull, pk  int
			defaultValue sql.NullString
		)

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}

		// SQLite reports notnull=0 for rowid-alias primary keys even
		// though a primary key can never hold NULL.
		col := schema.ColumnDefinition{
			Name:     name,
			Type:     schema.NormalizeType(colType),
			Length:   typeLength(colType),
			Nullable: notNull == 0 && pk == 0,
			Primary:  pk > 0,
		}
		if defaultValue.Valid {
			col.Default = strings.Trim(defaultValue.String, "'")
		}
		// An INTEGER PRIMARY KEY is a rowid alias, which auto-assigns.
		if col.Primary && schema.NormalizeType(colType) == "int" {
			col.AutoIncrement = true
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// typeLength extracts the declared length from forms like varchar(255).
func typeLength(colType string) int {
	open := strings.IndexByte(colType, '(')
	end := strings.IndexByte(colType, ')')
	if open < 0 || end <= open {
		return 0
	}
	var length int
	if _, err := fmt.Sscanf(colType[open+1:end], "%d", &length); err != nil {
		return 0
	}
	return length
}

// introspectIndexes returns explicit indexes plus the set of columns
// covered by a single-column unique index. Auto-generated primary key
// indexes are skipped.
func (in *SQLiteIntrospector) introspectIndexes(ctx context.Context, tableName string) ([]schema.IndexDefinition, map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA index_list(%q)", tableName)

	rows, err := in.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type indexRow struct {
		name   string
		unique bool
		auto   bool
	}
	var listed []indexRow
	for rows.Next() {
		var (
			seq             int
			name, origin    string
			unique, partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, nil, err
		}
		listed = append(listed, indexRow{
			name:   name,
			unique: unique == 1,
			// Implicit indexes back PRIMARY KEY and UNIQUE clauses; they
			// still matter for the unique-column flags below.
			auto: strings.HasPrefix(name, "sqlite_autoindex"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var indexes []schema.IndexDefinition
	uniqueCols := make(map[string]bool)
	for _, ir := range listed {
		columns, err := in.indexColumns(ctx, ir.name)
		if err != nil {
			return nil, nil, err
		}
		if len(columns) == 0 {
			continue
		}
		if ir.unique && len(columns) == 1 {
			uniqueCols[columns[0]] = true
		}
		if ir.auto {
			continue
		}
		indexes = append(indexes, schema.IndexDefinition{
			Name:    ir.name,
			Columns: columns,
			Unique:  ir.unique,
		})
	}

	return indexes, uniqueCols, nil
}

func (in *SQLiteIntrospector) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%q)", indexName)

	rows, err := in.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			seqno, cid int
			colName    sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, err
		}
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}

	return columns, rows.Err()
}

// introspectForeignKeys reads foreign keys. SQLite does not name them,
// so names are synthesized the same way the entity builder does.
func (in *SQLiteIntrospector) introspectForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%q)", tableName)

	rows, err := in.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var foreignKeys []schema.ForeignKeyDefinition
	for rows.Next() {
		var (
			id, seq                                           int
			targetTable, fromCol, onUpdate, onDelete, fkMatch string
			toCol                                             sql.NullString
		)

		if err := rows.Scan(&id, &seq, &targetTable, &fromCol, &toCol, &onUpdate, &onDelete, &fkMatch); err != nil {
			return nil, err
		}

		referencedColumn := "id"
		if toCol.Valid && toCol.String != "" {
			referencedColumn = toCol.String
		}

		foreignKeys = append(foreignKeys, schema.ForeignKeyDefinition{
			Name:             fmt.Sprintf("fk_%s_%s", tableName, fromCol),
			Column:           fromCol,
			ReferencedTable:  targetTable,
			ReferencedColumn: referencedColumn,
			OnUpdate:         onUpdate,
			OnDelete:         onDelete,
		})
	}

	return foreignKeys, rows.Err()
}

// InitializeMigrationTables creates both tracking tables if missing.
func (in *SQLiteIntrospector) InitializeMigrationTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY,
			executed_at DATETIME NOT NULL,
			execution_time INT NOT NULL DEFAULT 0,
			batch INT NOT NULL DEFAULT 1,
			squashed BOOLEAN NOT NULL DEFAULT FALSE,
			backup_path VARCHAR(512) NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_batch ON migrations(batch)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_squashed ON migrations(squashed)`,
		`CREATE TABLE IF NOT EXISTS migration_lock (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			locked_at DATETIME NOT NULL,
			hostname VARCHAR(255) NOT NULL,
			process_id INT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := in.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tracking table: %w", err)
		}
	}
	return nil
}

// MigrationTablesExist reports whether both tracking tables exist.
func (in *SQLiteIntrospector) MigrationTablesExist(ctx context.Context) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type = 'table' AND name IN (?, ?)
	`

	var count int
	err := in.conn.QueryRowContext(ctx, query, MigrationsTable, MigrationLockTable).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 2, nil
}

// TableRowCount returns the exact row count of a table.
func (in *SQLiteIntrospector) TableRowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %q LIMIT 1", table)
	if err := in.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EstimatedRowCount falls back to an exact count; SQLite keeps no cheap
// row statistics.
func (in *SQLiteIntrospector) EstimatedRowCount(ctx context.Context, table string) (int64, error) {
	return in.TableRowCount(ctx, table)
}
