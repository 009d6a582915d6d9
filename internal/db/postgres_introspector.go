package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// PostgresIntrospector reads the live schema of one PostgreSQL schema
// (namespace) from information_schema and the pg_catalog views.
type PostgresIntrospector struct {
	conn       Connection
	schemaName string
}

// NewPostgresIntrospector creates an introspector scoped to the given
// schema, typically "public".
func NewPostgresIntrospector(conn Connection, schemaName string) *PostgresIntrospector {
	return &PostgresIntrospector{
		conn:       conn,
		schemaName: schemaName,
	}
}

// CurrentSchema reads the full structure of the schema, excluding the
// tracking tables.
func (in *PostgresIntrospector) CurrentSchema(ctx context.Context) (*schema.DatabaseSchema, error) {
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

func (in *PostgresIntrospector) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := in.conn.QueryContext(ctx, query, in.schemaName)
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

func (in *PostgresIntrospector) introspectTable(ctx context.Context, tableName string) (*schema.TableDefinition, error) {
	table := &schema.TableDefinition{Name: tableName}

	columns, err := in.introspectColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	table.Columns = columns

	indexes, err := in.introspectIndexes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	table.Indexes = indexes

	foreignKeys, err := in.introspectForeignKeys(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys: %w", err)
	}
	table.ForeignKeys = foreignKeys

	return table, nil
}

func (in *PostgresIntrospector) introspectColumns(ctx context.Context, tableName string) ([]schema.ColumnDefinition, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			COALESCE(c.character_maximum_length, c.numeric_precision, 0),
			c.is_nullable,
			c.column_default,
			c.is_identity,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'PRIMARY KEY'
					AND kcu.column_name = c.column_name
			) THEN true ELSE false END AS is_primary,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.constraint_column_usage ccu
					ON tc.constraint_name = ccu.constraint_name
					AND tc.table_schema = ccu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'UNIQUE'
					AND ccu.column_name = c.column_name
			) THEN true ELSE false END AS is_unique
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := in.conn.QueryContext(ctx, query, in.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.ColumnDefinition
	for rows.Next() {
		var (
			col        schema.ColumnDefinition
			length     int64
			nullable   string
			defaultVal sql.NullString
			isIdentity string
		)

		if err := rows.Scan(&col.Name, &col.Type, &length, &nullable, &defaultVal, &isIdentity, &col.Primary, &col.Unique); err != nil {
			return nil, err
		}
		if col.Name == "" {
			continue
		}

		col.Type = schema.NormalizeType(col.Type)
		col.Length = int(length)
		col.Nullable = nullable == "YES"
		// Sequence-backed defaults are auto-assign, not real defaults.
		if defaultVal.Valid && strings.HasPrefix(defaultVal.String, "nextval(") {
			col.AutoIncrement = true
		} else if defaultVal.Valid {
			col.Default = defaultVal.String
		}
		if isIdentity == "YES" {
			col.AutoIncrement = true
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (in *PostgresIntrospector) introspectIndexes(ctx context.Context, tableName string) ([]schema.IndexDefinition, error) {
	query := `
		SELECT
			i.relname AS index_name,
			ix.indisunique AS is_unique,
			am.amname AS index_type,
			string_agg(a.attname, ',' ORDER BY array_position(ix.indkey, a.attnum)) AS column_names
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique, am.amname
		ORDER BY i.relname
	`

	rows, err := in.conn.QueryContext(ctx, query, in.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.IndexDefinition
	for rows.Next() {
		var (
			idx         schema.IndexDefinition
			columnNames string
		)
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Type, &columnNames); err != nil {
			return nil, err
		}
		if idx.Name == "" {
			continue
		}
		idx.Type = strings.ToUpper(idx.Type)
		idx.Columns = strings.Split(columnNames, ",")
		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

func (in *PostgresIntrospector) introspectForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	query := `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		JOIN information_schema.referential_constraints AS rc
			ON rc.constraint_name = tc.constraint_name
			AND rc.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`

	rows, err := in.conn.QueryContext(ctx, query, in.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var foreignKeys []schema.ForeignKeyDefinition
	for rows.Next() {
		var fk schema.ForeignKeyDefinition
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return nil, err
		}
		if fk.Name == "" {
			continue
		}
		foreignKeys = append(foreignKeys, fk)
	}

	return foreignKeys, rows.Err()
}

// InitializeMigrationTables creates both tracking tables if missing.
func (in *PostgresIntrospector) InitializeMigrationTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY,
			executed_at TIMESTAMP NOT NULL,
			execution_time INT NOT NULL DEFAULT 0,
			batch INT NOT NULL DEFAULT 1,
			squashed BOOLEAN NOT NULL DEFAULT FALSE,
			backup_path VARCHAR(512) NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_batch ON migrations(batch)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_squashed ON migrations(squashed)`,
		`CREATE TABLE IF NOT EXISTS migration_lock (
			id SERIAL PRIMARY KEY,
			locked_at TIMESTAMP NOT NULL,
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
func (in *PostgresIntrospector) MigrationTablesExist(ctx context.Context) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name IN ($2, $3)
	`

	var count int
	err := in.conn.QueryRowContext(ctx, query, in.schemaName, MigrationsTable, MigrationLockTable).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 2, nil
}

// TableRowCount returns the exact row count of a table.
func (in *PostgresIntrospector) TableRowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q LIMIT 1`, table)
	if err := in.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EstimatedRowCount returns the planner's row estimate from pg_class.
func (in *PostgresIntrospector) EstimatedRowCount(ctx context.Context, table string) (int64, error) {
	query := `
		SELECT COALESCE(c.reltuples::bigint, 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`

	var estimate int64
	err := in.conn.QueryRowContext(ctx, query, in.schemaName, table).Scan(&estimate)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return estimate, nil
}
