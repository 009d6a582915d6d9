package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// MySQLIntrospector reads the live schema of one MySQL database from
// information_schema. Every query is scoped to the current database.
type MySQLIntrospector struct {
	conn       Connection
	schemaName string
}

// NewMySQLIntrospector creates an introspector for the named database.
func NewMySQLIntrospector(conn Connection, schemaName string) *MySQLIntrospector {
	return &MySQLIntrospector{
		conn:       conn,
		schemaName: schemaName,
	}
}

// CurrentSchema reads the full structure of the database, excluding the
// tracking tables.
func (in *MySQLIntrospector) CurrentSchema(ctx context.Context) (*schema.DatabaseSchema, error) {
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

func (in *MySQLIntrospector) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
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

// introspectTable reads columns, indexes and foreign keys for one table.
func (in *MySQLIntrospector) introspectTable(ctx context.Context, tableName string) (*schema.TableDefinition, error) {
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

func (in *MySQLIntrospector) introspectColumns(ctx context.Context, tableName string) ([]schema.ColumnDefinition, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			COALESCE(c.character_maximum_length, c.numeric_precision, 0),
			c.is_nullable,
			c.column_default,
			c.column_key,
			c.extra,
			c.column_comment
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
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
			columnKey  string
			extra      string
		)

		if err := rows.Scan(&col.Name, &col.Type, &length, &nullable, &defaultVal, &columnKey, &extra, &col.Comment); err != nil {
			return nil, err
		}
		if col.Name == "" {
			continue
		}

		col.Type = schema.NormalizeType(col.Type)
		col.Length = int(length)
		col.Nullable = nullable == "YES"
		if defaultVal.Valid {
			col.Default = defaultVal.String
		}
		col.Primary = columnKey == "PRI"
		col.Unique = columnKey == "UNI"
		col.AutoIncrement = strings.Contains(extra, "auto_increment")

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// introspectIndexes groups index rows by name in sequence order, always
// excluding the implicit PRIMARY index.
func (in *MySQLIntrospector) introspectIndexes(ctx context.Context, tableName string) ([]schema.IndexDefinition, error) {
	query := `
		SELECT
			s.index_name,
			s.non_unique = 0 AS is_unique,
			s.index_type,
			GROUP_CONCAT(s.column_name ORDER BY s.seq_in_index) AS column_names
		FROM information_schema.statistics s
		WHERE s.table_schema = ?
			AND s.table_name = ?
			AND s.index_name != 'PRIMARY'
		GROUP BY s.index_name, s.non_unique, s.index_type
		ORDER BY s.index_name
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
			isUnique    int
			columnNames string
		)

		if err := rows.Scan(&idx.Name, &isUnique, &idx.Type, &columnNames); err != nil {
			return nil, err
		}
		if idx.Name == "" {
			continue
		}

		idx.Unique = isUnique == 1
		idx.Columns = strings.Split(columnNames, ",")

		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

func (in *MySQLIntrospector) introspectForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKeyDefinition, error) {
	query := `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_name = kcu.constraint_name
			AND rc.constraint_schema = kcu.table_schema
		WHERE kcu.table_schema = ?
			AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
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
func (in *MySQLIntrospector) InitializeMigrationTables(ctx context.Context) error {
	statements := []string{
		"CREATE TABLE IF NOT EXISTS `migrations` (" +
			"`version` VARCHAR(255) NOT NULL PRIMARY KEY, " +
			"`executed_at` DATETIME NOT NULL, " +
			"`execution_time` INT NOT NULL DEFAULT 0, " +
			"`batch` INT NOT NULL DEFAULT 1, " +
			"`squashed` BOOLEAN NOT NULL DEFAULT FALSE, " +
			"`backup_path` VARCHAR(512) NULL, " +
			"INDEX `idx_migrations_batch` (`batch`), " +
			"INDEX `idx_migrations_squashed` (`squashed`))",
		"CREATE TABLE IF NOT EXISTS `migration_lock` (" +
			"`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
			"`locked_at` DATETIME NOT NULL, " +
			"`hostname` VARCHAR(255) NOT NULL, " +
			"`process_id` INT NOT NULL)",
	}

	for _, stmt := range statements {
		if _, err := in.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tracking table: %w", err)
		}
	}
	return nil
}

// MigrationTablesExist reports whether both tracking tables exist.
func (in *MySQLIntrospector) MigrationTablesExist(ctx context.Context) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name IN (?, ?)
	`

	var count int
	err := in.conn.QueryRowContext(ctx, query, in.schemaName, MigrationsTable, MigrationLockTable).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 2, nil
}

// TableRowCount returns the exact row count of a table.
func (in *MySQLIntrospector) TableRowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s` LIMIT 1", strings.ReplaceAll(table, "`", ""))
	if err := in.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EstimatedRowCount returns the catalog row-count estimate, which MySQL
// maintains from index statistics and can be stale.
func (in *MySQLIntrospector) EstimatedRowCount(ctx context.Context, table string) (int64, error) {
	query := `
		SELECT COALESCE(table_rows, 0)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
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
