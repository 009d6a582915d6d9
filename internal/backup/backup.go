// Package backup snapshots a database into a compressed SQL script and
// restores from it. Dumps go through plain SQL so they work over the
// same connection the migrations use.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/logger"
)

// ErrMissingDatabaseName is returned when a backup is requested without
// a configured database name.
var ErrMissingDatabaseName = errors.New("backup requires a configured database name")

// insertBatchSize caps how many rows share one INSERT statement.
const insertBatchSize = 100

// removeDelay is the grace period before the uncompressed dump is
// deleted, giving the filesystem time to release handles.
var removeDelay = 100 * time.Millisecond

// Manager creates, restores and prunes backups under one directory.
type Manager struct {
	conn         db.Connection
	dialect      dialect.Dialect
	dir          string
	databaseName string
}

// NewManager creates a backup manager. databaseName labels the dump and
// must be set before any backup is taken.
func NewManager(conn db.Connection, d dialect.Dialect, dir, databaseName string) *Manager {
	return &Manager{conn: conn, dialect: d, dir: dir, databaseName: databaseName}
}

// CreateBackup dumps every table to a SQL script, compresses it and
// returns the compressed path. When compression fails the plain file is
// kept and returned instead.
func (m *Manager) CreateBackup(ctx context.Context, version string) (string, error) {
	if m.databaseName == "" {
		return "", ErrMissingDatabaseName
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	script, err := m.dump(ctx)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("backup_%s_%s.sql", m.databaseName, version)
	plainPath := filepath.Join(m.dir, name)
	if err := os.WriteFile(plainPath, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}

	gzPath := plainPath + ".gz"
	if err := compressFile(plainPath, gzPath); err != nil {
		logger.Warn("compressing backup failed, keeping %s: %v", plainPath, err)
		return plainPath, nil
	}

	time.Sleep(removeDelay)
	if err := os.Remove(plainPath); err != nil {
		logger.Warn("removing uncompressed backup: %v", err)
	}
	return gzPath, nil
}

func (m *Manager) dump(ctx context.Context) (string, error) {
	tables, err := m.tableNames(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Backup of %s taken %s\n", m.databaseName, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s;\n", m.dialect.DisableForeignKeyChecksSQL())

	for _, table := range tables {
		createSQL, err := m.createTableSQL(ctx, table)
		if err != nil {
			return "", fmt.Errorf("reading definition of %s: %w", table, err)
		}
		fmt.Fprintf(&b, "\n-- Table %s\n", table)
		fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s;\n", m.dialect.QuoteIdent(table))
		fmt.Fprintf(&b, "%s;\n", strings.TrimSuffix(strings.TrimSpace(createSQL), ";"))

		if err := m.dumpRows(ctx, table, &b); err != nil {
			return "", fmt.Errorf("dumping rows of %s: %w", table, err)
		}
	}

	fmt.Fprintf(&b, "\n%s;\n", m.dialect.EnableForeignKeyChecksSQL())
	return b.String(), nil
}

// tableNames lists user tables. The transient lock table is left out so
// a restore never resurrects a stale lock; the migrations table is kept
// because its state must travel with the data.
func (m *Manager) tableNames(ctx context.Context) ([]string, error) {
	var query string
	switch m.dialect.Name() {
	case "mysql":
		query = "SHOW TABLES"
	case "sqlite":
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	default:
		return nil, fmt.Errorf("backups are not supported for %s, use the engine's own dump tool", m.dialect.Name())
	}

	rows, err := m.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == db.MigrationLockTable {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (m *Manager) createTableSQL(ctx context.Context, table string) (string, error) {
	switch m.dialect.Name() {
	case "mysql":
		var name, createSQL string
		err := m.conn.QueryRowContext(ctx,
			"SHOW CREATE TABLE "+m.dialect.QuoteIdent(table)).Scan(&name, &createSQL)
		return createSQL, err
	case "sqlite":
		var createSQL string
		err := m.conn.QueryRowContext(ctx,
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&createSQL)
		return createSQL, err
	default:
		return "", fmt.Errorf("no table definition source for %s", m.dialect.Name())
	}
}

func (m *Manager) dumpRows(ctx context.Context, table string, b *strings.Builder) error {
	rows, err := m.conn.QueryContext(ctx, "SELECT * FROM "+m.dialect.QuoteIdent(table))
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return err
	}

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = m.dialect.QuoteIdent(c)
	}
	insertPrefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n",
		m.dialect.QuoteIdent(table), strings.Join(quotedCols, ", "))

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.WriteString(insertPrefix)
		b.WriteString("  " + strings.Join(batch, ",\n  "))
		b.WriteString(";\n")
		batch = batch[:0]
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return err
		}
		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = formatValue(v, types[i].DatabaseTypeName())
		}
		batch = append(batch, "("+strings.Join(rendered, ", ")+")")
		if len(batch) >= insertBatchSize {
			flush()
		}
	}
	flush()
	return rows.Err()
}

// formatValue renders one scanned value as a SQL literal. Binary columns
// become hex literals; everything else string-like is quoted and escaped.
func formatValue(v any, dbType string) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02 15:04:05") + "'"
	case []byte:
		if isBinaryType(dbType) {
			return fmt.Sprintf("X'%x'", val)
		}
		return quoteDumpString(string(val))
	case string:
		return quoteDumpString(val)
	default:
		return quoteDumpString(fmt.Sprintf("%v", val))
	}
}

func isBinaryType(dbType string) bool {
	upper := strings.ToUpper(dbType)
	return strings.Contains(upper, "BLOB") || strings.Contains(upper, "BINARY") || upper == "BYTEA"
}

var dumpEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `''`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", `\0`,
)

func quoteDumpString(s string) string {
	return "'" + dumpEscaper.Replace(s) + "'"
}

func compressFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Restore replays a backup script statement by statement. The run is not
// transactional: DDL inside the dump cannot be wrapped in one
// transaction on most engines.
func (m *Manager) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decompressing backup: %w", err)
		}
		var b bytes.Buffer
		if _, err := b.ReadFrom(gz); err != nil {
			return fmt.Errorf("decompressing backup: %w", err)
		}
		data = b.Bytes()
	}

	for _, stmt := range splitStatements(string(data)) {
		if _, err := m.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("restoring %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// splitStatements strips comment lines and cuts the script at semicolon
// line terminators.
func splitStatements(script string) []string {
	var stmts []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			current.Reset()
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ListBackups returns every backup file in the directory, newest first.
func (m *Manager) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "backup_") {
			continue
		}
		if strings.HasSuffix(name, ".sql") || strings.HasSuffix(name, ".sql.gz") {
			backups = append(backups, filepath.Join(m.dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// CleanupOldBackups deletes backups older than retentionDays and returns
// how many were removed.
func (m *Manager) CleanupOldBackups(retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", retentionDays)
	}
	backups, err := m.ListBackups()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, path := range backups {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("removing %s: %w", path, err)
			}
			removed++
		}
	}
	return removed, nil
}

