package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "backup.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedItems(t *testing.T, conn *sql.DB) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			payload BLOB,
			note TEXT
		)`,
		`INSERT INTO items (name, payload, note) VALUES ('plain', X'DEADBEEF', 'hello')`,
		`INSERT INTO items (name, payload, note) VALUES ('it''s quoted', NULL, NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
}

func newTestManager(t *testing.T, conn *sql.DB) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewManager(conn, dialect.SQLite{}, dir, "appdb"), dir
}

func gunzip(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	var b bytes.Buffer
	if _, err := b.ReadFrom(gz); err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	return b.String()
}

func TestCreateBackupRequiresDatabaseName(t *testing.T) {
	conn := openTestDB(t)
	m := NewManager(conn, dialect.SQLite{}, t.TempDir(), "")

	if _, err := m.CreateBackup(context.Background(), "100"); !errors.Is(err, ErrMissingDatabaseName) {
		t.Errorf("expected ErrMissingDatabaseName, got %v", err)
	}
}

func TestCreateBackupCompressesAndRemovesPlainFile(t *testing.T) {
	conn := openTestDB(t)
	seedItems(t, conn)
	m, dir := newTestManager(t, conn)

	path, err := m.CreateBackup(context.Background(), "100")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if !strings.HasSuffix(path, ".sql.gz") {
		t.Errorf("expected compressed path, got %q", path)
	}
	if _, err := os.Stat(strings.TrimSuffix(path, ".gz")); !errors.Is(err, os.ErrNotExist) {
		t.Error("uncompressed file should be removed after compression")
	}

	script := gunzip(t, path)
	for _, fragment := range []string{
		"DROP TABLE IF EXISTS \"items\"",
		"CREATE TABLE items",
		"INSERT INTO \"items\"",
		"X'deadbeef'",
		"'it''s quoted'",
		"NULL",
		"PRAGMA foreign_keys = OFF",
		"PRAGMA foreign_keys = ON",
	} {
		if !strings.Contains(script, fragment) {
			t.Errorf("missing %q in dump:\n%s", fragment, script)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the compressed file, found %d entries", len(entries))
	}
}

func TestBackupExcludesLockTable(t *testing.T) {
	conn := openTestDB(t)
	seedItems(t, conn)
	if err := db.NewSQLiteIntrospector(conn).InitializeMigrationTables(context.Background()); err != nil {
		t.Fatalf("init tracking tables: %v", err)
	}
	m, _ := newTestManager(t, conn)

	path, err := m.CreateBackup(context.Background(), "100")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	script := gunzip(t, path)
	if !strings.Contains(script, "CREATE TABLE migrations") {
		t.Error("migration state should travel with the backup")
	}
	if strings.Contains(script, "migration_lock") {
		t.Error("the transient lock table must not be dumped")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	conn := openTestDB(t)
	seedItems(t, conn)
	m, _ := newTestManager(t, conn)

	path, err := m.CreateBackup(context.Background(), "100")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	if _, err := conn.Exec(`DROP TABLE items`); err != nil {
		t.Fatalf("dropping table: %v", err)
	}
	if err := m.Restore(context.Background(), path); err != nil {
		t.Fatalf("restore: %v", err)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("counting restored rows: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 restored rows, got %d", count)
	}

	var name string
	if err := conn.QueryRow(`SELECT name FROM items WHERE id = 2`).Scan(&name); err != nil {
		t.Fatalf("reading restored row: %v", err)
	}
	if name != "it's quoted" {
		t.Errorf("quote escaping broke the round trip, got %q", name)
	}

	var payload []byte
	if err := conn.QueryRow(`SELECT payload FROM items WHERE id = 1`).Scan(&payload); err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("hex escaping broke the blob, got %x", payload)
	}
}

func TestRestoreMissingFile(t *testing.T) {
	conn := openTestDB(t)
	m, _ := newTestManager(t, conn)
	if err := m.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.sql.gz")); err == nil {
		t.Error("expected error for missing backup file")
	}
}

func TestListBackupsNewestFirst(t *testing.T) {
	conn := openTestDB(t)
	seedItems(t, conn)
	m, _ := newTestManager(t, conn)

	ctx := context.Background()
	if _, err := m.CreateBackup(ctx, "100"); err != nil {
		t.Fatalf("backup 100: %v", err)
	}
	if _, err := m.CreateBackup(ctx, "200"); err != nil {
		t.Fatalf("backup 200: %v", err)
	}

	backups, err := m.ListBackups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
	if !strings.Contains(backups[0], "200") {
		t.Errorf("newest backup should come first, got %v", backups)
	}
}

func TestCleanupOldBackups(t *testing.T) {
	conn := openTestDB(t)
	seedItems(t, conn)
	m, _ := newTestManager(t, conn)

	ctx := context.Background()
	oldPath, err := m.CreateBackup(ctx, "100")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := m.CreateBackup(ctx, "200"); err != nil {
		t.Fatalf("backup: %v", err)
	}

	tenDaysAgo := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(oldPath, tenDaysAgo, tenDaysAgo); err != nil {
		t.Fatalf("aging backup: %v", err)
	}

	removed, err := m.CleanupOldBackups(7)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	backups, _ := m.ListBackups()
	if len(backups) != 1 || strings.Contains(backups[0], "_100") {
		t.Errorf("the old backup should be gone, got %v", backups)
	}

	if _, err := m.CleanupOldBackups(0); err == nil {
		t.Error("zero retention must be rejected")
	}
}
