//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/migrate"
	"github.com/tordrt/schemamigrate/internal/schema"
)

// envOrDefault reads a connection string from the environment, falling
// back to the docker-compose test defaults.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openTarget(t *testing.T, url string) (*db.Client, db.Introspector, dialect.Dialect) {
	t.Helper()
	ctx := context.Background()

	client, introspector, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("connecting to %s: %v", url, err)
	}
	t.Cleanup(func() { client.Close() })

	d, err := dialect.ForDriver(client.Driver())
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	return client, introspector, d
}

func writeMigration(t *testing.T, dir, version, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "Migration_"+version+".sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("writing migration: %v", err)
	}
}

// runLifecycle migrates a single create-table migration, checks the
// introspected schema, then rolls everything back.
func runLifecycle(t *testing.T, client *db.Client, introspector db.Introspector, d dialect.Dialect, table string, migration string) {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	writeMigration(t, dir, "100", migration)

	exec := migrate.NewExecutor(client, introspector, d, nil, dir)
	if err := exec.Migrate(ctx, migrate.MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s, err := introspector.CurrentSchema(ctx)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	verifyTable(t, s, table)

	if err := exec.RollbackAll(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	s, err = introspector.CurrentSchema(ctx)
	if err != nil {
		t.Fatalf("introspect after rollback: %v", err)
	}
	if s.HasTable(table) {
		t.Errorf("%s should be gone after rollback", table)
	}
}

func verifyTable(t *testing.T, s *schema.DatabaseSchema, name string) {
	t.Helper()
	table := s.Table(name)
	if table == nil {
		t.Fatalf("table %s not found, have %v", name, s.TableNames())
	}
	if pk := table.PrimaryColumn(); pk == nil {
		t.Errorf("table %s has no primary column", name)
	}
}
