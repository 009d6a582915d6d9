package migrate

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/entity"
	"github.com/tordrt/schemamigrate/internal/generate"
)

func newTestExecutor(t *testing.T, backups BackupCreator) (*Executor, *db.Client, db.Introspector, string) {
	t.Helper()
	ctx := context.Background()

	client, err := db.NewSQLiteClient(ctx, filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	introspector := db.NewSQLiteIntrospector(client.DB())
	dir := t.TempDir()
	return NewExecutor(client, introspector, dialect.SQLite{}, backups, dir), client, introspector, dir
}

func writeMigration(t *testing.T, dir, version, body string) {
	t.Helper()
	path := filepath.Join(dir, "Migration_"+version+".sql")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

const createUsersMigration = `-- version: 100
-- destructive: false

-- +up
CREATE TABLE "users" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "email" VARCHAR(255) NOT NULL
);

-- +down
DROP TABLE "users";
`

const addColumnMigration = `-- version: 200
-- destructive: false

-- +up
ALTER TABLE "users" ADD COLUMN "bio" TEXT;

-- +down
ALTER TABLE "users" DROP COLUMN "bio";
`

func TestMigrateAppliesPendingOnce(t *testing.T) {
	ctx := context.Background()
	exec, client, _, dir := newTestExecutor(t, nil)
	writeMigration(t, dir, "100", createUsersMigration)
	writeMigration(t, dir, "200", addColumnMigration)

	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	records, err := exec.executedRecords(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Batch != 1 {
			t.Errorf("first run should use batch 1, got %d for %s", r.Batch, r.Version)
		}
	}
	if _, err := client.DB().Exec(`INSERT INTO users (email, bio) VALUES ('a@b.c', 'hi')`); err != nil {
		t.Fatalf("migrated schema unusable: %v", err)
	}

	// A second run has nothing to do and must not re-execute anything.
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	records, _ = exec.executedRecords(ctx)
	if len(records) != 2 {
		t.Errorf("re-run must not add records, got %d", len(records))
	}
}

func TestMigrateAssignsNewBatchPerRun(t *testing.T) {
	ctx := context.Background()
	exec, _, _, dir := newTestExecutor(t, nil)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	writeMigration(t, dir, "200", addColumnMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	records, _ := exec.executedRecords(ctx)
	batches := map[string]int{}
	for _, r := range records {
		batches[r.Version] = r.Batch
	}
	if batches["100"] != 1 || batches["200"] != 2 {
		t.Errorf("expected batches 1 and 2, got %v", batches)
	}
}

func TestRollbackByBatch(t *testing.T) {
	ctx := context.Background()
	exec, client, _, dir := newTestExecutor(t, nil)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	writeMigration(t, dir, "200", addColumnMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	if err := exec.Rollback(ctx, 1); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	records, _ := exec.executedRecords(ctx)
	if len(records) != 1 || records[0].Version != "100" {
		t.Fatalf("expected only version 100 left, got %+v", records)
	}
	if _, err := client.DB().Exec(`INSERT INTO users (email, bio) VALUES ('a@b.c', 'x')`); err == nil {
		t.Error("bio column should be gone after rollback")
	}

	if err := exec.Rollback(ctx, 1); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	records, _ = exec.executedRecords(ctx)
	if len(records) != 0 {
		t.Errorf("expected empty tracking table, got %+v", records)
	}
}

func TestRollbackToVersion(t *testing.T) {
	ctx := context.Background()
	exec, _, _, dir := newTestExecutor(t, nil)
	writeMigration(t, dir, "100", createUsersMigration)
	writeMigration(t, dir, "200", addColumnMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := exec.RollbackToVersion(ctx, "999"); err == nil {
		t.Error("unknown version must error")
	}

	if err := exec.RollbackToVersion(ctx, "200"); err != nil {
		t.Fatalf("rollback to version: %v", err)
	}
	records, _ := exec.executedRecords(ctx)
	if len(records) != 1 || records[0].Version != "100" {
		t.Errorf("expected only version 100 left, got %+v", records)
	}
}

func TestRollbackAll(t *testing.T) {
	ctx := context.Background()
	exec, _, introspector, dir := newTestExecutor(t, nil)
	writeMigration(t, dir, "100", createUsersMigration)
	writeMigration(t, dir, "200", addColumnMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := exec.RollbackAll(ctx); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	s, err := introspector.CurrentSchema(ctx)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if s.HasTable("users") {
		t.Error("users should be gone after rolling back everything")
	}
}

func TestMigrateFailureRollsBackAndNamesVersion(t *testing.T) {
	ctx := context.Background()
	exec, _, introspector, dir := newTestExecutor(t, nil)
	writeMigration(t, dir, "100", `-- version: 100

-- +up
CREATE TABLE "ok" ("id" INTEGER PRIMARY KEY);
CREATE TABLE not valid sql;

-- +down
DROP TABLE "ok";
`)

	err := exec.Migrate(ctx, MigrateOptions{})
	if err == nil {
		t.Fatal("expected execution failure")
	}
	if !strings.Contains(err.Error(), "100") {
		t.Errorf("error should name the migration version, got %v", err)
	}

	records, _ := exec.executedRecords(ctx)
	if len(records) != 0 {
		t.Errorf("failed migration must not be recorded, got %+v", records)
	}
	s, _ := introspector.CurrentSchema(ctx)
	if s.HasTable("ok") {
		t.Error("partial work should be rolled back")
	}
}

func TestMigrateValidationBlocksUnlessForced(t *testing.T) {
	ctx := context.Background()
	exec, client, _, dir := newTestExecutor(t, nil)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := client.DB().Exec(`INSERT INTO users (email) VALUES ('a@b.c')`); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	writeMigration(t, dir, "200", `-- version: 200

-- +up
ALTER TABLE "users" ADD COLUMN "age" INT NOT NULL;

-- +down
ALTER TABLE "users" DROP COLUMN "age";
`)

	err := exec.Migrate(ctx, MigrateOptions{})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation failure, got %v", err)
	}

	// Forcing bypasses validation; the engine then rejects the statement
	// itself, reported as an execution failure instead.
	err = exec.Migrate(ctx, MigrateOptions{Force: true})
	if err == nil {
		t.Fatal("expected execution failure")
	}
	if strings.Contains(err.Error(), "validation failed") {
		t.Errorf("force must skip validation, got %v", err)
	}
}

// recordingBackups notes which versions were snapshotted.
type recordingBackups struct {
	versions []string
}

func (b *recordingBackups) CreateBackup(_ context.Context, version string) (string, error) {
	b.versions = append(b.versions, version)
	return "/backups/backup_" + version + ".sql.gz", nil
}

func TestMigrateBacksUpDestructiveMigrations(t *testing.T) {
	ctx := context.Background()
	backups := &recordingBackups{}
	exec, _, _, dir := newTestExecutor(t, backups)

	writeMigration(t, dir, "100", createUsersMigration)
	writeMigration(t, dir, "200", `-- version: 200
-- destructive: true
-- requiresBackup: true

-- +up
DROP TABLE "users";

-- +down
CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "email" VARCHAR(255) NOT NULL);
`)

	if err := exec.Migrate(ctx, MigrateOptions{Force: true}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(backups.versions) != 1 || backups.versions[0] != "200" {
		t.Errorf("only the destructive migration should be backed up, got %v", backups.versions)
	}

	records, _ := exec.executedRecords(ctx)
	for _, r := range records {
		if r.Version == "200" && r.BackupPath == "" {
			t.Error("backup path should be recorded")
		}
		if r.Version == "100" && r.BackupPath != "" {
			t.Error("non-destructive migration must not record a backup path")
		}
	}
}

func TestMigrateWarnsAboutDestructiveEvenWithBackups(t *testing.T) {
	ctx := context.Background()
	backups := &recordingBackups{}
	exec, _, _, dir := newTestExecutor(t, backups)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	writeMigration(t, dir, "200", `-- version: 200
-- destructive: true

-- +up
DROP TABLE "users";

-- +down
CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "email" VARCHAR(255) NOT NULL);
`)

	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	if err := exec.Migrate(ctx, MigrateOptions{Force: true}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(logged.String(), "destructive") {
		t.Errorf("destructive migration should be warned about even when backed up, got:\n%s", logged.String())
	}
	if len(backups.versions) != 1 || backups.versions[0] != "200" {
		t.Errorf("destructive migration should still be backed up, got %v", backups.versions)
	}
}

func TestStatusListsOrphanedRecords(t *testing.T) {
	ctx := context.Background()
	exec, _, _, dir := newTestExecutor(t, nil)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "Migration_100.sql")); err != nil {
		t.Fatalf("removing migration file: %v", err)
	}

	var out strings.Builder
	if err := exec.Status(ctx, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	for _, fragment := range []string{"100", "file missing", "1 executed, 0 pending"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("missing %q in status output:\n%s", fragment, got)
		}
	}
}

func TestStatusListsExecutedAndPending(t *testing.T) {
	ctx := context.Background()
	exec, _, _, dir := newTestExecutor(t, nil)

	writeMigration(t, dir, "100", createUsersMigration)
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	writeMigration(t, dir, "200", addColumnMigration)

	var out strings.Builder
	if err := exec.Status(ctx, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	for _, fragment := range []string{"batch 1", "pending", "1 executed, 1 pending"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("missing %q in status output:\n%s", fragment, got)
		}
	}
}

// The full loop: declare entities, generate a migration from the live
// database, execute it, evolve the entities, repeat, then roll back.
func TestGenerateMigrateRollbackLoop(t *testing.T) {
	ctx := context.Background()
	exec, client, introspector, dir := newTestExecutor(t, nil)

	registry := entity.NewRegistry()
	registry.Register(entity.Definition{
		Name:  "User",
		Table: "users",
		Columns: []entity.ColumnSpec{
			{Name: "id", Type: "int", Primary: true, Auto: true},
			{Name: "email", Type: "varchar", Size: 255},
		},
	})

	gen := generate.New(introspector, dialect.SQLite{}, registry, generate.Options{Dir: dir})
	first, err := gen.Generate(ctx)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if first.Empty {
		t.Fatal("fresh database should need a migration")
	}
	if err := exec.Migrate(ctx, MigrateOptions{}); err != nil {
		t.Fatalf("first migrate: %v", err)
	}

	// Converged: generating again finds nothing to do.
	again, err := gen.Generate(ctx)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if !again.Empty {
		t.Errorf("schema should be converged, got up=%v", again.UpStatements)
	}

	if _, err := client.DB().Exec(`INSERT INTO users (email) VALUES ('a@b.c')`); err != nil {
		t.Fatalf("using migrated schema: %v", err)
	}

	if err := exec.RollbackAll(ctx); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	s, err := introspector.CurrentSchema(ctx)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if s.HasTable("users") {
		t.Errorf("rollback should drop the generated table, still have %v", s.TableNames())
	}
}
