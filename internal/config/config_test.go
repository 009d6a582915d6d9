package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MigrationsDir != "migrations" {
		t.Errorf("default migrations dir: got %q", cfg.MigrationsDir)
	}
	if cfg.Backup.Dir != "backups" || cfg.Backup.RetentionDays != 30 {
		t.Errorf("default backup config: got %+v", cfg.Backup)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `database_url: sqlite://app.db
database_name: appdb
migrations_dir: db/migrations
backup:
  dir: /var/backups/appdb
  retention_days: 7
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "sqlite://app.db" || cfg.DatabaseName != "appdb" {
		t.Errorf("database settings: got %+v", cfg)
	}
	if cfg.MigrationsDir != "db/migrations" {
		t.Errorf("migrations dir: got %q", cfg.MigrationsDir)
	}
	if cfg.Backup.Dir != "/var/backups/appdb" || cfg.Backup.RetentionDays != 7 {
		t.Errorf("backup config: got %+v", cfg.Backup)
	}
}

func TestLoadBrokenFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database_url: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCHEMAMIGRATE_DATABASE_URL", "mysql://root@tcp(localhost:3306)/app")
	t.Setenv("SCHEMAMIGRATE_BACKUP_DIR", "/tmp/backups")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "mysql://root@tcp(localhost:3306)/app" {
		t.Errorf("database url override: got %q", cfg.DatabaseURL)
	}
	if cfg.Backup.Dir != "/tmp/backups" {
		t.Errorf("backup dir override: got %q", cfg.Backup.Dir)
	}
}
