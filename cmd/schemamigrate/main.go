package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tordrt/schemamigrate/internal/backup"
	"github.com/tordrt/schemamigrate/internal/config"
	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/entity"
	"github.com/tordrt/schemamigrate/internal/generate"
	"github.com/tordrt/schemamigrate/internal/migrate"
)

var (
	configPath   string
	entitiesPath string
	dryRun       bool
	autoApprove  bool
	force        bool
	steps        int
	toVersion    string
	rollbackAll  bool
)

var rootCmd = &cobra.Command{
	Use:   "schemamigrate",
	Short: "Generate and run database schema migrations",
	Long: `schemamigrate compares declared entity schemas against the live database,
generates SQL migrations for the difference, and executes them with
locking, validation and backups.`,
	SilenceUsage: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a migration from the entity definitions",
	RunE:  runGenerate,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Execute all pending migrations",
	RunE:  runMigrate,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back executed migrations",
	RunE:  runRollback,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show executed and pending migrations",
	RunE:  runStatus,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage database backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a backup now",
	RunE:  runBackupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore a backup file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup files, newest first",
	RunE:  runBackupList,
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups past the retention window",
	RunE:  runBackupCleanup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "schemamigrate.yaml", "Config file path")

	generateCmd.Flags().StringVar(&entitiesPath, "entities", "", "Entity definitions file (default from config)")
	generateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the migration without writing a file")
	generateCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "Accept every detected rename without prompting")

	migrateCmd.Flags().BoolVar(&force, "force", false, "Skip validation of pending migrations")

	rollbackCmd.Flags().IntVar(&steps, "steps", 1, "How many batches to roll back")
	rollbackCmd.Flags().StringVar(&toVersion, "to", "", "Roll back every migration with version >= this")
	rollbackCmd.Flags().BoolVar(&rollbackAll, "all", false, "Roll back everything")

	backupCmd.AddCommand(backupCreateCmd, backupRestoreCmd, backupListCmd, backupCleanupCmd)
	rootCmd.AddCommand(generateCmd, migrateCmd, rollbackCmd, statusCmd, backupCmd)
}

// openDatabase connects using the configured URL and resolves the
// matching dialect.
func openDatabase(ctx context.Context, cfg config.Config) (*db.Client, db.Introspector, dialect.Dialect, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil, fmt.Errorf("no database_url configured (set it in %s or SCHEMAMIGRATE_DATABASE_URL)", configPath)
	}
	client, introspector, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	d, err := dialect.ForDriver(client.Driver())
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	return client, introspector, d, nil
}

// backupManager builds the backup manager, deriving the database name
// from a MySQL DSN when the config leaves it empty.
func backupManager(cfg config.Config, client *db.Client, d dialect.Dialect) *backup.Manager {
	name := cfg.DatabaseName
	if name == "" && client.Driver() == "mysql" {
		if _, dsn, err := db.ParseDatabaseURL(cfg.DatabaseURL); err == nil {
			name, _ = db.DatabaseNameFromDSN(dsn)
		}
	}
	return backup.NewManager(client.DB(), d, cfg.Backup.Dir, name)
}

func newExecutor(cfg config.Config, client *db.Client, introspector db.Introspector, d dialect.Dialect) *migrate.Executor {
	return migrate.NewExecutor(client, introspector, d, backupManager(cfg, client, d), cfg.MigrationsDir)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	path := entitiesPath
	if path == "" {
		path = cfg.EntitiesFile
	}
	registry, err := entity.LoadFile(path)
	if err != nil {
		return err
	}

	client, introspector, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var confirmer generate.Confirmer = generate.NewStdinConfirmer(os.Stdin, os.Stdout)
	if autoApprove {
		confirmer = generate.AutoApprove{}
	}

	gen := generate.New(introspector, d, registry, generate.Options{
		Dir:       cfg.MigrationsDir,
		DryRun:    dryRun,
		Confirmer: confirmer,
	})
	result, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generating migration: %w", err)
	}
	if result.Empty {
		return nil
	}

	if result.Destructive {
		fmt.Fprintln(os.Stderr, "WARNING: this migration drops tables or columns and will lose data")
	}
	if dryRun {
		fmt.Println("-- +up")
		for _, stmt := range result.UpStatements {
			fmt.Printf("%s;\n", stmt)
		}
		fmt.Println("-- +down")
		for _, stmt := range result.DownStatements {
			fmt.Printf("%s;\n", stmt)
		}
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, introspector, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return newExecutor(cfg, client, introspector, d).Migrate(ctx, migrate.MigrateOptions{Force: force})
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, introspector, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	exec := newExecutor(cfg, client, introspector, d)
	switch {
	case rollbackAll:
		return exec.RollbackAll(ctx)
	case toVersion != "":
		return exec.RollbackToVersion(ctx, toVersion)
	default:
		return exec.Rollback(ctx, steps)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, introspector, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return newExecutor(cfg, client, introspector, d).Status(ctx, os.Stdout)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, _, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	version := fmt.Sprintf("%d", time.Now().UnixMilli())
	path, err := backupManager(cfg, client, d).CreateBackup(ctx, version)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}
	fmt.Println(path)
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client, _, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "WARNING: restoring drops and recreates every table in the backup")
	if err := backupManager(cfg, client, d).Restore(ctx, args[0]); err != nil {
		return fmt.Errorf("restoring backup: %w", err)
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Listing only touches the filesystem, no connection needed.
	backups, err := backup.NewManager(nil, nil, cfg.Backup.Dir, cfg.DatabaseName).ListBackups()
	if err != nil {
		return err
	}
	for _, path := range backups {
		fmt.Println(path)
	}
	return nil
}

func runBackupCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	removed, err := backup.NewManager(nil, nil, cfg.Backup.Dir, cfg.DatabaseName).CleanupOldBackups(cfg.Backup.RetentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d backup(s)\n", removed)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
