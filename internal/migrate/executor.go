package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/logger"
)

// BackupCreator snapshots the database before destructive migrations.
// backup.Manager implements it.
type BackupCreator interface {
	CreateBackup(ctx context.Context, version string) (string, error)
}

// Record is one row of the migrations tracking table.
type Record struct {
	Version       string
	ExecutedAt    time.Time
	ExecutionTime int64
	Batch         int
	Squashed      bool
	BackupPath    string
}

// MigrateOptions controls a migration run.
type MigrateOptions struct {
	// Force skips validation of the pending set.
	Force bool
}

// Executor runs pending migrations and rolls back executed ones, one at
// a time under the fleet-wide lock.
type Executor struct {
	client       *db.Client
	introspector db.Introspector
	dialect      dialect.Dialect
	locks        *LockManager
	validator    *Validator
	backups      BackupCreator
	dir          string
}

// NewExecutor creates an executor over the given client. backups may be
// nil, in which case destructive migrations run without a snapshot.
func NewExecutor(client *db.Client, introspector db.Introspector, d dialect.Dialect, backups BackupCreator, dir string) *Executor {
	return &Executor{
		client:       client,
		introspector: introspector,
		dialect:      d,
		locks:        NewLockManager(client.DB(), d),
		validator:    NewValidator(introspector),
		backups:      backups,
		dir:          dir,
	}
}

// Migrate executes every pending migration sequentially in ascending
// version order, all tagged with the same batch number.
func (e *Executor) Migrate(ctx context.Context, opts MigrateOptions) error {
	if err := e.introspector.InitializeMigrationTables(ctx); err != nil {
		return fmt.Errorf("initializing tracking tables: %w", err)
	}

	return e.locks.WithLock(ctx, func(ctx context.Context) error {
		migrations, err := LoadDir(e.dir)
		if err != nil {
			return err
		}

		records, err := e.executedRecords(ctx)
		if err != nil {
			return err
		}
		executed := make(map[string]bool, len(records))
		maxBatch := 0
		for _, r := range records {
			executed[r.Version] = true
			if r.Batch > maxBatch {
				maxBatch = r.Batch
			}
		}

		var pending []*Migration
		for _, m := range migrations {
			if !executed[m.Version] {
				pending = append(pending, m)
			}
		}
		if len(pending) == 0 {
			logger.Info("no pending migrations")
			return nil
		}

		if !opts.Force {
			if err := e.validatePending(ctx, pending); err != nil {
				return err
			}
		}

		batch := maxBatch + 1
		for _, m := range pending {
			if err := e.runUp(ctx, m, batch); err != nil {
				return err
			}
		}
		logger.Info("executed %d migration(s) in batch %d", len(pending), batch)
		return nil
	})
}

func (e *Executor) validatePending(ctx context.Context, pending []*Migration) error {
	var failures []string
	for _, m := range pending {
		result, err := e.validator.Validate(ctx, m)
		if err != nil {
			return fmt.Errorf("validating migration %s: %w", m.Version, err)
		}
		for _, w := range result.Warnings {
			logger.Warn("migration %s: %s", m.Version, w)
		}
		for _, s := range result.Suggestions {
			logger.Info("migration %s: %s", m.Version, s)
		}
		if !result.Valid {
			for _, msg := range result.Errors {
				failures = append(failures, fmt.Sprintf("migration %s: %s", m.Version, msg))
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("validation failed, use force to override:\n%s", strings.Join(failures, "\n"))
	}
	return nil
}

// runUp executes one migration inside a transaction on a dedicated
// session and records it. Any backup taken before a failed run is kept;
// its path is the recovery route.
func (e *Executor) runUp(ctx context.Context, m *Migration, batch int) error {
	backupPath := ""
	if m.IsDestructive {
		logger.Warn("migration %s contains destructive statements", m.Version)
	}
	if m.IsDestructive || m.RequiresBackup {
		if e.backups == nil {
			logger.Warn("migration %s requires a backup but no backup manager is configured", m.Version)
		} else {
			path, err := e.backups.CreateBackup(ctx, m.Version)
			if err != nil {
				return fmt.Errorf("backing up before migration %s: %w", m.Version, err)
			}
			backupPath = path
			logger.Info("backup for migration %s written to %s", m.Version, path)
		}
	}

	session, err := e.client.Session(ctx)
	if err != nil {
		return fmt.Errorf("opening session for migration %s: %w", m.Version, err)
	}
	defer session.Close()

	started := time.Now()
	if _, err := session.ExecContext(ctx, e.dialect.BeginSQL()); err != nil {
		return fmt.Errorf("beginning transaction for migration %s: %w", m.Version, err)
	}

	if err := m.Up(ctx, session); err != nil {
		e.rollbackSession(ctx, session, m.Version)
		return e.wrapFailure(m.Version, backupPath, err)
	}

	insert := e.dialect.Rebind(fmt.Sprintf(
		"INSERT INTO %s (version, executed_at, execution_time, batch, squashed, backup_path) VALUES (?, ?, ?, ?, ?, ?)",
		db.MigrationsTable))
	elapsed := time.Since(started).Milliseconds()
	if _, err := session.ExecContext(ctx, insert,
		m.Version, time.Now().UTC().Format(lockTimeFormat), elapsed, batch, false, backupPath); err != nil {
		e.rollbackSession(ctx, session, m.Version)
		return e.wrapFailure(m.Version, backupPath, err)
	}

	if _, err := session.ExecContext(ctx, e.dialect.CommitSQL()); err != nil {
		return e.wrapFailure(m.Version, backupPath, err)
	}
	logger.Info("migration %s executed in %dms", m.Version, elapsed)
	return nil
}

func (e *Executor) rollbackSession(ctx context.Context, session *sql.Conn, version string) {
	if _, err := session.ExecContext(context.WithoutCancel(ctx), e.dialect.RollbackSQL()); err != nil {
		logger.Error("rolling back migration %s: %v", version, err)
	}
}

func (e *Executor) wrapFailure(version, backupPath string, err error) error {
	if backupPath != "" {
		return fmt.Errorf("migration %s failed (backup preserved at %s): %w", version, backupPath, err)
	}
	return fmt.Errorf("migration %s failed: %w", version, err)
}

// Rollback reverses the most recent N distinct batches, newest versions
// first.
func (e *Executor) Rollback(ctx context.Context, steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return e.locks.WithLock(ctx, func(ctx context.Context) error {
		records, err := e.executedRecords(ctx)
		if err != nil {
			return err
		}

		var batches []int
		seen := map[int]bool{}
		for _, r := range records {
			if !seen[r.Batch] {
				seen[r.Batch] = true
				batches = append(batches, r.Batch)
			}
		}
		sort.Sort(sort.Reverse(sort.IntSlice(batches)))
		if steps > len(batches) {
			steps = len(batches)
		}

		keep := map[int]bool{}
		for _, b := range batches[:steps] {
			keep[b] = true
		}
		var targets []Record
		for _, r := range records {
			if keep[r.Batch] {
				targets = append(targets, r)
			}
		}
		return e.rollbackRecords(ctx, targets)
	})
}

// RollbackToVersion rolls back every executed migration with version >=
// target. Errors when the target was never executed.
func (e *Executor) RollbackToVersion(ctx context.Context, target string) error {
	return e.locks.WithLock(ctx, func(ctx context.Context) error {
		records, err := e.executedRecords(ctx)
		if err != nil {
			return err
		}

		found := false
		var targets []Record
		for _, r := range records {
			if r.Version == target {
				found = true
			}
			if r.Version >= target {
				targets = append(targets, r)
			}
		}
		if !found {
			return fmt.Errorf("migration %s was never executed", target)
		}
		return e.rollbackRecords(ctx, targets)
	})
}

// RollbackAll reverses every executed migration.
func (e *Executor) RollbackAll(ctx context.Context) error {
	return e.locks.WithLock(ctx, func(ctx context.Context) error {
		records, err := e.executedRecords(ctx)
		if err != nil {
			return err
		}
		return e.rollbackRecords(ctx, records)
	})
}

// rollbackRecords runs down() for each record in descending version
// order, deleting the tracking row in the same transaction.
func (e *Executor) rollbackRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		logger.Info("nothing to roll back")
		return nil
	}

	migrations, err := LoadDir(e.dir)
	if err != nil {
		return err
	}
	byVersion := make(map[string]*Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Version > records[j].Version })

	for _, r := range records {
		m, ok := byVersion[r.Version]
		if !ok {
			return fmt.Errorf("migration file for executed version %s is missing", r.Version)
		}
		if err := e.runDown(ctx, m); err != nil {
			return err
		}
	}
	logger.Info("rolled back %d migration(s)", len(records))
	return nil
}

func (e *Executor) runDown(ctx context.Context, m *Migration) error {
	session, err := e.client.Session(ctx)
	if err != nil {
		return fmt.Errorf("opening session for rollback of %s: %w", m.Version, err)
	}
	defer session.Close()

	if _, err := session.ExecContext(ctx, e.dialect.BeginSQL()); err != nil {
		return fmt.Errorf("beginning transaction for rollback of %s: %w", m.Version, err)
	}

	if err := m.Down(ctx, session); err != nil {
		e.rollbackSession(ctx, session, m.Version)
		return fmt.Errorf("rollback of migration %s failed: %w", m.Version, err)
	}

	del := e.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE version = ?", db.MigrationsTable))
	if _, err := session.ExecContext(ctx, del, m.Version); err != nil {
		e.rollbackSession(ctx, session, m.Version)
		return fmt.Errorf("rollback of migration %s failed: %w", m.Version, err)
	}

	if _, err := session.ExecContext(ctx, e.dialect.CommitSQL()); err != nil {
		return fmt.Errorf("rollback of migration %s failed: %w", m.Version, err)
	}
	logger.Info("rolled back migration %s", m.Version)
	return nil
}

// executedRecords reads the tracking table sorted ascending by version.
func (e *Executor) executedRecords(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(
		"SELECT version, executed_at, execution_time, batch, squashed, backup_path FROM %s ORDER BY version",
		db.MigrationsTable)
	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading executed migrations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			executedAt any
			backupPath sql.NullString
		)
		if err := rows.Scan(&r.Version, &executedAt, &r.ExecutionTime, &r.Batch, &r.Squashed, &backupPath); err != nil {
			return nil, err
		}
		if t, err := parseDBTime(executedAt); err == nil {
			r.ExecutedAt = t
		}
		r.BackupPath = backupPath.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Status writes a human-readable listing of executed and pending
// migrations to w.
func (e *Executor) Status(ctx context.Context, w io.Writer) error {
	migrations, err := LoadDir(e.dir)
	if err != nil {
		return err
	}
	exist, err := e.introspector.MigrationTablesExist(ctx)
	if err != nil {
		return err
	}
	var records []Record
	if exist {
		if records, err = e.executedRecords(ctx); err != nil {
			return err
		}
	}

	byVersion := make(map[string]Record, len(records))
	for _, r := range records {
		byVersion[r.Version] = r
	}

	executed, pending := 0, 0
	var totalMs int64
	fmt.Fprintf(w, "%-16s %-10s %-20s %s\n", "VERSION", "STATUS", "EXECUTED AT", "NOTES")
	for _, m := range migrations {
		notes := ""
		if m.IsDestructive {
			notes = "destructive"
		}
		if r, ok := byVersion[m.Version]; ok {
			executed++
			totalMs += r.ExecutionTime
			if r.BackupPath != "" {
				if notes != "" {
					notes += ", "
				}
				notes += "backup: " + r.BackupPath
			}
			fmt.Fprintf(w, "%-16s %-10s %-20s %s\n",
				m.Version, fmt.Sprintf("batch %d", r.Batch), r.ExecutedAt.Format(lockTimeFormat), notes)
		} else {
			pending++
			fmt.Fprintf(w, "%-16s %-10s %-20s %s\n", m.Version, "pending", "-", notes)
		}
	}

	// Tracking rows whose file is gone still count as executed; rollback
	// refuses to touch them, so they must stay visible.
	inFiles := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		inFiles[m.Version] = true
	}
	for _, r := range records {
		if inFiles[r.Version] {
			continue
		}
		executed++
		totalMs += r.ExecutionTime
		fmt.Fprintf(w, "%-16s %-10s %-20s %s\n",
			r.Version, fmt.Sprintf("batch %d", r.Batch), r.ExecutedAt.Format(lockTimeFormat), "file missing")
	}

	fmt.Fprintf(w, "\n%d executed, %d pending, total execution time %dms\n", executed, pending, totalMs)
	return nil
}
