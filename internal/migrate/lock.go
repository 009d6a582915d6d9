package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/logger"
)

// ErrLocked is returned when another process holds the migration lock
// and the lock is not stale.
var ErrLocked = errors.New("migration lock is held")

// staleAfter is how old a lock row may be before it is treated as left
// behind by a crashed process and force-released.
const staleAfter = time.Hour

const lockTimeFormat = "2006-01-02 15:04:05"

// LockManager serializes migration runs across the whole fleet through a
// single-row lock table.
type LockManager struct {
	conn    db.Connection
	dialect dialect.Dialect
}

// NewLockManager creates a lock manager over the given connection.
func NewLockManager(conn db.Connection, d dialect.Dialect) *LockManager {
	return &LockManager{conn: conn, dialect: d}
}

// WithLock acquires the lock, runs fn and releases the lock even when fn
// fails or panics. A lock older than one hour is force-released and
// acquisition is retried once.
func (l *LockManager) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.release(context.WithoutCancel(ctx)); err != nil {
			logger.Error("releasing migration lock: %v", err)
		}
	}()

	return fn(ctx)
}

func (l *LockManager) acquire(ctx context.Context) error {
	if err := l.insertLockRow(ctx); err == nil {
		return nil
	}

	lockedAt, hostname, pid, err := l.holder(ctx)
	if err != nil {
		return fmt.Errorf("reading lock holder: %w", err)
	}

	if time.Since(lockedAt) > staleAfter {
		logger.Warn("force-releasing stale migration lock held by %s (pid %d) since %s",
			hostname, pid, lockedAt.Format(lockTimeFormat))
		if err := l.release(ctx); err != nil {
			return fmt.Errorf("releasing stale lock: %w", err)
		}
		if err := l.insertLockRow(ctx); err != nil {
			return fmt.Errorf("%w after stale release", ErrLocked)
		}
		return nil
	}

	return fmt.Errorf("%w by %s (pid %d) since %s",
		ErrLocked, hostname, pid, lockedAt.Format(lockTimeFormat))
}

// insertLockRow claims the lock. The fixed id makes the insert collide
// with an existing lock row on every engine.
func (l *LockManager) insertLockRow(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	query := l.dialect.Rebind(fmt.Sprintf(
		"INSERT INTO %s (id, locked_at, hostname, process_id) VALUES (1, ?, ?, ?)",
		db.MigrationLockTable))
	_, err = l.conn.ExecContext(ctx, query,
		time.Now().UTC().Format(lockTimeFormat), hostname, os.Getpid())
	return err
}

func (l *LockManager) holder(ctx context.Context) (lockedAt time.Time, hostname string, pid int, err error) {
	query := fmt.Sprintf("SELECT locked_at, hostname, process_id FROM %s WHERE id = 1", db.MigrationLockTable)

	var lockedAtRaw any
	if err = l.conn.QueryRowContext(ctx, query).Scan(&lockedAtRaw, &hostname, &pid); err != nil {
		return time.Time{}, "", 0, err
	}
	lockedAt, err = parseDBTime(lockedAtRaw)
	if err != nil {
		return time.Time{}, "", 0, fmt.Errorf("parsing locked_at: %w", err)
	}
	return lockedAt, hostname, pid, nil
}

// parseDBTime normalizes a scanned datetime value. SQLite hands back
// time.Time for DATETIME columns; MySQL without parseTime returns bytes.
func parseDBTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return time.ParseInLocation(lockTimeFormat, string(t), time.UTC)
	case string:
		return time.ParseInLocation(lockTimeFormat, t, time.UTC)
	default:
		return time.Time{}, fmt.Errorf("unexpected datetime value %T", v)
	}
}

func (l *LockManager) release(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = 1", db.MigrationLockTable))
	return err
}
