// Package migrate executes migration files against a database: loading,
// validation, locking, batched execution and rollback.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tordrt/schemamigrate/internal/db"
)

// Migration is one versioned unit of schema change loaded from a
// Migration_<version>.sql file. DependsOn and ConflictsWith are recorded
// from the header but not enforced; execution order is plain lexicographic
// by version.
type Migration struct {
	Version          string
	IsDestructive    bool
	RequiresBackup   bool
	CanRunInParallel bool
	DependsOn        []string
	ConflictsWith    []string
	UpStatements     []string
	DownStatements   []string

	// Validate optionally lets a migration carry its own checks.
	Validate func() *ValidationResult
}

// Up applies the forward statements one by one.
func (m *Migration) Up(ctx context.Context, conn db.Connection) error {
	return m.execAll(ctx, conn, m.UpStatements)
}

// Down applies the reverse statements one by one.
func (m *Migration) Down(ctx context.Context, conn db.Connection) error {
	return m.execAll(ctx, conn, m.DownStatements)
}

// DryRun returns the forward statements without executing them.
func (m *Migration) DryRun() []string {
	return m.UpStatements
}

func (m *Migration) execAll(ctx context.Context, conn db.Connection, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var migrationFileName = regexp.MustCompile(`^Migration_(\d+)\.sql$`)

// LoadDir reads every Migration_<version>.sql file in dir, sorted
// ascending by version. Files that do not match the naming scheme are
// ignored.
func LoadDir(dir string) ([]*Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}

	var migrations []*Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFileName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		m, err := Parse(match[1], data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Parse reads a migration file body. The header is a run of "-- key: value"
// comment lines; "-- +up" and "-- +down" open the statement sections.
// Statements end with a semicolon at end of line; other comment lines
// inside sections are skipped.
func Parse(version string, data []byte) (*Migration, error) {
	m := &Migration{Version: version}

	var section *[]string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" && section != nil {
			*section = append(*section, strings.TrimSuffix(stmt, ";"))
		}
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "-- +up":
			flush()
			section = &m.UpStatements
		case trimmed == "-- +down":
			flush()
			section = &m.DownStatements
		case strings.HasPrefix(trimmed, "--"):
			if section == nil {
				if err := m.parseHeaderLine(trimmed); err != nil {
					return nil, err
				}
			}
		case trimmed == "":
			// Blank lines never occur inside a statement.
			flush()
		default:
			current.WriteString(line)
			current.WriteString("\n")
			if strings.HasSuffix(trimmed, ";") {
				flush()
			}
		}
	}
	flush()

	if len(m.UpStatements) == 0 {
		return nil, fmt.Errorf("migration %s has no up statements", version)
	}
	return m, nil
}

func (m *Migration) parseHeaderLine(line string) error {
	body := strings.TrimSpace(strings.TrimPrefix(line, "--"))
	key, value, found := strings.Cut(body, ":")
	if !found {
		return nil
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "destructive":
		return m.parseBool(value, &m.IsDestructive)
	case "requiresBackup":
		return m.parseBool(value, &m.RequiresBackup)
	case "canRunInParallel":
		return m.parseBool(value, &m.CanRunInParallel)
	case "dependsOn":
		m.DependsOn = splitVersionList(value)
	case "conflictsWith":
		m.ConflictsWith = splitVersionList(value)
	}
	return nil
}

func (m *Migration) parseBool(value string, target *bool) error {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("migration %s: bad header value %q: %w", m.Version, value, err)
	}
	*target = parsed
	return nil
}

func splitVersionList(value string) []string {
	if value == "" {
		return nil
	}
	var versions []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}
	return versions
}
