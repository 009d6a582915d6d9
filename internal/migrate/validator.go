package migrate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tordrt/schemamigrate/internal/db"
)

// ValidationResult lists everything found wrong or risky about a
// migration. Valid is true iff no errors were raised; warnings alone
// still allow proceeding but ask for confirmation.
type ValidationResult struct {
	Valid                bool
	Errors               []string
	Warnings             []string
	Suggestions          []string
	CanProceed           bool
	RequiresConfirmation bool
}

// largeTableRows is the estimated row count above which an ALTER TABLE
// gets a low-traffic warning.
const largeTableRows = 100_000

// Validator checks migrations for unsafe statements before execution.
type Validator struct {
	introspector db.Introspector
}

// NewValidator creates a validator backed by the given introspector.
func NewValidator(introspector db.Introspector) *Validator {
	return &Validator{introspector: introspector}
}

var (
	alterTableRe = regexp.MustCompile("(?i)ALTER\\s+TABLE\\s+[`\"]?([A-Za-z0-9_]+)")
	addColumnRe  = regexp.MustCompile("(?i)ADD\\s+COLUMN\\s+[`\"]?([A-Za-z0-9_]+)")
)

// Validate merges the migration's own checks with a textual scan of its
// dry-run statements. Dropping structures warns; adding a NOT NULL
// column without a default to a table that has rows is a hard error.
func (v *Validator) Validate(ctx context.Context, m *Migration) (*ValidationResult, error) {
	result := &ValidationResult{}

	if m.Validate != nil {
		own := m.Validate()
		result.Errors = append(result.Errors, own.Errors...)
		result.Warnings = append(result.Warnings, own.Warnings...)
		result.Suggestions = append(result.Suggestions, own.Suggestions...)
	}

	for _, stmt := range m.DryRun() {
		if err := v.checkStatement(ctx, stmt, result); err != nil {
			return nil, err
		}
	}

	result.Valid = len(result.Errors) == 0
	result.CanProceed = result.Valid
	result.RequiresConfirmation = result.Valid && len(result.Warnings) > 0
	return result, nil
}

func (v *Validator) checkStatement(ctx context.Context, stmt string, result *ValidationResult) error {
	upper := strings.ToUpper(stmt)

	if strings.Contains(upper, "DROP TABLE") {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("statement drops a table, data will be lost: %s", firstLine(stmt)))
		result.Suggestions = append(result.Suggestions,
			"set requiresBackup so a snapshot is taken before execution")
	}
	if strings.Contains(upper, "DROP COLUMN") {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("statement drops a column, its data will be lost: %s", firstLine(stmt)))
	}

	if strings.Contains(upper, "NOT NULL") && !strings.Contains(upper, "DEFAULT") {
		if match := addColumnRe.FindStringSubmatch(stmt); match != nil {
			if err := v.checkNotNullAddition(ctx, stmt, match[1], result); err != nil {
				return err
			}
		}
	}

	if strings.HasPrefix(upper, "ALTER TABLE") {
		if match := alterTableRe.FindStringSubmatch(stmt); match != nil {
			estimated, err := v.introspector.EstimatedRowCount(ctx, match[1])
			if err == nil && estimated > largeTableRows {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("table %s holds roughly %d rows, run this during low traffic", match[1], estimated))
			}
		}
	}
	return nil
}

func (v *Validator) checkNotNullAddition(ctx context.Context, stmt, column string, result *ValidationResult) error {
	match := alterTableRe.FindStringSubmatch(stmt)
	if match == nil {
		return nil
	}
	table := match[1]

	rows, err := v.introspector.TableRowCount(ctx, table)
	if err != nil {
		return fmt.Errorf("counting rows of %s: %w", table, err)
	}
	if rows > 0 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("adding NOT NULL column %s without a default to %s, which has %d rows", column, table, rows))
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("add a DEFAULT to %s or backfill %s first", column, table))
	} else {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("adding NOT NULL column %s without a default to %s; fine while the table is empty", column, table))
	}
	return nil
}
