// Package generate turns the gap between the declared entity schema and
// the live database schema into a migration file with up and down
// sections.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tordrt/schemamigrate/internal/db"
	"github.com/tordrt/schemamigrate/internal/dialect"
	"github.com/tordrt/schemamigrate/internal/diff"
	"github.com/tordrt/schemamigrate/internal/entity"
	"github.com/tordrt/schemamigrate/internal/logger"
	"github.com/tordrt/schemamigrate/internal/schema"
)

// Options controls a generation run.
type Options struct {
	// Dir is where migration files are written.
	Dir string
	// DryRun renders the migration without writing a file.
	DryRun bool
	// Confirmer decides detected renames. Defaults to AutoApprove.
	Confirmer Confirmer
}

// Result describes one generation run.
type Result struct {
	// Empty is true when the schemas already match; no file is written.
	Empty bool
	// Path is the written migration file, empty on dry runs.
	Path           string
	Version        string
	Destructive    bool
	UpStatements   []string
	DownStatements []string
}

// Generator produces migration files from the entity registry and the
// live database.
type Generator struct {
	introspector db.Introspector
	dialect      dialect.Dialect
	registry     *entity.Registry
	differ       *diff.Differ
	opts         Options
}

// New creates a generator.
func New(introspector db.Introspector, d dialect.Dialect, registry *entity.Registry, opts Options) *Generator {
	if opts.Confirmer == nil {
		opts.Confirmer = AutoApprove{}
	}
	return &Generator{
		introspector: introspector,
		dialect:      d,
		registry:     registry,
		differ:       diff.NewDiffer(),
		opts:         opts,
	}
}

// Generate builds the desired schema, introspects the current one, diffs
// them and renders a migration file. Detected renames are confirmed
// before rendering; a rejected rename becomes an add plus a remove.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	desired := entity.NewBuilder(g.registry).Build()

	if err := g.introspector.InitializeMigrationTables(ctx); err != nil {
		return nil, fmt.Errorf("initializing tracking tables: %w", err)
	}

	current, err := g.introspector.CurrentSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspecting current schema: %w", err)
	}

	d := g.differ.Diff(current, desired)
	if err := g.confirmRenames(d, current, desired); err != nil {
		return nil, err
	}

	if d.IsEmpty() {
		logger.Info("schema is up to date, nothing to generate")
		return &Result{Empty: true}, nil
	}

	up := g.renderUp(d)
	// An up section made only of comments (SQLite's unsupported ALTER
	// forms render as comments) would be rejected by the migration parser
	// and block every later executor run on the directory.
	if !hasExecutable(up) {
		logger.Warn("every pending change needs a manual table rebuild on %s, no migration written", g.dialect.Name())
		for _, stmt := range up {
			logger.Warn("%s", stmt)
		}
		return &Result{Empty: true}, nil
	}

	version := fmt.Sprintf("%d", time.Now().UnixMilli())
	result := &Result{
		Version:        version,
		Destructive:    d.IsDestructive(),
		UpStatements:   up,
		DownStatements: g.renderDown(d, current),
	}

	if g.opts.DryRun {
		return result, nil
	}

	path := filepath.Join(g.opts.Dir, fmt.Sprintf("Migration_%s.sql", version))
	if err := os.MkdirAll(g.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating migrations dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(g.renderFile(result)), 0o644); err != nil {
		return nil, fmt.Errorf("writing migration file: %w", err)
	}
	result.Path = path
	logger.Info("wrote %s", path)
	return result, nil
}

// confirmRenames asks the confirmer about every detected rename and
// downgrades rejected ones to add/remove pairs.
func (g *Generator) confirmRenames(d *schema.SchemaDiff, current, desired *schema.DatabaseSchema) error {
	var keptTables []schema.TableRename
	for _, rename := range d.TablesToRename {
		ok, err := g.opts.Confirmer.ConfirmTableRename(rename)
		if err != nil {
			return fmt.Errorf("confirming table rename %s: %w", rename.From, err)
		}
		if ok {
			keptTables = append(keptTables, rename)
			continue
		}
		if t := desired.Table(rename.To); t != nil {
			d.TablesToCreate = append(d.TablesToCreate, t)
		}
		d.TablesToDrop = append(d.TablesToDrop, rename.From)
	}
	d.TablesToRename = keptTables

	var keptColumns []schema.ColumnRename
	for _, rename := range d.ColumnsToRename {
		ok, err := g.opts.Confirmer.ConfirmColumnRename(rename)
		if err != nil {
			return fmt.Errorf("confirming column rename %s.%s: %w", rename.Table, rename.From, err)
		}
		if ok {
			keptColumns = append(keptColumns, rename)
			continue
		}
		if t := desired.Table(rename.Table); t != nil {
			if col := t.Column(rename.To); col != nil {
				d.ColumnsToAdd = append(d.ColumnsToAdd, schema.ColumnChange{Table: rename.Table, Column: *col})
			}
		}
		if t := current.Table(rename.Table); t != nil {
			if col := t.Column(rename.From); col != nil {
				d.ColumnsToRemove = append(d.ColumnsToRemove, schema.ColumnChange{Table: rename.Table, Column: *col})
			}
		}
	}
	d.ColumnsToRename = keptColumns
	return nil
}

// renderUp emits statements in dependency order: renames first so later
// statements address current names, drops of dependent objects before
// the structures they point at, creates before anything referencing them.
func (g *Generator) renderUp(d *schema.SchemaDiff) []string {
	var stmts []string
	for _, r := range d.TablesToRename {
		stmts = append(stmts, g.dialect.RenameTableSQL(r.From, r.To))
	}
	for _, r := range d.ColumnsToRename {
		stmts = append(stmts, g.dialect.RenameColumnSQL(r.Table, r.From, r.To))
	}
	for _, fk := range d.ForeignKeysToRemove {
		stmts = append(stmts, g.dialect.DropForeignKeySQL(fk.Table, fk.ForeignKey.Name))
	}
	for _, t := range d.TablesToCreate {
		stmts = append(stmts, g.dialect.CreateTableSQL(t))
		stmts = append(stmts, g.tableIndexStatements(t)...)
	}
	for _, t := range d.TablesToDrop {
		stmts = append(stmts, g.dialect.DropTableSQL(t))
	}
	for _, c := range d.ColumnsToAdd {
		stmts = append(stmts, g.dialect.AddColumnSQL(c.Table, c.Column))
	}
	for _, c := range d.ColumnsToRemove {
		stmts = append(stmts, g.dialect.DropColumnSQL(c.Table, c.Column.Name))
	}
	for _, m := range d.ColumnsToModify {
		stmts = append(stmts, g.dialect.ModifyColumnSQL(m.Table, m.Desired))
	}
	for _, idx := range d.IndexesToAdd {
		stmts = append(stmts, g.dialect.AddIndexSQL(idx.Table, idx.Index))
	}
	for _, idx := range d.IndexesToRemove {
		stmts = append(stmts, g.dialect.DropIndexSQL(idx.Table, idx.Index.Name))
	}
	for _, fk := range d.ForeignKeysToAdd {
		stmts = append(stmts, g.dialect.AddForeignKeySQL(fk.Table, fk.ForeignKey))
	}
	return stmts
}

// renderDown reverses the up statements. Renames flip direction, added
// structures are dropped, removed columns/indexes/FKs are restored from
// the current schema. A dropped table cannot be restored automatically
// because its data is gone; that gets a manual TODO marker.
func (g *Generator) renderDown(d *schema.SchemaDiff, current *schema.DatabaseSchema) []string {
	var stmts []string
	for _, fk := range d.ForeignKeysToAdd {
		stmts = append(stmts, g.dialect.DropForeignKeySQL(fk.Table, fk.ForeignKey.Name))
	}
	for _, idx := range d.IndexesToRemove {
		stmts = append(stmts, g.dialect.AddIndexSQL(idx.Table, idx.Index))
	}
	for _, idx := range d.IndexesToAdd {
		stmts = append(stmts, g.dialect.DropIndexSQL(idx.Table, idx.Index.Name))
	}
	for _, m := range d.ColumnsToModify {
		stmts = append(stmts, g.dialect.ModifyColumnSQL(m.Table, m.Current))
	}
	for _, c := range d.ColumnsToRemove {
		stmts = append(stmts, g.dialect.AddColumnSQL(c.Table, c.Column))
	}
	for _, c := range d.ColumnsToAdd {
		stmts = append(stmts, g.dialect.DropColumnSQL(c.Table, c.Column.Name))
	}
	for _, t := range d.TablesToDrop {
		stmt := fmt.Sprintf("-- TODO: table %s was dropped; restore it from a backup manually", t)
		def := current.Table(t)
		if def != nil {
			stmt += "\n" + g.dialect.CreateTableSQL(def)
		}
		stmts = append(stmts, stmt)
		if def != nil {
			stmts = append(stmts, g.tableIndexStatements(def)...)
		}
	}
	for _, t := range d.TablesToCreate {
		stmts = append(stmts, g.dialect.DropTableSQL(t.Name))
	}
	for _, fk := range d.ForeignKeysToRemove {
		stmts = append(stmts, g.dialect.AddForeignKeySQL(fk.Table, fk.ForeignKey))
	}
	for _, r := range d.ColumnsToRename {
		stmts = append(stmts, g.dialect.RenameColumnSQL(r.Table, r.To, r.From))
	}
	for _, r := range d.TablesToRename {
		stmts = append(stmts, g.dialect.RenameTableSQL(r.To, r.From))
	}
	return stmts
}

// tableIndexStatements emits CREATE INDEX statements for a new table on
// engines whose CREATE TABLE cannot carry index clauses.
func (g *Generator) tableIndexStatements(t *schema.TableDefinition) []string {
	if g.dialect.InlinesIndexes() {
		return nil
	}
	var stmts []string
	for _, idx := range t.Indexes {
		stmts = append(stmts, g.dialect.AddIndexSQL(t.Name, idx))
	}
	return stmts
}

// renderFile lays out the migration file: a metadata header followed by
// up and down sections. Statements end with a semicolon on their own
// line; comment-only statements stay bare.
func (g *Generator) renderFile(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration generated by schemamigrate\n")
	fmt.Fprintf(&b, "-- version: %s\n", r.Version)
	fmt.Fprintf(&b, "-- destructive: %t\n", r.Destructive)
	fmt.Fprintf(&b, "-- requiresBackup: %t\n", r.Destructive)
	fmt.Fprintf(&b, "-- canRunInParallel: false\n")
	fmt.Fprintf(&b, "-- dependsOn:\n")
	fmt.Fprintf(&b, "-- conflictsWith:\n")

	b.WriteString("\n-- +up\n")
	writeStatements(&b, r.UpStatements)
	b.WriteString("\n-- +down\n")
	writeStatements(&b, r.DownStatements)
	return b.String()
}

func writeStatements(b *strings.Builder, stmts []string) {
	for _, stmt := range stmts {
		b.WriteString(stmt)
		if !strings.HasPrefix(lastLine(stmt), "--") {
			b.WriteString(";")
		}
		b.WriteString("\n")
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// hasExecutable reports whether any statement carries a line that is not
// a comment.
func hasExecutable(stmts []string) bool {
	for _, stmt := range stmts {
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				return true
			}
		}
	}
	return false
}
