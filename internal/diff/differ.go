package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// Differ compares a current (introspected) schema against a desired
// (declared) schema and produces the change set between them.
type Differ struct {
	renames *RenameDetector
}

// NewDiffer creates a differ with a default rename detector.
func NewDiffer() *Differ {
	return &Differ{renames: NewRenameDetector()}
}

// Diff computes the full change set to move current to desired.
func (d *Differ) Diff(current, desired *schema.DatabaseSchema) *schema.SchemaDiff {
	result := &schema.SchemaDiff{}

	d.diffTables(current, desired, result)

	for _, name := range sortedTableNames(desired) {
		if current.HasTable(name) {
			d.diffTableContents(current.Table(name), desired.Table(name), result)
		}
	}

	return result
}

// diffTables finds created, dropped and renamed tables. Renamed tables
// are removed from both the create and drop lists.
func (d *Differ) diffTables(current, desired *schema.DatabaseSchema, result *schema.SchemaDiff) {
	var created []*schema.TableDefinition
	for _, name := range sortedTableNames(desired) {
		if !current.HasTable(name) {
			created = append(created, desired.Table(name))
		}
	}

	var dropped []*schema.TableDefinition
	for _, name := range sortedTableNames(current) {
		// Introspection can yield degenerate rows with empty names.
		if name == "" {
			continue
		}
		if !desired.HasTable(name) {
			dropped = append(dropped, current.Table(name))
		}
	}

	renames := d.renames.DetectTableRenames(dropped, created)
	renamedFrom := make(map[string]bool, len(renames))
	renamedTo := make(map[string]bool, len(renames))
	for _, r := range renames {
		renamedFrom[r.From] = true
		renamedTo[r.To] = true
	}

	for _, t := range created {
		if !renamedTo[t.Name] {
			result.TablesToCreate = append(result.TablesToCreate, t)
		}
	}
	for _, t := range dropped {
		if !renamedFrom[t.Name] {
			result.TablesToDrop = append(result.TablesToDrop, t.Name)
		}
	}
	result.TablesToRename = renames
}

// diffTableContents compares columns, indexes and foreign keys of a
// table present in both schemas.
func (d *Differ) diffTableContents(current, desired *schema.TableDefinition, result *schema.SchemaDiff) {
	d.diffColumns(current, desired, result)
	d.diffIndexes(current, desired, result)
	d.diffForeignKeys(current, desired, result)
}

func (d *Differ) diffColumns(current, desired *schema.TableDefinition, result *schema.SchemaDiff) {
	var added []schema.ColumnDefinition
	for _, col := range desired.Columns {
		if col.Name == "" {
			continue
		}
		if current.Column(col.Name) == nil {
			added = append(added, col)
		}
	}

	var removed []schema.ColumnDefinition
	for _, col := range current.Columns {
		if col.Name == "" {
			continue
		}
		if desired.Column(col.Name) == nil {
			removed = append(removed, col)
		}
	}

	renames := d.renames.DetectColumnRenames(current.Name, removed, added)
	renamedFrom := make(map[string]bool, len(renames))
	renamedTo := make(map[string]bool, len(renames))
	for _, r := range renames {
		renamedFrom[r.From] = true
		renamedTo[r.To] = true
	}

	for _, col := range added {
		if !renamedTo[col.Name] {
			result.ColumnsToAdd = append(result.ColumnsToAdd, schema.ColumnChange{Table: current.Name, Column: col})
		}
	}
	for _, col := range removed {
		if !renamedFrom[col.Name] {
			result.ColumnsToRemove = append(result.ColumnsToRemove, schema.ColumnChange{Table: current.Name, Column: col})
		}
	}
	result.ColumnsToRename = append(result.ColumnsToRename, renames...)

	// Columns present in both schemas may still differ in definition.
	for _, desiredCol := range desired.Columns {
		currentCol := current.Column(desiredCol.Name)
		if currentCol == nil {
			continue
		}
		if mod := compareColumn(current.Name, *currentCol, desiredCol); mod != nil {
			result.ColumnsToModify = append(result.ColumnsToModify, *mod)
		}
	}
}

// compareColumn returns a modification entry when type, length,
// nullability or default differ, nil otherwise.
func compareColumn(table string, current, desired schema.ColumnDefinition) *schema.ColumnModification {
	var changes []schema.ChangeKind

	if schema.NormalizeType(current.Type) != schema.NormalizeType(desired.Type) ||
		(current.Length != desired.Length && desired.Length != 0) {
		changes = append(changes, schema.TypeChange)
	}
	if current.Nullable != desired.Nullable {
		changes = append(changes, schema.NullableChange)
	}
	if !defaultsEqual(current.Default, desired.Default) {
		changes = append(changes, schema.DefaultChange)
	}

	if len(changes) == 0 {
		return nil
	}
	return &schema.ColumnModification{
		Table:   table,
		Current: current,
		Desired: desired,
		Changes: changes,
	}
}

func defaultsEqual(a, b any) bool {
	return normalizeDefault(a) == normalizeDefault(b)
}

// normalizeDefault reduces a default value to a canonical comparison
// string. Introspected defaults always arrive as strings while declared
// ones keep their YAML type, so comparing the raw values would flag a
// modification on every run for any non-string default.
func normalizeDefault(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "1"
		}
		return "0"
	case string:
		s := strings.TrimSpace(t)
		// Postgres reports defaults with a cast suffix, 'x'::text.
		if i := strings.Index(s, "::"); i >= 0 {
			s = s[:i]
		}
		s = strings.Trim(s, `'"`)
		switch strings.ToLower(s) {
		case "", "null":
			return ""
		case "true":
			return "1"
		case "false":
			return "0"
		}
		return s
	default:
		return fmt.Sprint(t)
	}
}

func (d *Differ) diffIndexes(current, desired *schema.TableDefinition, result *schema.SchemaDiff) {
	for _, idx := range desired.Indexes {
		if idx.Name == "" {
			continue
		}
		if current.Index(idx.Name) == nil {
			result.IndexesToAdd = append(result.IndexesToAdd, schema.IndexChange{Table: current.Name, Index: idx})
		}
	}
	for _, idx := range current.Indexes {
		if idx.Name == "" {
			continue
		}
		if desired.Index(idx.Name) == nil {
			result.IndexesToRemove = append(result.IndexesToRemove, schema.IndexChange{Table: current.Name, Index: idx})
		}
	}
}

func (d *Differ) diffForeignKeys(current, desired *schema.TableDefinition, result *schema.SchemaDiff) {
	for _, fk := range desired.ForeignKeys {
		if fk.Name == "" {
			continue
		}
		if current.ForeignKey(fk.Name) == nil {
			result.ForeignKeysToAdd = append(result.ForeignKeysToAdd, schema.ForeignKeyChange{Table: current.Name, ForeignKey: fk})
		}
	}
	for _, fk := range current.ForeignKeys {
		if fk.Name == "" {
			continue
		}
		if desired.ForeignKey(fk.Name) == nil {
			result.ForeignKeysToRemove = append(result.ForeignKeysToRemove, schema.ForeignKeyChange{Table: current.Name, ForeignKey: fk})
		}
	}
}

// sortedTableNames keeps diff output deterministic across runs.
func sortedTableNames(s *schema.DatabaseSchema) []string {
	names := s.TableNames()
	sort.Strings(names)
	return names
}
