package dialect

import (
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// SQLite renders SQL for SQLite. Some ALTER TABLE forms do not exist in
// SQLite; those render as SQL comments so a generated migration surfaces
// the gap instead of failing mid-run.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var sqliteTypes = map[string]string{
	"int":      "INTEGER",
	"bigint":   "INTEGER",
	"smallint": "INTEGER",
	"tinyint":  "INTEGER",
	"varchar":  "VARCHAR",
	"char":     "CHAR",
	"text":     "TEXT",
	"longtext": "TEXT",
	"blob":     "BLOB",
	"float":    "REAL",
	"double":   "REAL",
	"decimal":  "NUMERIC",
	"datetime": "DATETIME",
	"date":     "DATE",
	"time":     "TIME",
	"json":     "TEXT",
}

func (SQLite) typeSQL(col schema.ColumnDefinition) string {
	normalized := schema.NormalizeType(col.Type)
	keyword, ok := sqliteTypes[normalized]
	if !ok {
		keyword = strings.ToUpper(normalized)
	}
	switch keyword {
	case "VARCHAR", "CHAR":
		if col.Length > 0 {
			return fmt.Sprintf("%s(%d)", keyword, col.Length)
		}
	}
	return keyword
}

func (d SQLite) ColumnSQL(col schema.ColumnDefinition) string {
	parts := []string{d.QuoteIdent(col.Name), d.typeSQL(col)}
	// SQLite ties auto increment to the single INTEGER PRIMARY KEY.
	if col.Primary && col.AutoIncrement {
		parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
	}
	if !col.Nullable && !col.AutoIncrement {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, "DEFAULT "+literal(col.Default))
	}
	return strings.Join(parts, " ")
}

func (d SQLite) CreateTableSQL(table *schema.TableDefinition) string {
	var clauses []string
	var primary []string
	inlinePK := false
	for _, col := range table.Columns {
		clauses = append(clauses, "  "+d.ColumnSQL(col))
		if col.Primary {
			if col.AutoIncrement {
				inlinePK = true
			} else {
				primary = append(primary, d.QuoteIdent(col.Name))
			}
		}
	}
	if !inlinePK && len(primary) > 0 {
		clauses = append(clauses, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(primary, ", ")))
	}
	for _, fk := range table.ForeignKeys {
		clauses = append(clauses, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
			d.QuoteIdent(fk.Column), d.QuoteIdent(fk.ReferencedTable), d.QuoteIdent(fk.ReferencedColumn),
			fk.OnUpdate, fk.OnDelete))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.QuoteIdent(table.Name), strings.Join(clauses, ",\n"))
}

// SQLite has no inline index clause; indexes need their own statements.
func (SQLite) InlinesIndexes() bool { return false }

func (d SQLite) DropTableSQL(table string) string {
	return "DROP TABLE " + d.QuoteIdent(table)
}

func (d SQLite) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d SQLite) AddColumnSQL(table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdent(table), d.ColumnSQL(col))
}

func (d SQLite) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d SQLite) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d SQLite) ModifyColumnSQL(table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("-- SQLite cannot alter column %s.%s in place; rebuild the table to change it",
		table, col.Name)
}

func (d SQLite) AddIndexSQL(table string, idx schema.IndexDefinition) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QuoteIdent(table), d.identList(idx.Columns))
}

func (d SQLite) DropIndexSQL(table, index string) string {
	return "DROP INDEX " + d.QuoteIdent(index)
}

func (d SQLite) AddForeignKeySQL(table string, fk schema.ForeignKeyDefinition) string {
	return fmt.Sprintf("-- SQLite cannot add foreign key %s to %s; rebuild the table to add it",
		fk.Name, table)
}

func (d SQLite) DropForeignKeySQL(table, constraint string) string {
	return fmt.Sprintf("-- SQLite cannot drop foreign key %s from %s; rebuild the table to drop it",
		constraint, table)
}

func (d SQLite) identList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func (SQLite) BeginSQL() string    { return "BEGIN" }
func (SQLite) CommitSQL() string   { return "COMMIT" }
func (SQLite) RollbackSQL() string { return "ROLLBACK" }

func (SQLite) DisableForeignKeyChecksSQL() string { return "PRAGMA foreign_keys = OFF" }
func (SQLite) EnableForeignKeyChecksSQL() string  { return "PRAGMA foreign_keys = ON" }

func (SQLite) Rebind(query string) string { return query }
