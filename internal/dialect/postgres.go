package dialect

import (
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// Postgres renders SQL for PostgreSQL.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var postgresTypes = map[string]string{
	"int":      "INTEGER",
	"bigint":   "BIGINT",
	"smallint": "SMALLINT",
	"tinyint":  "SMALLINT",
	"varchar":  "VARCHAR",
	"char":     "CHAR",
	"text":     "TEXT",
	"longtext": "TEXT",
	"blob":     "BYTEA",
	"float":    "REAL",
	"double":   "DOUBLE PRECISION",
	"decimal":  "NUMERIC",
	"datetime": "TIMESTAMP",
	"date":     "DATE",
	"time":     "TIME",
	"json":     "JSONB",
}

func (Postgres) typeSQL(col schema.ColumnDefinition) string {
	normalized := schema.NormalizeType(col.Type)
	if col.AutoIncrement {
		if normalized == "bigint" {
			return "BIGSERIAL"
		}
		return "SERIAL"
	}
	keyword, ok := postgresTypes[normalized]
	if !ok {
		keyword = strings.ToUpper(normalized)
	}
	switch keyword {
	case "VARCHAR", "CHAR", "NUMERIC":
		if col.Length > 0 {
			return fmt.Sprintf("%s(%d)", keyword, col.Length)
		}
	}
	return keyword
}

func (d Postgres) ColumnSQL(col schema.ColumnDefinition) string {
	parts := []string{d.QuoteIdent(col.Name), d.typeSQL(col)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, "DEFAULT "+literal(col.Default))
	}
	return strings.Join(parts, " ")
}

func (d Postgres) CreateTableSQL(table *schema.TableDefinition) string {
	var clauses []string
	var primary []string
	for _, col := range table.Columns {
		clauses = append(clauses, "  "+d.ColumnSQL(col))
		if col.Primary {
			primary = append(primary, d.QuoteIdent(col.Name))
		}
	}
	if len(primary) > 0 {
		clauses = append(clauses, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(primary, ", ")))
	}
	for _, fk := range table.ForeignKeys {
		clauses = append(clauses, "  "+d.foreignKeyClause(fk))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.QuoteIdent(table.Name), strings.Join(clauses, ",\n"))
}

// Postgres creates indexes with separate statements, not table clauses.
func (Postgres) InlinesIndexes() bool { return false }

func (d Postgres) DropTableSQL(table string) string {
	return "DROP TABLE " + d.QuoteIdent(table)
}

func (d Postgres) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d Postgres) AddColumnSQL(table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdent(table), d.ColumnSQL(col))
}

func (d Postgres) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d Postgres) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

// ModifyColumnSQL folds the type, nullability and default changes into a
// single ALTER TABLE statement.
func (d Postgres) ModifyColumnSQL(table string, col schema.ColumnDefinition) string {
	column := d.QuoteIdent(col.Name)
	actions := []string{fmt.Sprintf("ALTER COLUMN %s TYPE %s", column, d.typeSQL(col))}
	if col.Nullable {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", column))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", column))
	}
	if col.Default != nil {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", column, literal(col.Default)))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", column))
	}
	return fmt.Sprintf("ALTER TABLE %s %s", d.QuoteIdent(table), strings.Join(actions, ", "))
}

func (d Postgres) AddIndexSQL(table string, idx schema.IndexDefinition) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QuoteIdent(table), d.identList(idx.Columns))
}

func (d Postgres) DropIndexSQL(table, index string) string {
	return "DROP INDEX " + d.QuoteIdent(index)
}

func (d Postgres) AddForeignKeySQL(table string, fk schema.ForeignKeyDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", d.QuoteIdent(table), d.foreignKeyClause(fk))
}

func (d Postgres) DropForeignKeySQL(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", d.QuoteIdent(table), d.QuoteIdent(constraint))
}

func (d Postgres) foreignKeyClause(fk schema.ForeignKeyDefinition) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
		d.QuoteIdent(fk.Name), d.QuoteIdent(fk.Column),
		d.QuoteIdent(fk.ReferencedTable), d.QuoteIdent(fk.ReferencedColumn),
		fk.OnUpdate, fk.OnDelete)
}

func (d Postgres) identList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func (Postgres) BeginSQL() string    { return "BEGIN" }
func (Postgres) CommitSQL() string   { return "COMMIT" }
func (Postgres) RollbackSQL() string { return "ROLLBACK" }

func (Postgres) DisableForeignKeyChecksSQL() string { return "SET session_replication_role = replica" }
func (Postgres) EnableForeignKeyChecksSQL() string  { return "SET session_replication_role = DEFAULT" }

// Rebind numbers the ? placeholders as $1, $2, ... skipping quoted text.
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	n := 0
	inString := false
	for _, r := range query {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '?' && !inString:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
