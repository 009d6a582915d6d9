package dialect

import (
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// MySQL renders SQL for MySQL and MariaDB.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// mysqlTypes maps normalized type names onto MySQL keywords.
var mysqlTypes = map[string]string{
	"int":      "INT",
	"bigint":   "BIGINT",
	"smallint": "SMALLINT",
	"tinyint":  "TINYINT",
	"varchar":  "VARCHAR",
	"char":     "CHAR",
	"text":     "TEXT",
	"longtext": "LONGTEXT",
	"blob":     "BLOB",
	"float":    "FLOAT",
	"double":   "DOUBLE",
	"decimal":  "DECIMAL",
	"datetime": "DATETIME",
	"date":     "DATE",
	"time":     "TIME",
	"json":     "JSON",
}

func (MySQL) typeSQL(col schema.ColumnDefinition) string {
	normalized := schema.NormalizeType(col.Type)
	keyword, ok := mysqlTypes[normalized]
	if !ok {
		keyword = strings.ToUpper(normalized)
	}
	length := col.Length
	if keyword == "VARCHAR" && length == 0 {
		length = 255
	}
	switch keyword {
	case "VARCHAR", "CHAR", "DECIMAL":
		if length > 0 {
			return fmt.Sprintf("%s(%d)", keyword, length)
		}
	}
	return keyword
}

func (d MySQL) ColumnSQL(col schema.ColumnDefinition) string {
	parts := []string{d.QuoteIdent(col.Name), d.typeSQL(col)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if col.Default != nil {
		parts = append(parts, "DEFAULT "+literal(col.Default))
	}
	if col.Comment != "" {
		parts = append(parts, "COMMENT "+quoteString(col.Comment))
	}
	return strings.Join(parts, " ")
}

func (d MySQL) CreateTableSQL(table *schema.TableDefinition) string {
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
	for _, idx := range table.Indexes {
		kind := "KEY"
		if idx.Unique {
			kind = "UNIQUE KEY"
		}
		clauses = append(clauses, fmt.Sprintf("  %s %s (%s)", kind, d.QuoteIdent(idx.Name), d.identList(idx.Columns)))
	}
	for _, fk := range table.ForeignKeys {
		clauses = append(clauses, "  "+d.foreignKeyClause(fk))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		d.QuoteIdent(table.Name), strings.Join(clauses, ",\n"))
}

func (MySQL) InlinesIndexes() bool { return true }

func (d MySQL) DropTableSQL(table string) string {
	return "DROP TABLE " + d.QuoteIdent(table)
}

func (d MySQL) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d MySQL) AddColumnSQL(table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdent(table), d.ColumnSQL(col))
}

func (d MySQL) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d MySQL) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d MySQL) ModifyColumnSQL(table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.QuoteIdent(table), d.ColumnSQL(col))
}

func (d MySQL) AddIndexSQL(table string, idx schema.IndexDefinition) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QuoteIdent(table), d.identList(idx.Columns))
}

func (d MySQL) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.QuoteIdent(index), d.QuoteIdent(table))
}

func (d MySQL) AddForeignKeySQL(table string, fk schema.ForeignKeyDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", d.QuoteIdent(table), d.foreignKeyClause(fk))
}

func (d MySQL) DropForeignKeySQL(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.QuoteIdent(table), d.QuoteIdent(constraint))
}

func (d MySQL) foreignKeyClause(fk schema.ForeignKeyDefinition) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
		d.QuoteIdent(fk.Name), d.QuoteIdent(fk.Column),
		d.QuoteIdent(fk.ReferencedTable), d.QuoteIdent(fk.ReferencedColumn),
		fk.OnUpdate, fk.OnDelete)
}

func (d MySQL) identList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.QuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func (MySQL) BeginSQL() string    { return "START TRANSACTION" }
func (MySQL) CommitSQL() string   { return "COMMIT" }
func (MySQL) RollbackSQL() string { return "ROLLBACK" }

func (MySQL) DisableForeignKeyChecksSQL() string { return "SET FOREIGN_KEY_CHECKS = 0" }
func (MySQL) EnableForeignKeyChecksSQL() string  { return "SET FOREIGN_KEY_CHECKS = 1" }

func (MySQL) Rebind(query string) string { return query }
