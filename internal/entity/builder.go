package entity

import (
	"fmt"
	"strings"

	"github.com/tordrt/schemamigrate/internal/logger"
	"github.com/tordrt/schemamigrate/internal/schema"
)

// Builder converts registered entity definitions into the desired
// database schema. A broken column never fails the whole build: it is
// warned about and skipped.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a builder over the given registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// Build converts every registered entity into a table definition.
func (b *Builder) Build() *schema.DatabaseSchema {
	result := schema.NewDatabaseSchema()

	for _, def := range b.registry.Definitions() {
		table := b.buildTable(def)
		if table != nil {
			result.AddTable(table)
		}
	}

	return result
}

func (b *Builder) buildTable(def Definition) *schema.TableDefinition {
	tableName := def.TableName()
	if tableName == "" {
		logger.Warn("entity %q has no usable table name, skipping", def.Name)
		return nil
	}

	table := &schema.TableDefinition{Name: tableName}

	for _, spec := range def.Columns {
		if spec.Name == "" || spec.Type == "" {
			logger.Warn("entity %q: column missing name or type, skipping", def.Name)
			continue
		}

		table.Columns = append(table.Columns, schema.ColumnDefinition{
			Name:          spec.Name,
			Type:          schema.NormalizeType(spec.Type),
			Length:        spec.Size,
			Nullable:      spec.Nullable,
			Default:       spec.Default,
			Primary:       spec.Primary,
			Unique:        spec.Unique,
			AutoIncrement: spec.Auto,
			Comment:       spec.Comment,
		})

		if spec.Unique {
			table.Indexes = append(table.Indexes, schema.IndexDefinition{
				Name:    fmt.Sprintf("idx_%s_%s", tableName, spec.Name),
				Columns: []string{spec.Name},
				Unique:  true,
			})
		}

		if spec.References != "" {
			fk, ok := buildForeignKey(tableName, spec)
			if !ok {
				// Malformed references are silently skipped.
				continue
			}
			table.Indexes = append(table.Indexes, schema.IndexDefinition{
				Name:    fmt.Sprintf("fk_%s_%s", tableName, spec.Name),
				Columns: []string{spec.Name},
			})
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}
	}

	return table
}

// buildForeignKey parses a "table.column" reference string.
func buildForeignKey(tableName string, spec ColumnSpec) (schema.ForeignKeyDefinition, bool) {
	parts := strings.SplitN(spec.References, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return schema.ForeignKeyDefinition{}, false
	}

	onDelete := spec.OnDelete
	if onDelete == "" {
		onDelete = "RESTRICT"
	}
	onUpdate := spec.OnUpdate
	if onUpdate == "" {
		onUpdate = "RESTRICT"
	}

	return schema.ForeignKeyDefinition{
		Name:             fmt.Sprintf("fk_%s_%s", tableName, spec.Name),
		Column:           spec.Name,
		ReferencedTable:  parts[0],
		ReferencedColumn: parts[1],
		OnUpdate:         onUpdate,
		OnDelete:         onDelete,
	}, true
}
