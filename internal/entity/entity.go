// Package entity holds the declared-schema side of migration planning:
// entity definitions registered by application code describe the tables
// the database should end up with.
package entity

import "strings"

// ColumnSpec describes one column of an entity. References uses the
// "table.column" form; OnDelete and OnUpdate default to RESTRICT when a
// reference is set.
type ColumnSpec struct {
	Name       string
	Type       string
	Size       int
	Nullable   bool
	Default    any
	Primary    bool
	Unique     bool
	Auto       bool
	References string
	OnDelete   string
	OnUpdate   string
	Comment    string
}

// Definition describes one entity. Table is optional; when empty the
// table name defaults to the lowercase entity name.
type Definition struct {
	Name    string
	Table   string
	Columns []ColumnSpec
}

// TableName returns the explicit table mapping, or the lowercase entity
// name when none is given.
func (d Definition) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return strings.ToLower(d.Name)
}

// Registry collects entity definitions in registration order.
type Registry struct {
	defs []Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an entity definition.
func (r *Registry) Register(def Definition) {
	r.defs = append(r.defs, def)
}

// Definitions returns all registered entities in registration order.
func (r *Registry) Definitions() []Definition {
	return r.defs
}
