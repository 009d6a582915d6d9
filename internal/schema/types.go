package schema

import "encoding/json"

// ColumnDefinition represents a single table column.
type ColumnDefinition struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Length        int    `json:"length,omitempty"`
	Nullable      bool   `json:"nullable"`
	Default       any    `json:"default,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

// IndexDefinition represents a secondary index. The implicit PRIMARY
// index is never part of the model.
type IndexDefinition struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// ForeignKeyDefinition represents a single-column foreign key constraint.
type ForeignKeyDefinition struct {
	Name             string `json:"name"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
	OnUpdate         string `json:"onUpdate,omitempty"`
	OnDelete         string `json:"onDelete,omitempty"`
}

// TableDefinition is purely structural metadata for one table. Column
// order is preserved as declared or introspected.
type TableDefinition struct {
	Name        string                 `json:"name"`
	Columns     []ColumnDefinition     `json:"columns"`
	Indexes     []IndexDefinition      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKeyDefinition `json:"foreignKeys,omitempty"`
}

// Column returns the column with the given name, or nil.
func (t *TableDefinition) Column(name string) *ColumnDefinition {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index returns the index with the given name, or nil.
func (t *TableDefinition) Index(name string) *IndexDefinition {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

// ForeignKey returns the foreign key with the given name, or nil.
func (t *TableDefinition) ForeignKey(name string) *ForeignKeyDefinition {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Name == name {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}

// PrimaryColumn returns the primary key column, or nil. The model only
// supports a single-column primary key.
func (t *TableDefinition) PrimaryColumn() *ColumnDefinition {
	for i := range t.Columns {
		if t.Columns[i].Primary {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the table's column names in declaration order.
func (t *TableDefinition) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// DatabaseSchema maps table names to their definitions. It is built fresh
// for each introspection or generation call and never mutated concurrently.
type DatabaseSchema struct {
	Tables map[string]*TableDefinition `json:"tables"`
}

// NewDatabaseSchema returns an empty schema.
func NewDatabaseSchema() *DatabaseSchema {
	return &DatabaseSchema{Tables: make(map[string]*TableDefinition)}
}

// AddTable registers a table definition, replacing any previous table of
// the same name.
func (s *DatabaseSchema) AddTable(t *TableDefinition) {
	if s.Tables == nil {
		s.Tables = make(map[string]*TableDefinition)
	}
	s.Tables[t.Name] = t
}

// Table returns the table with the given name, or nil.
func (s *DatabaseSchema) Table(name string) *TableDefinition {
	return s.Tables[name]
}

// HasTable reports whether the schema contains a table with the given name.
func (s *DatabaseSchema) HasTable(name string) bool {
	_, ok := s.Tables[name]
	return ok
}

// TableNames returns all table names. Order is unspecified.
func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

// ToJSON serializes the schema to its plain structural form.
func (s *DatabaseSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON rebuilds a schema from its plain structural form.
func FromJSON(data []byte) (*DatabaseSchema, error) {
	s := NewDatabaseSchema()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Tables == nil {
		s.Tables = make(map[string]*TableDefinition)
	}
	return s, nil
}
