package schema

// ChangeKind identifies which property of a column changed.
type ChangeKind string

const (
	TypeChange     ChangeKind = "TYPE_CHANGE"
	NullableChange ChangeKind = "NULLABLE_CHANGE"
	DefaultChange  ChangeKind = "DEFAULT_CHANGE"
)

// highConfidence is the score above which a rename candidate no longer
// needs interactive confirmation by default.
const highConfidence = 0.8

// TableRename is a detected table rename with its confidence score.
type TableRename struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// IsHighConfidence reports whether the rename scored above 0.8.
func (r TableRename) IsHighConfidence() bool {
	return r.Confidence > highConfidence
}

// ColumnRename is a detected column rename within one table.
type ColumnRename struct {
	Table      string  `json:"table"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// IsHighConfidence reports whether the rename scored above 0.8.
func (r ColumnRename) IsHighConfidence() bool {
	return r.Confidence > highConfidence
}

// ColumnChange is a column addition or removal scoped to a table.
type ColumnChange struct {
	Table  string           `json:"table"`
	Column ColumnDefinition `json:"column"`
}

// ColumnModification records a column whose definition changed in place.
// Several change kinds may fire for the same column.
type ColumnModification struct {
	Table   string           `json:"table"`
	Current ColumnDefinition `json:"current"`
	Desired ColumnDefinition `json:"desired"`
	Changes []ChangeKind     `json:"changes"`
}

// IndexChange is an index addition or removal scoped to a table.
type IndexChange struct {
	Table string          `json:"table"`
	Index IndexDefinition `json:"index"`
}

// ForeignKeyChange is a foreign key addition or removal scoped to a table.
type ForeignKeyChange struct {
	Table      string               `json:"table"`
	ForeignKey ForeignKeyDefinition `json:"foreignKey"`
}

// SchemaDiff aggregates every change needed to move one schema to another.
// A renamed table or column never also appears as an add/remove pair for
// the same name; the differ reconciles that before returning.
type SchemaDiff struct {
	TablesToCreate []*TableDefinition `json:"tablesToCreate,omitempty"`
	TablesToRename []TableRename      `json:"tablesToRename,omitempty"`
	TablesToDrop   []string           `json:"tablesToDrop,omitempty"`

	ColumnsToAdd    []ColumnChange       `json:"columnsToAdd,omitempty"`
	ColumnsToRemove []ColumnChange       `json:"columnsToRemove,omitempty"`
	ColumnsToModify []ColumnModification `json:"columnsToModify,omitempty"`
	ColumnsToRename []ColumnRename       `json:"columnsToRename,omitempty"`

	IndexesToAdd    []IndexChange `json:"indexesToAdd,omitempty"`
	IndexesToRemove []IndexChange `json:"indexesToRemove,omitempty"`

	ForeignKeysToAdd    []ForeignKeyChange `json:"foreignKeysToAdd,omitempty"`
	ForeignKeysToRemove []ForeignKeyChange `json:"foreignKeysToRemove,omitempty"`
}

// IsEmpty reports whether the diff contains no changes at all.
func (d *SchemaDiff) IsEmpty() bool {
	return len(d.TablesToCreate) == 0 &&
		len(d.TablesToRename) == 0 &&
		len(d.TablesToDrop) == 0 &&
		len(d.ColumnsToAdd) == 0 &&
		len(d.ColumnsToRemove) == 0 &&
		len(d.ColumnsToModify) == 0 &&
		len(d.ColumnsToRename) == 0 &&
		len(d.IndexesToAdd) == 0 &&
		len(d.IndexesToRemove) == 0 &&
		len(d.ForeignKeysToAdd) == 0 &&
		len(d.ForeignKeysToRemove) == 0
}

// IsDestructive reports whether applying the diff can discard data,
// which is the case exactly when tables or columns are dropped.
func (d *SchemaDiff) IsDestructive() bool {
	return len(d.TablesToDrop) > 0 || len(d.ColumnsToRemove) > 0
}
