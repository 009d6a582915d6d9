package schema

import (
	"sort"
	"testing"
)

func testSchema() *DatabaseSchema {
	s := NewDatabaseSchema()
	s.AddTable(&TableDefinition{
		Name: "users",
		Columns: []ColumnDefinition{
			{Name: "id", Type: "int", Primary: true, AutoIncrement: true},
			{Name: "email", Type: "varchar", Length: 255, Unique: true},
			{Name: "created_at", Type: "datetime", Nullable: true},
		},
		Indexes: []IndexDefinition{
			{Name: "idx_users_email", Columns: []string{"email"}, Unique: true},
		},
	})
	s.AddTable(&TableDefinition{
		Name: "posts",
		Columns: []ColumnDefinition{
			{Name: "id", Type: "int", Primary: true},
			{Name: "user_id", Type: "int"},
			{Name: "title", Type: "varchar", Length: 200},
		},
		ForeignKeys: []ForeignKeyDefinition{
			{Name: "fk_posts_user_id", Column: "user_id", ReferencedTable: "users", ReferencedColumn: "id", OnDelete: "CASCADE"},
		},
	})
	return s
}

func TestJSONRoundTrip(t *testing.T) {
	original := testSchema()

	data, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	restored, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}

	origNames := original.TableNames()
	restNames := restored.TableNames()
	sort.Strings(origNames)
	sort.Strings(restNames)
	if len(origNames) != len(restNames) {
		t.Fatalf("expected %d tables, got %d", len(origNames), len(restNames))
	}
	for i := range origNames {
		if origNames[i] != restNames[i] {
			t.Errorf("table name mismatch: %s vs %s", origNames[i], restNames[i])
		}
	}

	for name, origTable := range original.Tables {
		restTable := restored.Table(name)
		if restTable == nil {
			t.Fatalf("table %s missing after round-trip", name)
		}
		for _, col := range origTable.Columns {
			if restTable.Column(col.Name) == nil {
				t.Errorf("column %s.%s missing after round-trip", name, col.Name)
			}
		}
		for _, idx := range origTable.Indexes {
			if restTable.Index(idx.Name) == nil {
				t.Errorf("index %s missing after round-trip", idx.Name)
			}
		}
		for _, fk := range origTable.ForeignKeys {
			if restTable.ForeignKey(fk.Name) == nil {
				t.Errorf("foreign key %s missing after round-trip", fk.Name)
			}
		}
	}
}

func TestFromJSONEmpty(t *testing.T) {
	s, err := FromJSON([]byte(`{}`))
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if s.Tables == nil {
		t.Error("expected non-nil table map")
	}
	if s.HasTable("anything") {
		t.Error("empty schema should have no tables")
	}
}

func TestPrimaryColumn(t *testing.T) {
	s := testSchema()
	pk := s.Table("users").PrimaryColumn()
	if pk == nil || pk.Name != "id" {
		t.Errorf("expected primary column id, got %v", pk)
	}

	noPK := &TableDefinition{Name: "log", Columns: []ColumnDefinition{{Name: "line", Type: "text"}}}
	if noPK.PrimaryColumn() != nil {
		t.Error("expected nil primary column for table without PK")
	}
}

func TestDiffPredicates(t *testing.T) {
	tests := []struct {
		name            string
		diff            SchemaDiff
		wantEmpty       bool
		wantDestructive bool
	}{
		{
			name:      "empty diff",
			diff:      SchemaDiff{},
			wantEmpty: true,
		},
		{
			name: "create only",
			diff: SchemaDiff{
				TablesToCreate: []*TableDefinition{{Name: "users"}},
			},
		},
		{
			name: "table drop is destructive",
			diff: SchemaDiff{
				TablesToDrop: []string{"legacy"},
			},
			wantDestructive: true,
		},
		{
			name: "column removal is destructive",
			diff: SchemaDiff{
				ColumnsToRemove: []ColumnChange{{Table: "users", Column: ColumnDefinition{Name: "age"}}},
			},
			wantDestructive: true,
		},
		{
			name: "rename alone is neither",
			diff: SchemaDiff{
				ColumnsToRename: []ColumnRename{{Table: "users", From: "email", To: "email_address", Confidence: 0.9}},
			},
		},
		{
			name: "modification is not destructive",
			diff: SchemaDiff{
				ColumnsToModify: []ColumnModification{{Table: "users", Changes: []ChangeKind{TypeChange}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.diff.IsEmpty(); got != tt.wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.wantEmpty)
			}
			if got := tt.diff.IsDestructive(); got != tt.wantDestructive {
				t.Errorf("IsDestructive() = %v, want %v", got, tt.wantDestructive)
			}
		})
	}
}

func TestRenameConfidence(t *testing.T) {
	low := ColumnRename{Confidence: 0.65}
	high := ColumnRename{Confidence: 0.92}
	if low.IsHighConfidence() {
		t.Error("0.65 should not be high confidence")
	}
	if !high.IsHighConfidence() {
		t.Error("0.92 should be high confidence")
	}
}
