package entity

import "testing"

func TestBuildBasicEntity(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "User",
		Columns: []ColumnSpec{
			{Name: "id", Type: "int", Primary: true, Auto: true},
			{Name: "email", Type: "varchar", Size: 255, Unique: true},
			{Name: "bio", Type: "text", Nullable: true},
		},
	})

	s := NewBuilder(registry).Build()

	table := s.Table("user")
	if table == nil {
		t.Fatalf("expected table name to default to lowercase entity name, got %v", s.TableNames())
	}
	if len(table.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(table.Columns))
	}
	if pk := table.PrimaryColumn(); pk == nil || pk.Name != "id" || !pk.AutoIncrement {
		t.Errorf("unexpected primary column: %+v", pk)
	}

	idx := table.Index("idx_user_email")
	if idx == nil {
		t.Fatal("unique column should produce idx_user_email")
	}
	if !idx.Unique || len(idx.Columns) != 1 || idx.Columns[0] != "email" {
		t.Errorf("unexpected index: %+v", idx)
	}
}

func TestBuildExplicitTableName(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name:  "Person",
		Table: "people",
		Columns: []ColumnSpec{
			{Name: "id", Type: "int", Primary: true},
		},
	})

	s := NewBuilder(registry).Build()
	if !s.HasTable("people") {
		t.Errorf("expected explicit table name, got %v", s.TableNames())
	}
}

func TestBuildForeignKeyColumn(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "Post",
		Columns: []ColumnSpec{
			{Name: "id", Type: "int", Primary: true},
			{Name: "user_id", Type: "int", References: "users.id", OnDelete: "CASCADE"},
		},
	})

	table := NewBuilder(registry).Build().Table("post")
	if table == nil {
		t.Fatal("post table missing")
	}

	fk := table.ForeignKey("fk_post_user_id")
	if fk == nil {
		t.Fatalf("expected foreign key, got %+v", table.ForeignKeys)
	}
	if fk.ReferencedTable != "users" || fk.ReferencedColumn != "id" {
		t.Errorf("unexpected FK target: %+v", fk)
	}
	if fk.OnDelete != "CASCADE" {
		t.Errorf("expected explicit ON DELETE, got %q", fk.OnDelete)
	}
	if fk.OnUpdate != "RESTRICT" {
		t.Errorf("expected RESTRICT default, got %q", fk.OnUpdate)
	}
	if table.Index("fk_post_user_id") == nil {
		t.Error("FK column should also produce a supporting index")
	}
}

func TestBuildSkipsBrokenColumns(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "Thing",
		Columns: []ColumnSpec{
			{Name: "id", Type: "int", Primary: true},
			{Name: "", Type: "varchar"},          // no name
			{Name: "orphan", Type: ""},           // no type
			{Name: "bad_ref", Type: "int", References: "nodot"}, // malformed reference
		},
	})

	table := NewBuilder(registry).Build().Table("thing")
	if table == nil {
		t.Fatal("thing table missing")
	}
	if len(table.Columns) != 2 {
		t.Errorf("expected broken columns to be skipped, got %+v", table.ColumnNames())
	}
	if len(table.ForeignKeys) != 0 {
		t.Errorf("malformed reference must not produce a foreign key, got %+v", table.ForeignKeys)
	}
}

func TestBuildNormalizesTypes(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "Flag",
		Columns: []ColumnSpec{
			{Name: "id", Type: "INTEGER", Primary: true},
			{Name: "enabled", Type: "boolean"},
		},
	})

	table := NewBuilder(registry).Build().Table("flag")
	if got := table.Column("id").Type; got != "int" {
		t.Errorf("expected int, got %q", got)
	}
	if got := table.Column("enabled").Type; got != "tinyint" {
		t.Errorf("expected tinyint, got %q", got)
	}
}
