package diff

import (
	"testing"

	"github.com/tordrt/schemamigrate/internal/schema"
)

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func TestDetectColumnRenames(t *testing.T) {
	detector := NewRenameDetector()

	tests := []struct {
		name    string
		removed []schema.ColumnDefinition
		added   []schema.ColumnDefinition
		want    map[string]string // from -> to
	}{
		{
			name:    "similar name same type and constraints",
			removed: []schema.ColumnDefinition{{Name: "email", Type: "varchar"}},
			added:   []schema.ColumnDefinition{{Name: "email_address", Type: "varchar"}},
			want:    map[string]string{"email": "email_address"},
		},
		{
			name:    "identical definition different name is still matched via type and constraints",
			removed: []schema.ColumnDefinition{{Name: "username", Type: "varchar"}},
			added:   []schema.ColumnDefinition{{Name: "user_name", Type: "varchar"}},
			want:    map[string]string{"username": "user_name"},
		},
		{
			name:    "unrelated columns are not matched",
			removed: []schema.ColumnDefinition{{Name: "age", Type: "int"}},
			added:   []schema.ColumnDefinition{{Name: "biography", Type: "text", Nullable: true}},
			want:    map[string]string{},
		},
		{
			name: "each side used at most once",
			removed: []schema.ColumnDefinition{
				{Name: "name", Type: "varchar"},
				{Name: "names", Type: "varchar"},
			},
			added: []schema.ColumnDefinition{{Name: "full_names", Type: "varchar"}},
			// "names" is the closer match and must win the single slot.
			want: map[string]string{"names": "full_names"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renames := detector.DetectColumnRenames("users", tt.removed, tt.added)
			if len(renames) != len(tt.want) {
				t.Fatalf("expected %d renames, got %d: %+v", len(tt.want), len(renames), renames)
			}
			for _, r := range renames {
				if tt.want[r.From] != r.To {
					t.Errorf("unexpected rename %s -> %s", r.From, r.To)
				}
				if r.Confidence < similarityThreshold || r.Confidence > 1 {
					t.Errorf("confidence %f out of range", r.Confidence)
				}
				if r.Table != "users" {
					t.Errorf("rename not scoped to table: %q", r.Table)
				}
			}
		})
	}
}

// Increasing name similarity while type and constraints stay fixed must
// never decrease the confidence score.
func TestColumnConfidenceMonotonicInNameSimilarity(t *testing.T) {
	detector := NewRenameDetector()
	base := schema.ColumnDefinition{Name: "customer_email", Type: "varchar"}

	candidates := []string{"zzzz", "cstml", "customr_email", "customer_email"}
	prev := -1.0
	for _, name := range candidates {
		c := detector.columnConfidence(base, schema.ColumnDefinition{Name: name, Type: "varchar"})
		if c < prev {
			t.Errorf("confidence decreased from %f to %f at %q", prev, c, name)
		}
		prev = c
	}
}

func TestColumnConfidenceComponents(t *testing.T) {
	detector := NewRenameDetector()

	exact := detector.columnConfidence(
		schema.ColumnDefinition{Name: "title", Type: "varchar"},
		schema.ColumnDefinition{Name: "title", Type: "varchar"},
	)
	if !closeTo(exact, 1.0) {
		t.Errorf("identical columns should score 1.0, got %f", exact)
	}

	// Same name, incompatible type, mismatched constraints: only the
	// name component contributes.
	nameOnly := detector.columnConfidence(
		schema.ColumnDefinition{Name: "title", Type: "varchar", Nullable: true},
		schema.ColumnDefinition{Name: "title", Type: "date"},
	)
	if !closeTo(nameOnly, 0.5) {
		t.Errorf("expected 0.5 for name-only match, got %f", nameOnly)
	}
}

func TestDetectTableRenames(t *testing.T) {
	detector := NewRenameDetector()

	users := &schema.TableDefinition{
		Name: "users",
		Columns: []schema.ColumnDefinition{
			{Name: "id", Type: "int", Primary: true},
			{Name: "name", Type: "varchar"},
		},
	}
	people := &schema.TableDefinition{
		Name: "people",
		Columns: []schema.ColumnDefinition{
			{Name: "id", Type: "int", Primary: true},
			{Name: "name", Type: "varchar"},
		},
	}

	renames := detector.DetectTableRenames(
		[]*schema.TableDefinition{users},
		[]*schema.TableDefinition{people},
	)
	if len(renames) != 1 {
		t.Fatalf("expected 1 rename, got %d", len(renames))
	}
	if renames[0].From != "users" || renames[0].To != "people" {
		t.Errorf("expected users -> people, got %s -> %s", renames[0].From, renames[0].To)
	}
}

func TestDetectTableRenamesRejectsDissimilar(t *testing.T) {
	detector := NewRenameDetector()

	orders := &schema.TableDefinition{
		Name: "orders",
		Columns: []schema.ColumnDefinition{
			{Name: "id", Type: "int"},
			{Name: "total", Type: "decimal"},
		},
	}
	sessions := &schema.TableDefinition{
		Name: "sessions",
		Columns: []schema.ColumnDefinition{
			{Name: "token", Type: "varchar"},
			{Name: "expires_at", Type: "datetime"},
		},
	}

	renames := detector.DetectTableRenames(
		[]*schema.TableDefinition{orders},
		[]*schema.TableDefinition{sessions},
	)
	if len(renames) != 0 {
		t.Errorf("expected no renames, got %+v", renames)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"users", "users", 1},
		{"Users", "users", 1},
		{"", "", 1},
	}
	for _, tt := range tests {
		if got := nameSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("nameSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}

	if s := nameSimilarity("abc", "xyz"); s != 0 {
		t.Errorf("disjoint names should score 0, got %f", s)
	}
}

// Multi-byte identifiers must be normalized by rune count, matching how
// the edit distance is counted.
func TestNameSimilarityCountsRunes(t *testing.T) {
	// 3 runes each, one substitution.
	if got := nameSimilarity("año", "ano"); !closeTo(got, 2.0/3.0) {
		t.Errorf("nameSimilarity(año, ano) = %f, want %f", got, 2.0/3.0)
	}
}

func TestStructuralSimilarityEmptyTables(t *testing.T) {
	a := &schema.TableDefinition{Name: "a"}
	b := &schema.TableDefinition{Name: "b"}
	if s := structuralSimilarity(a, b); s != 1 {
		t.Errorf("two empty tables should score 1, got %f", s)
	}
}
