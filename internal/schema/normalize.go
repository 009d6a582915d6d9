package schema

import "strings"

// typeSynonyms maps type names that different sources spell differently
// onto one canonical form, so introspected and declared schemas do not
// produce false-positive modifications.
var typeSynonyms = map[string]string{
	"integer":           "int",
	"int4":              "int",
	"int8":              "bigint",
	"int2":              "smallint",
	"bool":              "tinyint",
	"boolean":           "tinyint",
	"character varying": "varchar",
	"character":         "char",
	"string":            "varchar",
	"real":              "float",
	"double precision":  "double",
	"numeric":           "decimal",
	"timestamptz":       "timestamp",
	"serial":            "int",
	"bigserial":         "bigint",
}

// typeFamilies groups canonical type names whose storage semantics are
// close enough that a rename between them is plausible.
var typeFamilies = map[string]string{
	"tinyint":    "integer",
	"smallint":   "integer",
	"mediumint":  "integer",
	"int":        "integer",
	"bigint":     "integer",
	"char":       "text",
	"varchar":    "text",
	"tinytext":   "text",
	"text":       "text",
	"mediumtext": "text",
	"longtext":   "text",
	"enum":       "text",
	"float":      "float",
	"double":     "float",
	"decimal":    "float",
	"date":       "date",
	"datetime":   "date",
	"timestamp":  "date",
	"time":       "date",
	"year":       "date",
}

// NormalizeType lowercases a type name, strips any length suffix such as
// varchar(255), and maps synonyms to their canonical form.
func NormalizeType(typeName string) string {
	t := strings.ToLower(strings.TrimSpace(typeName))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	if canonical, ok := typeSynonyms[t]; ok {
		return canonical
	}
	return t
}

// TypeFamily returns the family of a type name (integer, text, float,
// date), or the normalized name itself when no family is known.
func TypeFamily(typeName string) string {
	t := NormalizeType(typeName)
	if family, ok := typeFamilies[t]; ok {
		return family
	}
	return t
}

// TypesCompatible reports whether two type names normalize into the same
// family. Identical normalized names always compare equal, even when
// neither belongs to a known family.
func TypesCompatible(a, b string) bool {
	na, nb := NormalizeType(a), NormalizeType(b)
	if na == nb {
		return true
	}
	return TypeFamily(na) == TypeFamily(nb)
}
