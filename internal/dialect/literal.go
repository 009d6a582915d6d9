package dialect

import (
	"fmt"
	"strings"
)

// rawDefaults are default expressions passed through unquoted.
var rawDefaults = map[string]bool{
	"CURRENT_TIMESTAMP": true,
	"CURRENT_DATE":      true,
	"CURRENT_TIME":      true,
	"NULL":              true,
}

// literal renders a default value as a SQL literal. String values that
// name a known SQL expression are passed through unquoted.
func literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		if rawDefaults[strings.ToUpper(val)] {
			return strings.ToUpper(val)
		}
		return quoteString(val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// quoteString renders a single-quoted SQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
