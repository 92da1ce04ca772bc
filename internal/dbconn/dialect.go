package dbconn

import "fmt"

// IsPostgres reports whether driver names the Postgres dialect.
func IsPostgres(driver string) bool {
	return driver == DriverPostgres
}

// BoolToInt converts a boolean to the integer SQLite stores booleans as.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// JSONExtract returns the SQL fragment to pull a top-level JSON key out of
// col, in the dialect driver uses.
func JSONExtract(driver, col, key string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s::jsonb->>'%s'", col, key)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, key)
}
