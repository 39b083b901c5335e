package jobs

import (
	_ "embed"

	"gas/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 2

var schema = sqlitedb.Schema{Name: "annotations", Version: schemaVersion, SQL: schemaSQL}
