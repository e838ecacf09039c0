package migrations

import "embed"

// FS holds the SQL migrations, one directory per database engine
//
//go:embed postgres/*.sql
var FS embed.FS
