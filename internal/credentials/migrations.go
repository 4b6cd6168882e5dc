package credentials

import "embed"

// Migrations holds the schema for PostgresStore as numbered
// "NNN_name.up.sql" files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
