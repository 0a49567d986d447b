package persistence

import "embed"

// MigrationsFS holds the goose migrations for the maintenance tables.
//
//go:embed schema/*.sql
var MigrationsFS embed.FS

const MigrationsDir = "schema"
