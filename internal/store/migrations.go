package store

import "embed"

// MigrationsFS embeds the goose migrations that create the headers/bodies
// tables PostgresStore reads and writes. cmd/engine passes this to
// database.RunMigrations at startup when store.auto_migrate is enabled.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the directory within MigrationsFS goose should read.
const MigrationsDir = "migrations"
