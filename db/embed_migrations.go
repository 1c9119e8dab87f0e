// ABOUTME: Embeds the SQL migration files into the binary
// ABOUTME: Read by the migrate runner through an iofs source

package db

import "embed"

// MigrationFS embeds SQL migration files from db/migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
