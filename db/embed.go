// Package db embeds the Postgres schema migrations.
package db

import "embed"

// Migrations holds the golang-migrate files applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS
