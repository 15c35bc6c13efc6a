// Package migrations embeds the tracker's SQL migration files so the
// binary can create its schema without the files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
