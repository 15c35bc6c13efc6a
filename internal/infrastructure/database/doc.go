// Package database opens the tracker's SQLite file and applies schema
// migrations.
//
// The connection uses a single writer, an optional WAL journal and a busy
// timeout, and the file is restricted to its owner. Migrations are read
// from any fs.FS (normally the embedded migrations package) as pairs of
// YYYYMMDD_HHMMSS_name.up.sql and .down.sql files and are tracked in the
// schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
