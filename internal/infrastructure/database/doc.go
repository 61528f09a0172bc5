// Package database provides the SQLite store behind XR Monitor's user
// accounts and custom names.
//
// Open configures go-sqlite3 with WAL mode, a busy timeout and foreign
// keys, pins the pool to a single connection and restricts the file to
// mode 0600. Migrate applies versioned SQL files registered in Source by
// the migrations package; MigrateDown and MigrationStatus back the
// "xrmonitor migrate" subcommands.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries in the repositories built on this package use
// parameterised statements.
package database
