// Package database provides SQLite connectivity for the console's local
// delivery journal.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an fs.FS (usually the embedded migrations package)
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Message payloads are journalled as sent; keep the file on a private disk
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Journal.Path,
//	    WALMode:     true,
//	    BusyTimeout: cfg.Journal.BusyTimeout,
//	    Migrations:  migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Migrations only run forward; there is no down step
//   - Files are named YYYYMMDD_HHMMSS_description.up.sql
//   - SchemaStatus reports the applied version and anything pending
package database
