// Package database provides the SQL storage sink for the forwarder.
//
// This package manages:
//   - Connections to SQLite (mattn/go-sqlite3) or MySQL (go-sql-driver/mysql)
//   - Embedded, per-driver schema migrations for the forwarder's own tables
//   - The bounded dead-letter table for rejected messages
//   - Health checks and lifecycle management
//
// Destination tables are owned by the operator, not by migrations: the
// forwarder only ever INSERTs into them through Execute.
//
// Security Considerations:
//   - Row values are always bound parameters, never interpolated
//   - The SQLite database file is created with 0600 permissions
//   - MySQL DSNs may contain credentials; they are never logged
//
// Performance Characteristics:
//   - SQLite: single writer connection, WAL mode allows concurrent readers
//   - MySQL: small connection pool, one insert per message
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in migrations/<driver>/ and follow the
// YYYYMMDD_HHMMSS_description.{up,down}.sql naming scheme.
package database
