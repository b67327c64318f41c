package database

import (
	"database/sql"
	"errors"
)

// Domain errors for the database package.
var (
	// ErrUnsupportedDriver is returned by Open for a driver other than sqlite3 or mysql.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")

	// ErrMissingDSN is returned by Open when the mysql driver has no DSN.
	ErrMissingDSN = errors.New("database: mysql requires a dsn")

	// ErrMissingPath is returned by Open when the sqlite3 driver has no path.
	ErrMissingPath = errors.New("database: sqlite3 requires a path")
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
