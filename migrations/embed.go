// Package migrations embeds the forwarder's SQL migration files into the binary.
//
// Each supported driver has its own directory (sqlite3/, mysql/) because the
// DDL differs; the database package picks the directory matching the
// connected driver.
package migrations

import (
	"embed"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/database"
)

//go:embed sqlite3/*.sql mysql/*.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
