// Package migrations embeds SQL migration files into the binary.
//
// Importing it registers the files with the database package, so devicehub
// can migrate without the SQL present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
