// Package database owns the hub's SQLite file and its schema.
//
// Two tables matter to the rest of the service:
//
//	device_ids          config key -> stable driver UUID (driver.SQLiteIDStore)
//	metadata_archives   last committed archive per category (metadata.SQLiteStore)
//
// Schema changes are embedded SQL files registered by the migrations
// package. Migrate applies pending ones in version order, one transaction
// each; MigrateDown reverts the newest. Files only ever add tables or
// nullable columns, so an older binary keeps working against a newer file.
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
