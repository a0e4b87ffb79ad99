package main

import (
	"database/sql"
	"fmt"
)

// The two drivers spell DSN options differently, so connection settings are
// applied as pragmas once the database is open.
const sqlitePragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
`

func configureDB(db *sql.DB) error {
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqlitePragmas); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to configure database: %w", err)
	}
	return nil
}
