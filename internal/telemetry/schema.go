package telemetry

import (
	"database/sql"

	"github.com/apify/crawlee-sub000/internal/errors"
)

// initSchema initializes the database schema for telemetry data
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS pool_state (
            timestamp INTEGER PRIMARY KEY,
            desired_concurrency INTEGER,
            current_concurrency INTEGER,
            min_concurrency INTEGER,
            max_concurrency INTEGER,
            system_overloaded INTEGER,
            memory_ratio REAL,
            event_loop_ratio REAL,
            cpu_ratio REAL,
            client_ratio REAL
        )
    `)
	if err != nil {
		return errors.New().Wrap(ErrStorageInit, err)
	}

	return nil
}
