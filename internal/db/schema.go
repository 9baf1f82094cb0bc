package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is valid for both Postgres and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS routes (
  route_id TEXT PRIMARY KEY,
  title    TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS route_stops (
  route_id TEXT NOT NULL,
  stop_id  TEXT NOT NULL,
  title    TEXT NOT NULL DEFAULT '',
  lat      DOUBLE PRECISION NOT NULL,
  lon      DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (route_id, stop_id)
)`,
	`CREATE TABLE IF NOT EXISTS route_directions (
  route_id     TEXT NOT NULL,
  direction_id TEXT NOT NULL,
  title        TEXT NOT NULL DEFAULT '',
  shape        TEXT,
  PRIMARY KEY (route_id, direction_id)
)`,
	`CREATE TABLE IF NOT EXISTS direction_stops (
  route_id      TEXT NOT NULL,
  direction_id  TEXT NOT NULL,
  stop_sequence INTEGER NOT NULL,
  stop_id       TEXT NOT NULL,
  PRIMARY KEY (route_id, direction_id, stop_sequence)
)`,
	`CREATE TABLE IF NOT EXISTS wait_times (
  service_date TEXT NOT NULL,
  time_window  TEXT NOT NULL,
  statistic    TEXT NOT NULL,
  route_id     TEXT NOT NULL,
  direction_id TEXT NOT NULL,
  stop_id      TEXT NOT NULL,
  minutes      DOUBLE PRECISION
)`,
	`CREATE TABLE IF NOT EXISTS trip_times (
  service_date TEXT NOT NULL,
  time_window  TEXT NOT NULL,
  statistic    TEXT NOT NULL,
  route_id     TEXT NOT NULL,
  direction_id TEXT NOT NULL,
  from_stop_id TEXT NOT NULL,
  to_stop_id   TEXT NOT NULL,
  minutes      DOUBLE PRECISION
)`,
	`CREATE INDEX IF NOT EXISTS wait_times_selector ON wait_times (service_date, time_window, statistic)`,
	`CREATE INDEX IF NOT EXISTS trip_times_selector ON trip_times (service_date, time_window, statistic)`,
}

// EnsureSchema creates any missing tables the Store reads.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
