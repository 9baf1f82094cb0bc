package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// metaDatabase holds public.latest_successful_imports on a feed cluster.
const metaDatabase = "postgres"

// ResolveFeedDSN points base at the newest successful import whose database
// name contains feed. It returns base unchanged when feed is empty.
func ResolveFeedDSN(ctx context.Context, base, feed string) (dsn, dbName string, err error) {
	feed = strings.TrimSpace(feed)
	if feed == "" {
		return base, "", nil
	}
	metaDSN, err := switchDatabase(base, metaDatabase)
	if err != nil {
		return "", "", err
	}
	meta, err := Open(metaDSN)
	if err != nil {
		return "", "", fmt.Errorf("open meta db: %w", err)
	}
	defer meta.Close()
	if err := Ping(ctx, meta); err != nil {
		return "", "", fmt.Errorf("ping meta db: %w", err)
	}

	if dbName, err = latestImport(ctx, meta, feed); err != nil {
		return "", "", err
	}
	if dsn, err = switchDatabase(base, dbName); err != nil {
		return "", "", err
	}
	return dsn, dbName, nil
}

func latestImport(ctx context.Context, meta *sql.DB, feed string) (string, error) {
	var name sql.NullString
	err := meta.QueryRowContext(ctx, `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`, feed).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("no import found for feed %q", feed)
	case err != nil:
		return "", fmt.Errorf("query latest import: %w", err)
	case name.String == "":
		return "", fmt.Errorf("empty db_name for feed %q", feed)
	}
	return name.String, nil
}

// switchDatabase rewrites the database path of a Postgres DSN, keeping
// credentials, host and query parameters.
func switchDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("feed resolution needs a postgres DSN, got scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(name, "/")
	u.RawPath = ""
	return u.String(), nil
}
