package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"transit-isochrones/internal/gtfs"
)

var sel = gtfs.Selector{Date: "2024-05-01", TimeWindow: "07:00-10:00", Statistic: "median"}

func openFixture(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, Ping(ctx, conn))
	require.NoError(t, EnsureSchema(ctx, conn))
	// Idempotent.
	require.NoError(t, EnsureSchema(ctx, conn))

	shape := string(polyline.EncodeCoords([][]float64{{37.7749, -122.4194}, {37.7449, -122.4194}}))
	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT INTO routes VALUES ($1, $2)`, []any{"N", "Judah"}},
		{`INSERT INTO routes VALUES ($1, $2)`, []any{"J", "Church"}},
		{`INSERT INTO route_stops VALUES ($1, $2, $3, $4, $5)`, []any{"N", "a", "Alpha", 37.7749, -122.4194}},
		{`INSERT INTO route_stops VALUES ($1, $2, $3, $4, $5)`, []any{"N", "b", "Bravo", 37.7449, -122.4194}},
		{`INSERT INTO route_stops VALUES ($1, $2, $3, $4, $5)`, []any{"J", "x", "Xray", 37.76, -122.43}},
		{`INSERT INTO route_directions VALUES ($1, $2, $3, $4)`, []any{"N", "out", "Outbound", shape}},
		{`INSERT INTO route_directions VALUES ($1, $2, $3, $4)`, []any{"N", "in", "Inbound", nil}},
		{`INSERT INTO direction_stops VALUES ($1, $2, $3, $4)`, []any{"N", "out", 2, "b"}},
		{`INSERT INTO direction_stops VALUES ($1, $2, $3, $4)`, []any{"N", "out", 1, "a"}},
		{`INSERT INTO direction_stops VALUES ($1, $2, $3, $4)`, []any{"N", "in", 1, "b"}},
		{`INSERT INTO direction_stops VALUES ($1, $2, $3, $4)`, []any{"N", "in", 2, "a"}},
		{`INSERT INTO wait_times VALUES ($1, $2, $3, $4, $5, $6, $7)`, []any{sel.Date, sel.TimeWindow, sel.Statistic, "N", "out", "a", 4.5}},
		{`INSERT INTO wait_times VALUES ($1, $2, $3, $4, $5, $6, $7)`, []any{sel.Date, sel.TimeWindow, "p90", "N", "out", "a", 9.0}},
		{`INSERT INTO wait_times VALUES ($1, $2, $3, $4, $5, $6, $7)`, []any{sel.Date, sel.TimeWindow, sel.Statistic, "N", "in", "b", nil}},
		{`INSERT INTO trip_times VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, []any{sel.Date, sel.TimeWindow, sel.Statistic, "N", "out", "a", "b", 6.0}},
		{`INSERT INTO trip_times VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, []any{sel.Date, sel.TimeWindow, sel.Statistic, "N", "in", "b", "a", nil}},
	}
	for _, s := range stmts {
		_, err := conn.ExecContext(ctx, s.q, s.args...)
		require.NoError(t, err, s.q)
	}
	return conn
}

func TestStore_LoadRoutes(t *testing.T) {
	store := NewStore(openFixture(t))

	routes, err := store.LoadRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "J", routes[0].ID)
	assert.Equal(t, "N", routes[1].ID)

	n := routes[1]
	assert.Equal(t, "Judah", n.Title)
	assert.Equal(t, gtfs.Stop{ID: "a", Title: "Alpha", Lat: 37.7749, Lng: -122.4194}, n.Stops["a"])
	require.Len(t, n.Directions, 2)
	assert.Equal(t, "in", n.Directions[0].ID)
	assert.Equal(t, []string{"b", "a"}, n.Directions[0].StopIDs)
	assert.Nil(t, n.Directions[0].Shape)
	assert.Equal(t, "out", n.Directions[1].ID)
	assert.Equal(t, []string{"a", "b"}, n.Directions[1].StopIDs)
	require.Len(t, n.Directions[1].Shape, 2)
	assert.InDelta(t, 37.7449, n.Directions[1].Shape[1].Lat, 1e-5)
}

func TestStore_LoadRoute(t *testing.T) {
	store := NewStore(openFixture(t))

	r, err := store.LoadRoute(context.Background(), "J")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "Church", r.Title)
	assert.Len(t, r.Stops, 1)
	assert.Empty(t, r.Directions)

	missing, err := store.LoadRoute(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_LoadTables(t *testing.T) {
	store := NewStore(openFixture(t))
	ctx := context.Background()

	waits, err := store.LoadWaitTimes(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, gtfs.WaitTimeTable{{RouteID: "N", DirectionID: "out", StopID: "a"}: 4.5}, waits)

	p90 := sel
	p90.Statistic = "p90"
	waits, err = store.LoadWaitTimes(ctx, p90)
	require.NoError(t, err)
	assert.Equal(t, 9.0, waits[gtfs.TableKey{RouteID: "N", DirectionID: "out", StopID: "a"}])

	trips, err := store.LoadTripTimes(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, gtfs.TripTimeTable{{RouteID: "N", DirectionID: "out", StopID: "a"}: {"b": 6}}, trips)

	other := sel
	other.Date = "2030-01-01"
	trips, err = store.LoadTripTimes(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn, driver, source string
	}{
		{"postgres://u@h:5432/db", "pgx", "postgres://u@h:5432/db"},
		{"postgresql://u@h/db", "pgx", "postgresql://u@h/db"},
		{"sqlite:///var/feeds/sf.db", "sqlite3", "/var/feeds/sf.db"},
		{"feed.db", "sqlite3", "feed.db"},
		{"file::memory:?cache=shared", "sqlite3", "file::memory:?cache=shared"},
	}
	for _, tt := range tests {
		driver, source := driverFor(tt.dsn)
		assert.Equal(t, tt.driver, driver, tt.dsn)
		assert.Equal(t, tt.source, source, tt.dsn)
	}
}

func TestSwitchDatabase(t *testing.T) {
	tests := []struct {
		dsn, name, want string
		wantErr         bool
	}{
		{"postgres://iso:pw@db:5432/postgres?sslmode=disable", "sfmta_20240501", "postgres://iso:pw@db:5432/sfmta_20240501?sslmode=disable", false},
		{"postgresql://iso@db/postgres", "/madrid", "postgresql://iso@db/madrid", false},
		{"feed.db", "x", "", true},
		{"", "x", "", true},
	}
	for _, tt := range tests {
		got, err := switchDatabase(tt.dsn, tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.dsn)
			continue
		}
		require.NoError(t, err, tt.dsn)
		assert.Equal(t, tt.want, got)
	}
}

func TestResolveFeedDSN_NoFeed(t *testing.T) {
	dsn, name, err := ResolveFeedDSN(context.Background(), "feed.db", "")
	require.NoError(t, err)
	assert.Equal(t, "feed.db", dsn)
	assert.Empty(t, name)
}
