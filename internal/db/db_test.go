package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/fleet"
)

func TestSchemaDeclaresCollections(t *testing.T) {
	for _, table := range []string{"routes", "buses", "locations", "users"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

// openTestDB connects to BUSTRACKER_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("BUSTRACKER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BUSTRACKER_TEST_DATABASE_URL not set")
	}
	conn, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, Ping(context.Background(), conn))
	require.NoError(t, EnsureSchema(context.Background(), conn))
	return conn
}

func TestRoutesBusesAndLocations(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	routeID := "r-" + suffix
	_, err := conn.ExecContext(ctx, `INSERT INTO routes (id, name, start_point, end_point, stops) VALUES ($1, 'Campus Loop', 'Gate', 'Library', $2)`,
		routeID, []string{"Gate", "Hall", "Library"})
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO buses (id, number, route_id, driver_id) VALUES ($1, '12', $2, 'd1')`, "b-"+suffix, routeID)
	require.NoError(t, err)

	routes, err := Routes{DB: conn}.AllRoutes(ctx)
	require.NoError(t, err)
	var found *fleet.Route
	for i := range routes {
		if routes[i].ID == routeID {
			found = &routes[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"Gate", "Hall", "Library"}, found.Stops)

	buses, err := Buses{DB: conn}.BusesByRoute(ctx, routeID)
	require.NoError(t, err)
	require.Len(t, buses, 1)
	assert.Equal(t, "12", buses[0].Number)

	ts := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, UpsertLocation(ctx, conn, fleet.LiveLocation{BusID: "b-" + suffix, Latitude: 1, Longitude: 2, Timestamp: ts}))
	require.NoError(t, UpsertLocation(ctx, conn, fleet.LiveLocation{BusID: "b-" + suffix, Latitude: 3, Longitude: 4, Timestamp: ts}))
	locs, err := FetchLocations(ctx, conn)
	require.NoError(t, err)
	loc := fleet.FindLocation(locs, "b-"+suffix)
	require.NotNil(t, loc)
	assert.Equal(t, 3.0, loc.Latitude)
}

func TestUsersProfileLifecycle(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	users := Users{DB: conn}
	uid := "u-" + uuid.NewString()

	_, err := users.GetUser(ctx, uid)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(users.TouchLastLogin(ctx, uid, time.Now()), ErrNotFound))

	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, users.CreateUser(ctx, fleet.User{UID: uid, Email: "a@b.c", Role: fleet.RolePassenger, CreatedAt: created, LastLogin: created}))

	later := created.Add(time.Hour)
	require.NoError(t, users.TouchLastLogin(ctx, uid, later))

	usr, err := users.GetUser(ctx, uid)
	require.NoError(t, err)
	assert.True(t, usr.CreatedAt.Equal(created))
	assert.True(t, usr.LastLogin.Equal(later))
	assert.Equal(t, fleet.RolePassenger, usr.Role)
}
