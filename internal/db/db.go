package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bustracker/internal/fleet"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// FetchRoutes returns the full route collection.
func FetchRoutes(ctx context.Context, db *sql.DB) ([]fleet.Route, error) {
	q := `SELECT id, name, start_point, end_point, stops FROM routes ORDER BY id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	m := pgtype.NewMap()
	routes := []fleet.Route{}
	for rows.Next() {
		var r fleet.Route
		if err := rows.Scan(&r.ID, &r.Name, &r.StartPoint, &r.EndPoint, m.SQLScanner(&r.Stops)); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// FetchBusesByRoute is a point-in-time query for the buses assigned to routeID.
func FetchBusesByRoute(ctx context.Context, db *sql.DB, routeID string) ([]fleet.Bus, error) {
	q := `SELECT id, number, route_id, driver_id FROM buses WHERE route_id = $1 ORDER BY number, id`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()

	buses := []fleet.Bus{}
	for rows.Next() {
		var b fleet.Bus
		if err := rows.Scan(&b.ID, &b.Number, &b.RouteID, &b.DriverID); err != nil {
			return nil, fmt.Errorf("scan bus: %w", err)
		}
		buses = append(buses, b)
	}
	return buses, rows.Err()
}

// FetchLocations returns every stored location record.
func FetchLocations(ctx context.Context, db *sql.DB) ([]fleet.LiveLocation, error) {
	q := `SELECT bus_id, latitude, longitude, ts, speed, heading FROM locations`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var locs []fleet.LiveLocation
	for rows.Next() {
		var l fleet.LiveLocation
		if err := rows.Scan(&l.BusID, &l.Latitude, &l.Longitude, &l.Timestamp, &l.Speed, &l.Heading); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

// UpsertLocation overwrites the stored location for loc.BusID.
func UpsertLocation(ctx context.Context, db *sql.DB, loc fleet.LiveLocation) error {
	q := `
INSERT INTO locations (bus_id, latitude, longitude, ts, speed, heading)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (bus_id) DO UPDATE SET
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    ts = EXCLUDED.ts,
    speed = EXCLUDED.speed,
    heading = EXCLUDED.heading`
	if _, err := db.ExecContext(ctx, q, loc.BusID, loc.Latitude, loc.Longitude, loc.Timestamp, loc.Speed, loc.Heading); err != nil {
		return fmt.Errorf("upsert location %s: %w", loc.BusID, err)
	}
	return nil
}

// Buses adapts a *sql.DB to the tracker's bus source.
type Buses struct{ DB *sql.DB }

func (b Buses) BusesByRoute(ctx context.Context, routeID string) ([]fleet.Bus, error) {
	return FetchBusesByRoute(ctx, b.DB, routeID)
}

// Routes adapts a *sql.DB to the catalog's route source.
type Routes struct{ DB *sql.DB }

func (r Routes) AllRoutes(ctx context.Context) ([]fleet.Route, error) {
	return FetchRoutes(ctx, r.DB)
}

// Locations adapts a *sql.DB to the reporter's location store.
type Locations struct{ DB *sql.DB }

func (l Locations) UpsertLocation(ctx context.Context, loc fleet.LiveLocation) error {
	return UpsertLocation(ctx, l.DB, loc)
}
