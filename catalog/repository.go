package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested catalog row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Repository provides read access to cities, rates, and statuses.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CityByID fetches a city by its primary key.
func (r *Repository) CityByID(ctx context.Context, id int64) (City, error) {
	const query = `
		SELECT id, name, state, zone_id
		FROM cities
		WHERE id = $1
	`

	var city City
	err := r.pool.QueryRow(ctx, query, id).Scan(&city.ID, &city.Name, &city.State, &city.ZoneID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return City{}, ErrNotFound
		}
		return City{}, fmt.Errorf("catalog: query city by id: %w", err)
	}

	return city, nil
}

// Cities fetches every serviceable city ordered by name.
func (r *Repository) Cities(ctx context.Context) ([]City, error) {
	const query = `
		SELECT id, name, state, zone_id
		FROM cities
		ORDER BY name ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list cities: %w", err)
	}
	defer rows.Close()

	cities := []City{}
	for rows.Next() {
		var city City
		if err := rows.Scan(&city.ID, &city.Name, &city.State, &city.ZoneID); err != nil {
			return nil, fmt.Errorf("catalog: scan city: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate cities: %w", err)
	}

	return cities, nil
}

// RateByZonePair fetches the directional rate covering origin -> destination.
func (r *Repository) RateByZonePair(ctx context.Context, originZoneID, destinationZoneID int64) (Rate, error) {
	const query = `
		SELECT id, origin_zone_id, destination_zone_id, price_per_kg
		FROM rates
		WHERE origin_zone_id = $1 AND destination_zone_id = $2
	`

	var rate Rate
	err := r.pool.QueryRow(ctx, query, originZoneID, destinationZoneID).Scan(
		&rate.ID,
		&rate.OriginZoneID,
		&rate.DestinationZoneID,
		&rate.PricePerKg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rate{}, ErrNotFound
		}
		return Rate{}, fmt.Errorf("catalog: query rate by zone pair: %w", err)
	}

	return rate, nil
}

// StatusByID fetches a shipment status by its primary key.
func (r *Repository) StatusByID(ctx context.Context, id int64) (Status, error) {
	const query = `
		SELECT id, name, description
		FROM shipment_statuses
		WHERE id = $1
	`

	var status Status
	err := r.pool.QueryRow(ctx, query, id).Scan(&status.ID, &status.Name, &status.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrNotFound
		}
		return Status{}, fmt.Errorf("catalog: query status by id: %w", err)
	}

	return status, nil
}

// Statuses fetches the full status catalog ordered by id.
func (r *Repository) Statuses(ctx context.Context) ([]Status, error) {
	const query = `
		SELECT id, name, description
		FROM shipment_statuses
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list statuses: %w", err)
	}
	defer rows.Close()

	statuses := []Status{}
	for rows.Next() {
		var status Status
		if err := rows.Scan(&status.ID, &status.Name, &status.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan status: %w", err)
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate statuses: %w", err)
	}

	return statuses, nil
}
