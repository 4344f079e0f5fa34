package shipment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the shipment does not exist.
var ErrNotFound = errors.New("shipment: not found")

// Repository defines the data access required by the service.
type Repository interface {
	Create(ctx context.Context, s Shipment) (Shipment, error)
	ByID(ctx context.Context, id string) (Shipment, error)
	ListByUser(ctx context.Context, userID string) ([]Shipment, error)
	UpdateStatus(ctx context.Context, shipmentID string, statusID int64) error
	HistoryByShipmentID(ctx context.Context, shipmentID string) ([]HistoryEntry, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed shipment repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const shipmentColumns = `
	id, tracking_code, user_id, origin_city_id, destination_city_id,
	package_weight_kg, package_length_cm, package_width_cm, package_height_cm,
	calculated_weight_kg, quoted_value, current_status_id, created_at, updated_at
`

// Create inserts the shipment and its initial history row in one transaction.
func (r *PGRepository) Create(ctx context.Context, s Shipment) (Shipment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertSQL := `
		INSERT INTO shipments (
			id, tracking_code, user_id, origin_city_id, destination_city_id,
			package_weight_kg, package_length_cm, package_width_cm, package_height_cm,
			calculated_weight_kg, quoted_value, current_status_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING ` + shipmentColumns

	created, err := scanShipment(tx.QueryRow(ctx, insertSQL,
		s.ID,
		s.TrackingCode,
		s.UserID,
		s.OriginCityID,
		s.DestinationCityID,
		s.PackageWeightKg,
		s.PackageLengthCm,
		s.PackageWidthCm,
		s.PackageHeightCm,
		s.CalculatedWeightKg,
		s.QuotedValue,
		s.CurrentStatusID,
	))
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: insert: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status_id)
		VALUES ($1, $2)
	`, created.ID, created.CurrentStatusID); err != nil {
		return Shipment{}, fmt.Errorf("shipment: insert initial history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("shipment: commit: %w", err)
	}

	return created, nil
}

// ByID fetches a shipment by its primary key.
func (r *PGRepository) ByID(ctx context.Context, id string) (Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`

	s, err := scanShipment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: query by id: %w", err)
	}

	return s, nil
}

// ListByUser fetches a user's shipments, newest first.
func (r *PGRepository) ListByUser(ctx context.Context, userID string) ([]Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("shipment: list by user: %w", err)
	}
	defer rows.Close()

	shipments := []Shipment{}
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("shipment: scan: %w", err)
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate: %w", err)
	}

	return shipments, nil
}

// UpdateStatus moves the shipment to statusID and appends the history row in
// one transaction. The notify_shipment_status trigger fires on this commit,
// which is what feeds the realtime tracking pipeline.
func (r *PGRepository) UpdateStatus(ctx context.Context, shipmentID string, statusID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("shipment: begin status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	if err := tx.QueryRow(ctx, `SELECT current_status_id FROM shipments WHERE id = $1 FOR UPDATE`, shipmentID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("shipment: lock current status: %w", err)
	}
	if current == statusID {
		// Raced with an identical transition; nothing to record.
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE shipments
		SET current_status_id = $1, updated_at = now()
		WHERE id = $2
	`, statusID, shipmentID); err != nil {
		return fmt.Errorf("shipment: update status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status_id)
		VALUES ($1, $2)
	`, shipmentID, statusID); err != nil {
		return fmt.Errorf("shipment: insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("shipment: commit status: %w", err)
	}

	return nil
}

// HistoryByShipmentID fetches the status history ordered by timestamp ascending.
func (r *PGRepository) HistoryByShipmentID(ctx context.Context, shipmentID string) ([]HistoryEntry, error) {
	const query = `
		SELECT h.id, h.shipment_id, h.status_id, s.name, h.created_at
		FROM shipment_status_history h
		JOIN shipment_statuses s ON s.id = h.status_id
		WHERE h.shipment_id = $1
		ORDER BY h.created_at ASC, h.id ASC
	`

	rows, err := r.pool.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("shipment: query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.StatusID, &e.StatusName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("shipment: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate history: %w", err)
	}

	return entries, nil
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var s Shipment
	err := row.Scan(
		&s.ID,
		&s.TrackingCode,
		&s.UserID,
		&s.OriginCityID,
		&s.DestinationCityID,
		&s.PackageWeightKg,
		&s.PackageLengthCm,
		&s.PackageWidthCm,
		&s.PackageHeightCm,
		&s.CalculatedWeightKg,
		&s.QuotedValue,
		&s.CurrentStatusID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Shipment{}, err
	}
	return s, nil
}
