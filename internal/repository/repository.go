package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
)

const readingColumns = `
	id, house_id, month_key, month, previous_reading, current_reading,
	units_used, rate_per_unit, total_amount, date_recorded, meter_image, created_at
`

// Repository handles house and meter reading persistence
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (db.MeterReading, error) {
	var r db.MeterReading
	err := row.Scan(
		&r.ID,
		&r.HouseID,
		&r.MonthKey,
		&r.Month,
		&r.PreviousReading,
		&r.CurrentReading,
		&r.UnitsUsed,
		&r.RatePerUnit,
		&r.TotalAmount,
		&r.DateRecorded,
		&r.MeterImage,
		&r.CreatedAt,
	)
	return r, err
}

// ListHouses returns all houses oldest first, each with its readings newest first
func (r *Repository) ListHouses(ctx context.Context) ([]db.House, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, house_number, owner_name, created_at
		FROM houses
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query houses: %w", err))
	}
	defer rows.Close()

	houses := []db.House{}
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var h db.House
		if err := rows.Scan(&h.ID, &h.HouseNumber, &h.OwnerName, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan house: %w", err)
		}
		h.Readings = []db.MeterReading{}
		index[h.ID] = len(houses)
		houses = append(houses, h)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("rows iteration error: %w", err))
	}

	readingRows, err := r.pool.Query(ctx, `SELECT `+readingColumns+`
		FROM meter_readings
		ORDER BY house_id, date_recorded DESC
	`)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query readings: %w", err))
	}
	defer readingRows.Close()

	for readingRows.Next() {
		reading, err := scanReading(readingRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if i, ok := index[reading.HouseID]; ok {
			houses[i].Readings = append(houses[i].Readings, reading)
		}
	}
	if err := readingRows.Err(); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("rows iteration error: %w", err))
	}

	SortHouses(houses)
	return houses, nil
}

// SortHouses enforces the listing order: houses by creation ascending and
// readings within a house by date recorded descending. Both sorts are stable.
func SortHouses(houses []db.House) {
	sort.SliceStable(houses, func(i, j int) bool {
		return houses[i].CreatedAt.Before(houses[j].CreatedAt)
	})
	for i := range houses {
		SortReadings(houses[i].Readings)
	}
}

// SortReadings orders readings newest first
func SortReadings(readings []db.MeterReading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].DateRecorded.After(readings[j].DateRecorded)
	})
}

// GetHouse returns a single house with its readings
func (r *Repository) GetHouse(ctx context.Context, id uuid.UUID) (*db.House, error) {
	var h db.House
	err := r.pool.QueryRow(ctx, `
		SELECT id, house_number, owner_name, created_at
		FROM houses
		WHERE id = $1
	`, id).Scan(&h.ID, &h.HouseNumber, &h.OwnerName, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("house", id.String())
	}
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query house: %w", err))
	}

	rows, err := r.pool.Query(ctx, `SELECT `+readingColumns+`
		FROM meter_readings
		WHERE house_id = $1
		ORDER BY date_recorded DESC
	`, id)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query readings: %w", err))
	}
	defer rows.Close()

	h.Readings = []db.MeterReading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		h.Readings = append(h.Readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("rows iteration error: %w", err))
	}

	SortReadings(h.Readings)
	return &h, nil
}

// CreateHouse inserts a house. Replaying an insert with the same id is a no-op.
func (r *Repository) CreateHouse(ctx context.Context, h *db.House) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO houses (id, house_number, owner_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, h.ID, h.HouseNumber, h.OwnerName, h.CreatedAt)
	if err != nil {
		return db.ClassifyError(fmt.Errorf("failed to create house: %w", err))
	}
	return nil
}

// UpdateHouse changes the display fields of a house
func (r *Repository) UpdateHouse(ctx context.Context, id uuid.UUID, houseNumber, ownerName string) (*db.House, error) {
	var h db.House
	err := r.pool.QueryRow(ctx, `
		UPDATE houses
		SET house_number = $2, owner_name = $3
		WHERE id = $1
		RETURNING id, house_number, owner_name, created_at
	`, id, houseNumber, ownerName).Scan(&h.ID, &h.HouseNumber, &h.OwnerName, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("house", id.String())
	}
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to update house: %w", err))
	}
	return &h, nil
}

// DeleteHouse removes a house; its readings are removed by the foreign key cascade
func (r *Repository) DeleteHouse(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM houses WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(fmt.Errorf("failed to delete house: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("house", id.String())
	}
	return nil
}

// GetReading returns a single reading
func (r *Repository) GetReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error) {
	reading, err := scanReading(r.pool.QueryRow(ctx, `SELECT `+readingColumns+`
		FROM meter_readings
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reading", id.String())
	}
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query reading: %w", err))
	}
	return &reading, nil
}

// CreateReading inserts a reading. A second reading for the same house and
// month fails with a conflict; replaying an insert with the same id is a no-op.
func (r *Repository) CreateReading(ctx context.Context, reading *db.MeterReading) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO meter_readings (
			id, house_id, month_key, month, previous_reading, current_reading,
			units_used, rate_per_unit, total_amount, date_recorded, meter_image, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`,
		reading.ID,
		reading.HouseID,
		reading.MonthKey,
		reading.Month,
		reading.PreviousReading,
		reading.CurrentReading,
		reading.UnitsUsed,
		reading.RatePerUnit,
		reading.TotalAmount,
		reading.DateRecorded,
		reading.MeterImage,
		reading.CreatedAt,
	)
	if err != nil {
		return db.ClassifyError(fmt.Errorf("failed to insert meter reading: %w", err))
	}
	return nil
}

// UpdateReading locks the reading, lets mutate change it, and writes it back
// in one transaction. mutate sees the stored rate snapshot.
func (r *Repository) UpdateReading(ctx context.Context, id uuid.UUID, mutate func(*db.MeterReading) error) (*db.MeterReading, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	reading, err := scanReading(tx.QueryRow(ctx, `SELECT `+readingColumns+`
		FROM meter_readings
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reading", id.String())
	}
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to lock reading: %w", err))
	}

	if err := mutate(&reading); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE meter_readings
		SET month_key = $2, month = $3, previous_reading = $4, current_reading = $5,
			units_used = $6, total_amount = $7, meter_image = $8
		WHERE id = $1
	`,
		reading.ID,
		reading.MonthKey,
		reading.Month,
		reading.PreviousReading,
		reading.CurrentReading,
		reading.UnitsUsed,
		reading.TotalAmount,
		reading.MeterImage,
	)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to update meter reading: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return &reading, nil
}

// DeleteReading removes a reading
func (r *Repository) DeleteReading(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM meter_readings WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(fmt.Errorf("failed to delete meter reading: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("reading", id.String())
	}
	return nil
}

// LatestReading returns the most recently recorded reading of a house, or nil
func (r *Repository) LatestReading(ctx context.Context, houseID uuid.UUID) (*db.MeterReading, error) {
	reading, err := scanReading(r.pool.QueryRow(ctx, `SELECT `+readingColumns+`
		FROM meter_readings
		WHERE house_id = $1
		ORDER BY date_recorded DESC
		LIMIT 1
	`, houseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query latest reading: %w", err))
	}
	return &reading, nil
}

// RecentUsage gets units used of the most recent readings for anomaly detection
func (r *Repository) RecentUsage(ctx context.Context, houseID uuid.UUID, limit int) ([]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT units_used
		FROM meter_readings
		WHERE house_id = $1
		ORDER BY date_recorded DESC
		LIMIT $2
	`, houseID, limit)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query recent usage: %w", err))
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("rows iteration error: %w", err))
	}

	return values, nil
}
