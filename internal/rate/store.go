package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
)

// Store persists water unit rates
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new rate store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const rateColumns = `id, rate_per_unit, effective_from, is_active, created_at`

func scanRate(row pgx.Row) (db.WaterUnitRate, error) {
	var r db.WaterUnitRate
	err := row.Scan(&r.ID, &r.RatePerUnit, &r.EffectiveFrom, &r.IsActive, &r.CreatedAt)
	return r, err
}

// ActiveRate returns the active rate. It fails with apperr.ErrRateNotConfigured
// when no rate has been set.
func (s *Store) ActiveRate(ctx context.Context) (db.WaterUnitRate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rateColumns+`
		FROM water_unit_rates
		WHERE is_active
		ORDER BY effective_from DESC, seq DESC
		LIMIT 1
	`)
	r, err := scanRate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.WaterUnitRate{}, apperr.ErrRateNotConfigured
	}
	if err != nil {
		return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to query active rate: %w", err))
	}
	return r, nil
}

// SetActiveRate deactivates the current rate and activates newRate in one
// transaction. A rate equal to the active one is rejected.
func (s *Store) SetActiveRate(ctx context.Context, newRate float64) (db.WaterUnitRate, error) {
	if newRate <= 0 {
		return db.WaterUnitRate{}, apperr.Validation("rate must be greater than 0")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	var currentID uuid.UUID
	var current float64
	err = tx.QueryRow(ctx, `
		SELECT id, rate_per_unit
		FROM water_unit_rates
		WHERE is_active
		FOR UPDATE
	`).Scan(&currentID, &current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to lock active rate: %w", err))
	case current == newRate:
		return db.WaterUnitRate{}, apperr.Validation("rate %v is already active", newRate)
	default:
		if _, err := tx.Exec(ctx, `UPDATE water_unit_rates SET is_active = false WHERE id = $1`, currentID); err != nil {
			return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to deactivate rate: %w", err))
		}
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		INSERT INTO water_unit_rates (id, rate_per_unit, effective_from, is_active, created_at)
		VALUES ($1, $2, $3, true, $3)
		RETURNING `+rateColumns,
		uuid.New(), newRate, now,
	)
	inserted, err := scanRate(row)
	if err != nil {
		return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to insert rate: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return db.WaterUnitRate{}, db.ClassifyError(fmt.Errorf("failed to commit rate change: %w", err))
	}
	return inserted, nil
}

// History returns every rate, newest first. Rates with the same
// effective_from come back in reverse insertion order.
func (s *Store) History(ctx context.Context) ([]db.WaterUnitRate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+rateColumns+`
		FROM water_unit_rates
		ORDER BY effective_from DESC, seq DESC
	`)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("failed to query rate history: %w", err))
	}
	defer rows.Close()

	rates := []db.WaterUnitRate{}
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(fmt.Errorf("rows iteration error: %w", err))
	}
	return rates, nil
}
