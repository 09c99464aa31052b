package service

import (
	"context"
	"time"

	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/offline"
	"go.uber.org/zap"
)

// RateChange is the queued payload of a rate change
type RateChange struct {
	RatePerUnit float64   `json:"rate_per_unit"`
	RequestedAt time.Time `json:"requested_at"`
}

// ActiveRate returns the active rate, or apperr.ErrRateNotConfigured
func (s *BillingService) ActiveRate(ctx context.Context) (db.WaterUnitRate, error) {
	active, err := s.rates.ActiveRate(ctx)
	if err != nil {
		return db.WaterUnitRate{}, err
	}
	s.resolver.Remember(ctx, active.RatePerUnit)
	return active, nil
}

// RateHistory lists every rate, newest first
func (s *BillingService) RateHistory(ctx context.Context) ([]db.WaterUnitRate, error) {
	return s.rates.History(ctx)
}

// SetRate activates a new per-unit rate. Existing readings keep the rate
// they were recorded with.
func (s *BillingService) SetRate(ctx context.Context, ratePerUnit float64) (*db.WaterUnitRate, Outcome, error) {
	if ratePerUnit <= 0 {
		return nil, Outcome{}, apperr.Validation("rate must be greater than 0")
	}

	active, err := s.rates.SetActiveRate(ctx, ratePerUnit)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		change := RateChange{RatePerUnit: ratePerUnit, RequestedAt: s.now()}
		outcome, qErr := s.enqueue(ctx, offline.KindRateSet, change, err)
		if qErr != nil {
			return nil, Outcome{}, qErr
		}
		s.resolver.Remember(ctx, ratePerUnit)
		return nil, outcome, nil
	}
	if err != nil {
		return nil, Outcome{}, err
	}

	s.resolver.Remember(ctx, active.RatePerUnit)
	s.logger.Info("water rate changed", zap.Float64("rate_per_unit", active.RatePerUnit))
	s.publish(ctx, EventRateChanged, active)
	return &active, Outcome{}, nil
}
