package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/billing"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/validator"
	"github.com/septivank/water-billing/tools/monthkey"
	"go.uber.org/zap"
)

// RecordResult is the outcome of recording a reading
type RecordResult struct {
	Reading     *db.MeterReading `json:"reading"`
	Outcome     Outcome          `json:"outcome"`
	Spike       bool             `json:"usage_spike"`
	SpikeReason string           `json:"usage_spike_reason,omitempty"`
}

// ReadingEvent is published when a reading is recorded
type ReadingEvent struct {
	Reading     *db.MeterReading `json:"reading"`
	Spike       bool             `json:"usage_spike"`
	SpikeReason string           `json:"usage_spike_reason,omitempty"`
}

// ReadingChange is the queued payload of a reading update
type ReadingChange struct {
	ID              uuid.UUID `json:"id"`
	MonthKey        string    `json:"month_key,omitempty"`
	PreviousReading *float64  `json:"previous_reading,omitempty"`
	CurrentReading  *float64  `json:"current_reading,omitempty"`
	MeterImage      *string   `json:"meter_image,omitempty"`
}

func (c ReadingChange) input() validator.ReadingInput {
	return validator.ReadingInput{
		MonthKey:        c.MonthKey,
		PreviousReading: c.PreviousReading,
		CurrentReading:  c.CurrentReading,
		MeterImage:      c.MeterImage,
	}
}

// GetReading returns one reading
func (s *BillingService) GetReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error) {
	return s.repo.GetReading(ctx, id)
}

// RecordReading computes and stores a monthly reading for a house. The rate
// in effect now is captured into the reading. An omitted previous reading
// defaults to the latest current reading of the house, or 0 for its first.
func (s *BillingService) RecordReading(ctx context.Context, houseID uuid.UUID, in validator.ReadingInput) (*RecordResult, error) {
	if in.PreviousReading == nil {
		latest, err := s.repo.LatestReading(ctx, houseID)
		switch {
		case apperr.IsKind(err, apperr.KindConnectivity):
			return nil, apperr.Validation("previous reading is required while the database is unreachable")
		case err != nil:
			return nil, err
		}
		previous := 0.0
		if latest != nil {
			previous = latest.CurrentReading
		}
		in.PreviousReading = &previous
	}

	label, err := s.validator.ValidateReading(in)
	if err != nil {
		return nil, err
	}

	rate, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	calc, err := billing.Calculate(*in.PreviousReading, *in.CurrentReading, rate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reading := &db.MeterReading{
		ID:              uuid.New(),
		HouseID:         houseID,
		MonthKey:        in.MonthKey,
		Month:           label,
		PreviousReading: *in.PreviousReading,
		CurrentReading:  *in.CurrentReading,
		UnitsUsed:       calc.UnitsUsed,
		RatePerUnit:     rate,
		TotalAmount:     calc.TotalAmount,
		DateRecorded:    now,
		MeterImage:      in.MeterImage,
		CreatedAt:       now,
	}

	logger := s.logger.With(
		zap.String("house_id", houseID.String()),
		zap.String("month_key", reading.MonthKey))

	result := &RecordResult{Reading: reading}
	history, err := s.repo.RecentUsage(ctx, houseID, s.opts.HistoryWindow)
	if err != nil {
		logger.Warn("failed to get usage history for spike detection", zap.Error(err))
	} else {
		result.Spike, result.SpikeReason = s.detector.DetectUsageSpike(reading.UnitsUsed, history)
	}

	err = s.repo.CreateReading(ctx, reading)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		outcome, qErr := s.enqueue(ctx, offline.KindReadingInsert, reading, err)
		if qErr != nil {
			return nil, qErr
		}
		s.metrics.ReadingRecorded("queued")
		result.Outcome = outcome
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ReadingRecorded("online")
	if result.Spike {
		logger.Warn("usage spike detected",
			zap.Float64("units_used", reading.UnitsUsed),
			zap.String("reason", result.SpikeReason))
	}
	logger.Info("meter reading recorded",
		zap.String("reading_id", reading.ID.String()),
		zap.Float64("units_used", reading.UnitsUsed),
		zap.Float64("rate_per_unit", reading.RatePerUnit),
		zap.Float64("total_amount", reading.TotalAmount))

	s.publish(ctx, EventReadingCreated, ReadingEvent{
		Reading:     reading,
		Spike:       result.Spike,
		SpikeReason: result.SpikeReason,
	})
	return result, nil
}

// UpdateReading edits a reading. Units and total are recomputed with the
// rate stored on the reading, never the current rate.
func (s *BillingService) UpdateReading(ctx context.Context, id uuid.UUID, change ReadingChange) (*db.MeterReading, Outcome, error) {
	change.ID = id
	if err := s.prevalidateChange(change); err != nil {
		return nil, Outcome{}, err
	}

	updated, err := s.applyReadingChange(ctx, change)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		outcome, qErr := s.enqueue(ctx, offline.KindReadingUpdate, change, err)
		return nil, outcome, qErr
	}
	if err != nil {
		return nil, Outcome{}, err
	}

	s.publish(ctx, EventReadingUpdated, updated)
	return updated, Outcome{}, nil
}

// prevalidateChange rejects what can be rejected without the stored reading
func (s *BillingService) prevalidateChange(change ReadingChange) error {
	if change.MonthKey != "" {
		if _, err := monthkey.Parse(change.MonthKey); err != nil {
			return apperr.Validation("month key %q must use the YYYY-MM format", change.MonthKey)
		}
	}
	if change.PreviousReading != nil && change.CurrentReading != nil {
		if _, err := billing.Calculate(*change.PreviousReading, *change.CurrentReading, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *BillingService) applyReadingChange(ctx context.Context, change ReadingChange) (*db.MeterReading, error) {
	return s.repo.UpdateReading(ctx, change.ID, func(r *db.MeterReading) error {
		in := change.input()
		if in.MonthKey == "" {
			in.MonthKey = r.MonthKey
		}
		if in.PreviousReading == nil {
			in.PreviousReading = &r.PreviousReading
		}
		if in.CurrentReading == nil {
			in.CurrentReading = &r.CurrentReading
		}

		label, err := s.validator.ValidateReading(in)
		if err != nil {
			return err
		}
		calc, err := billing.Calculate(*in.PreviousReading, *in.CurrentReading, r.RatePerUnit)
		if err != nil {
			return err
		}

		r.MonthKey = in.MonthKey
		r.Month = label
		r.PreviousReading = *in.PreviousReading
		r.CurrentReading = *in.CurrentReading
		r.UnitsUsed = calc.UnitsUsed
		r.TotalAmount = calc.TotalAmount
		if in.MeterImage != nil {
			r.MeterImage = in.MeterImage
		}
		return nil
	})
}

// DeleteReading removes a reading
func (s *BillingService) DeleteReading(ctx context.Context, id uuid.UUID) (Outcome, error) {
	err := s.repo.DeleteReading(ctx, id)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		return s.enqueue(ctx, offline.KindReadingDelete, EntityRef{ID: id}, err)
	}
	if err != nil {
		return Outcome{}, err
	}

	s.publish(ctx, EventReadingDeleted, EntityRef{ID: id})
	return Outcome{}, nil
}
