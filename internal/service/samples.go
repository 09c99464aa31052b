package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/billing"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/validator"
	"github.com/septivank/water-billing/tools/monthkey"
	"go.uber.org/zap"
)

// ImportReport counts what a sample import stored
type ImportReport struct {
	Source          sample.Source `json:"source"`
	HousesCreated   int           `json:"houses_created"`
	HousesSkipped   int           `json:"houses_skipped"`
	ReadingsCreated int           `json:"readings_created"`
	ReadingsSkipped int           `json:"readings_skipped"`
}

// ImportSamples stores sample houses and their readings billed at the sample
// rate. Houses whose number already exists and invalid readings are skipped.
// Sample imports need the database and are never queued.
func (s *BillingService) ImportSamples(ctx context.Context, houses []sample.House, source sample.Source) (ImportReport, error) {
	report := ImportReport{Source: source}

	for _, sh := range houses {
		in, err := s.validator.ValidateHouse(validator.HouseInput{HouseNumber: sh.HouseNumber, OwnerName: sh.OwnerName})
		if err != nil {
			s.logger.Warn("skipping invalid sample house", zap.String("house_number", sh.HouseNumber), zap.Error(err))
			report.HousesSkipped++
			continue
		}

		h := &db.House{ID: uuid.New(), HouseNumber: in.HouseNumber, OwnerName: in.OwnerName, CreatedAt: s.now()}
		err = s.repo.CreateHouse(ctx, h)
		if apperr.IsKind(err, apperr.KindConflict) {
			report.HousesSkipped++
			continue
		}
		if err != nil {
			return report, err
		}
		report.HousesCreated++

		for _, sr := range sh.Readings {
			reading, ok := sampleReading(h.ID, sr)
			if !ok {
				s.logger.Warn("skipping invalid sample reading",
					zap.String("house_number", h.HouseNumber),
					zap.String("month_key", sr.MonthKey))
				report.ReadingsSkipped++
				continue
			}
			err := s.repo.CreateReading(ctx, reading)
			if apperr.IsKind(err, apperr.KindConflict) {
				report.ReadingsSkipped++
				continue
			}
			if err != nil {
				return report, err
			}
			report.ReadingsCreated++
		}
	}

	s.logger.Info("sample data imported",
		zap.String("source", string(source)),
		zap.Int("houses_created", report.HousesCreated),
		zap.Int("readings_created", report.ReadingsCreated))
	return report, nil
}

func sampleReading(houseID uuid.UUID, sr sample.Reading) (*db.MeterReading, bool) {
	label, err := monthkey.Label(sr.MonthKey)
	if err != nil {
		return nil, false
	}
	calc, err := billing.Calculate(sr.PreviousReading, sr.CurrentReading, sample.Rate)
	if err != nil {
		return nil, false
	}
	recorded := sr.DateRecorded
	if recorded.IsZero() {
		at, err := monthkey.Parse(sr.MonthKey)
		if err != nil {
			return nil, false
		}
		recorded = at.AddDate(0, 1, -1)
	}
	return &db.MeterReading{
		ID:              uuid.New(),
		HouseID:         houseID,
		MonthKey:        sr.MonthKey,
		Month:           label,
		PreviousReading: sr.PreviousReading,
		CurrentReading:  sr.CurrentReading,
		UnitsUsed:       calc.UnitsUsed,
		RatePerUnit:     sample.Rate,
		TotalAmount:     calc.TotalAmount,
		DateRecorded:    recorded,
		CreatedAt:       recorded,
	}, true
}
