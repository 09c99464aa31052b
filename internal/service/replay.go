package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/offline"
	"go.uber.org/zap"
)

// Replay applies a queued write through the online path. It implements
// offline.Replayer. Replaying an entry that already reached the database is
// a no-op.
func (s *BillingService) Replay(ctx context.Context, entry offline.Entry) error {
	logger := s.logger.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("kind", string(entry.Kind)))

	switch entry.Kind {
	case offline.KindReadingInsert:
		var reading db.MeterReading
		if err := decodePayload(entry, &reading); err != nil {
			return err
		}
		if err := s.repo.CreateReading(ctx, &reading); err != nil {
			return err
		}
		s.metrics.ReadingRecorded("replayed")
		s.publish(ctx, EventReadingCreated, ReadingEvent{Reading: &reading})

	case offline.KindReadingUpdate:
		var change ReadingChange
		if err := decodePayload(entry, &change); err != nil {
			return err
		}
		updated, err := s.applyReadingChange(ctx, change)
		if err != nil {
			return err
		}
		s.publish(ctx, EventReadingUpdated, updated)

	case offline.KindReadingDelete:
		var ref EntityRef
		if err := decodePayload(entry, &ref); err != nil {
			return err
		}
		err := s.repo.DeleteReading(ctx, ref.ID)
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		s.publish(ctx, EventReadingDeleted, ref)

	case offline.KindHouseCreate:
		var h db.House
		if err := decodePayload(entry, &h); err != nil {
			return err
		}
		if err := s.repo.CreateHouse(ctx, &h); err != nil {
			return err
		}
		s.publish(ctx, EventHouseCreated, h)

	case offline.KindHouseUpdate:
		var change HouseChange
		if err := decodePayload(entry, &change); err != nil {
			return err
		}
		h, err := s.repo.UpdateHouse(ctx, change.ID, change.HouseNumber, change.OwnerName)
		if err != nil {
			return err
		}
		s.publish(ctx, EventHouseUpdated, h)

	case offline.KindHouseDelete:
		var ref EntityRef
		if err := decodePayload(entry, &ref); err != nil {
			return err
		}
		err := s.repo.DeleteHouse(ctx, ref.ID)
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		s.publish(ctx, EventHouseDeleted, ref)

	case offline.KindRateSet:
		var change RateChange
		if err := decodePayload(entry, &change); err != nil {
			return err
		}
		current, err := s.rates.ActiveRate(ctx)
		switch {
		case err == nil && current.RatePerUnit == change.RatePerUnit:
			logger.Info("queued rate already active")
			return nil
		case err != nil && !apperr.IsKind(err, apperr.KindRateNotConfigured):
			return err
		}
		active, err := s.rates.SetActiveRate(ctx, change.RatePerUnit)
		if err != nil {
			return err
		}
		s.resolver.Remember(ctx, active.RatePerUnit)
		s.publish(ctx, EventRateChanged, active)

	default:
		return apperr.Validation("unknown offline entry kind %q", entry.Kind)
	}

	logger.Info("offline entry replayed")
	return nil
}

func decodePayload(entry offline.Entry, dst any) error {
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: fmt.Sprintf("malformed %s payload", entry.Kind),
			Err:     err,
		}
	}
	return nil
}
