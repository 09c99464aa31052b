package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/repository"
	"github.com/septivank/water-billing/internal/validator"
	"go.uber.org/zap"
)

// HouseChange is the queued payload of a house update
type HouseChange struct {
	ID          uuid.UUID `json:"id"`
	HouseNumber string    `json:"house_number"`
	OwnerName   string    `json:"owner_name"`
}

// EntityRef is the queued payload of a delete
type EntityRef struct {
	ID uuid.UUID `json:"id"`
}

// ListHouses returns every house with its readings. When the database is
// unreachable the last successful listing is returned with stale set.
func (s *BillingService) ListHouses(ctx context.Context) (houses []db.House, stale bool, err error) {
	houses, err = s.repo.ListHouses(ctx)
	if err == nil {
		if cacheErr := s.queue.PutCache(ctx, housesCacheKey, houses); cacheErr != nil {
			s.logger.Warn("failed to cache house listing", zap.Error(cacheErr))
		}
		return houses, false, nil
	}
	if !apperr.IsKind(err, apperr.KindConnectivity) {
		return nil, false, err
	}
	s.connectivityLost()

	var cached []db.House
	ok, cacheErr := s.queue.GetCache(ctx, housesCacheKey, &cached)
	if cacheErr != nil || !ok {
		return nil, false, err
	}
	s.logger.Warn("database unreachable, serving cached house listing", zap.Int("houses", len(cached)))
	repository.SortHouses(cached)
	return cached, true, nil
}

// SearchHouses filters the listing by house number or owner name, ignoring case
func (s *BillingService) SearchHouses(ctx context.Context, query string) ([]db.House, bool, error) {
	houses, stale, err := s.ListHouses(ctx)
	if err != nil {
		return nil, false, err
	}
	return FilterHouses(houses, query), stale, nil
}

// FilterHouses keeps houses whose number or owner contains query
func FilterHouses(houses []db.House, query string) []db.House {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return houses
	}
	matched := []db.House{}
	for _, h := range houses {
		if strings.Contains(strings.ToLower(h.HouseNumber), query) ||
			strings.Contains(strings.ToLower(h.OwnerName), query) {
			matched = append(matched, h)
		}
	}
	return matched
}

// GetHouse returns one house with its readings
func (s *BillingService) GetHouse(ctx context.Context, id uuid.UUID) (*db.House, error) {
	return s.repo.GetHouse(ctx, id)
}

// CreateHouse adds a house
func (s *BillingService) CreateHouse(ctx context.Context, in validator.HouseInput) (*db.House, Outcome, error) {
	in, err := s.validator.ValidateHouse(in)
	if err != nil {
		return nil, Outcome{}, err
	}

	h := &db.House{
		ID:          uuid.New(),
		HouseNumber: in.HouseNumber,
		OwnerName:   in.OwnerName,
		CreatedAt:   s.now(),
		Readings:    []db.MeterReading{},
	}

	err = s.repo.CreateHouse(ctx, h)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		outcome, qErr := s.enqueue(ctx, offline.KindHouseCreate, h, err)
		if qErr != nil {
			return nil, Outcome{}, qErr
		}
		return h, outcome, nil
	}
	if err != nil {
		return nil, Outcome{}, err
	}

	s.logger.Info("house created",
		zap.String("house_id", h.ID.String()),
		zap.String("house_number", h.HouseNumber))
	s.publish(ctx, EventHouseCreated, h)
	return h, Outcome{}, nil
}

// UpdateHouse changes a house's number and owner
func (s *BillingService) UpdateHouse(ctx context.Context, id uuid.UUID, in validator.HouseInput) (*db.House, Outcome, error) {
	in, err := s.validator.ValidateHouse(in)
	if err != nil {
		return nil, Outcome{}, err
	}

	h, err := s.repo.UpdateHouse(ctx, id, in.HouseNumber, in.OwnerName)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		change := HouseChange{ID: id, HouseNumber: in.HouseNumber, OwnerName: in.OwnerName}
		outcome, qErr := s.enqueue(ctx, offline.KindHouseUpdate, change, err)
		return nil, outcome, qErr
	}
	if err != nil {
		return nil, Outcome{}, err
	}

	s.publish(ctx, EventHouseUpdated, h)
	return h, Outcome{}, nil
}

// DeleteHouse removes a house and all its readings
func (s *BillingService) DeleteHouse(ctx context.Context, id uuid.UUID) (Outcome, error) {
	err := s.repo.DeleteHouse(ctx, id)
	if apperr.IsKind(err, apperr.KindConnectivity) {
		return s.enqueue(ctx, offline.KindHouseDelete, EntityRef{ID: id}, err)
	}
	if err != nil {
		return Outcome{}, err
	}

	s.logger.Info("house deleted", zap.String("house_id", id.String()))
	s.publish(ctx, EventHouseDeleted, EntityRef{ID: id})
	return Outcome{}, nil
}
