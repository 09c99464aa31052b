package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/anomaly"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/rate"
	"github.com/septivank/water-billing/internal/repository"
	"github.com/septivank/water-billing/internal/validator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnreachable = apperr.Connectivity(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

// memoryRepo mimics the database constraints the service relies on
type memoryRepo struct {
	mu       sync.Mutex
	offline  bool
	houses   map[uuid.UUID]db.House
	readings map[uuid.UUID]db.MeterReading
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		houses:   make(map[uuid.UUID]db.House),
		readings: make(map[uuid.UUID]db.MeterReading),
	}
}

func (r *memoryRepo) setOffline(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = v
}

func (r *memoryRepo) ListHouses(context.Context) ([]db.House, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	houses := []db.House{}
	for _, h := range r.houses {
		h.Readings = r.readingsOf(h.ID)
		houses = append(houses, h)
	}
	repository.SortHouses(houses)
	return houses, nil
}

func (r *memoryRepo) readingsOf(houseID uuid.UUID) []db.MeterReading {
	readings := []db.MeterReading{}
	for _, reading := range r.readings {
		if reading.HouseID == houseID {
			readings = append(readings, reading)
		}
	}
	repository.SortReadings(readings)
	return readings
}

func (r *memoryRepo) GetHouse(_ context.Context, id uuid.UUID) (*db.House, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	h, ok := r.houses[id]
	if !ok {
		return nil, apperr.NotFound("house", id.String())
	}
	h.Readings = r.readingsOf(id)
	return &h, nil
}

func (r *memoryRepo) CreateHouse(_ context.Context, h *db.House) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errUnreachable
	}
	if _, ok := r.houses[h.ID]; ok {
		return nil
	}
	for _, existing := range r.houses {
		if existing.HouseNumber == h.HouseNumber {
			return apperr.Conflict("house number already exists", nil)
		}
	}
	stored := *h
	stored.Readings = nil
	r.houses[h.ID] = stored
	return nil
}

func (r *memoryRepo) UpdateHouse(_ context.Context, id uuid.UUID, houseNumber, ownerName string) (*db.House, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	h, ok := r.houses[id]
	if !ok {
		return nil, apperr.NotFound("house", id.String())
	}
	h.HouseNumber, h.OwnerName = houseNumber, ownerName
	r.houses[id] = h
	return &h, nil
}

func (r *memoryRepo) DeleteHouse(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errUnreachable
	}
	if _, ok := r.houses[id]; !ok {
		return apperr.NotFound("house", id.String())
	}
	delete(r.houses, id)
	for rid, reading := range r.readings {
		if reading.HouseID == id {
			delete(r.readings, rid)
		}
	}
	return nil
}

func (r *memoryRepo) GetReading(_ context.Context, id uuid.UUID) (*db.MeterReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	reading, ok := r.readings[id]
	if !ok {
		return nil, apperr.NotFound("reading", id.String())
	}
	return &reading, nil
}

func (r *memoryRepo) CreateReading(_ context.Context, reading *db.MeterReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errUnreachable
	}
	if _, ok := r.readings[reading.ID]; ok {
		return nil
	}
	if _, ok := r.houses[reading.HouseID]; !ok {
		return apperr.NotFound("house", reading.HouseID.String())
	}
	for _, existing := range r.readings {
		if existing.HouseID == reading.HouseID && existing.MonthKey == reading.MonthKey {
			return apperr.Conflict("a reading for this month is already recorded", nil)
		}
	}
	r.readings[reading.ID] = *reading
	return nil
}

func (r *memoryRepo) UpdateReading(_ context.Context, id uuid.UUID, mutate func(*db.MeterReading) error) (*db.MeterReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	reading, ok := r.readings[id]
	if !ok {
		return nil, apperr.NotFound("reading", id.String())
	}
	if err := mutate(&reading); err != nil {
		return nil, err
	}
	r.readings[id] = reading
	return &reading, nil
}

func (r *memoryRepo) DeleteReading(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errUnreachable
	}
	if _, ok := r.readings[id]; !ok {
		return apperr.NotFound("reading", id.String())
	}
	delete(r.readings, id)
	return nil
}

func (r *memoryRepo) LatestReading(_ context.Context, houseID uuid.UUID) (*db.MeterReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	readings := r.readingsOf(houseID)
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

func (r *memoryRepo) RecentUsage(_ context.Context, houseID uuid.UUID, limit int) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, errUnreachable
	}
	var usage []float64
	for i, reading := range r.readingsOf(houseID) {
		if i == limit {
			break
		}
		usage = append(usage, reading.UnitsUsed)
	}
	return usage, nil
}

// memoryRates keeps the single-active rule of the rate table
type memoryRates struct {
	mu      sync.Mutex
	offline bool
	rates   []db.WaterUnitRate
}

func (m *memoryRates) setOffline(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = v
}

func (m *memoryRates) ActiveRate(context.Context) (db.WaterUnitRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return db.WaterUnitRate{}, errUnreachable
	}
	for _, r := range m.rates {
		if r.IsActive {
			return r, nil
		}
	}
	return db.WaterUnitRate{}, apperr.ErrRateNotConfigured
}

func (m *memoryRates) SetActiveRate(_ context.Context, value float64) (db.WaterUnitRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return db.WaterUnitRate{}, errUnreachable
	}
	if value <= 0 {
		return db.WaterUnitRate{}, apperr.Validation("rate must be greater than 0")
	}
	for i := range m.rates {
		if m.rates[i].IsActive {
			if m.rates[i].RatePerUnit == value {
				return db.WaterUnitRate{}, apperr.Validation("rate %v is already active", value)
			}
			m.rates[i].IsActive = false
		}
	}
	r := db.WaterUnitRate{
		ID:            uuid.New(),
		RatePerUnit:   value,
		EffectiveFrom: time.Now().UTC(),
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	m.rates = append([]db.WaterUnitRate{r}, m.rates...)
	return r, nil
}

func (m *memoryRates) History(context.Context) ([]db.WaterUnitRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, errUnreachable
	}
	return append([]db.WaterUnitRate{}, m.rates...), nil
}

type publishedEvent struct {
	routingKey string
	data       any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, data: data})
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type harness struct {
	svc       *BillingService
	repo      *memoryRepo
	rates     *memoryRates
	queue     *offline.Queue
	publisher *recordingPublisher
	flusher   *offline.Flusher
}

func (h *harness) setOffline(v bool) {
	h.repo.setOffline(v)
	h.rates.setOffline(v)
}

func newHarness(t *testing.T, fallback bool) *harness {
	t.Helper()

	queue, err := offline.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	logger := zap.NewNop()
	repo := newMemoryRepo()
	rates := &memoryRates{}
	publisher := &recordingPublisher{}
	resolver := rate.NewResolver(rates, queue, 5, fallback, logger)

	svc := NewBillingService(
		repo,
		rates,
		resolver,
		queue,
		publisher,
		anomaly.NewDetector(3, 3),
		validator.NewValidator(1<<20),
		nil,
		Options{HistoryWindow: 6},
		logger,
	)

	current := time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		current = current.Add(time.Minute)
		return current
	}

	return &harness{
		svc:       svc,
		repo:      repo,
		rates:     rates,
		queue:     queue,
		publisher: publisher,
		flusher:   offline.NewFlusher(queue, svc, 10, logger, nil),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func mustCreateHouse(t *testing.T, h *harness, number, owner string) *db.House {
	t.Helper()
	house, outcome, err := h.svc.CreateHouse(context.Background(), validator.HouseInput{HouseNumber: number, OwnerName: owner})
	require.NoError(t, err)
	require.False(t, outcome.Queued)
	return house
}
