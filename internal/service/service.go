package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/anomaly"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/metrics"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/validator"
	"go.uber.org/zap"
)

// Repository persists houses and readings
type Repository interface {
	ListHouses(ctx context.Context) ([]db.House, error)
	GetHouse(ctx context.Context, id uuid.UUID) (*db.House, error)
	CreateHouse(ctx context.Context, h *db.House) error
	UpdateHouse(ctx context.Context, id uuid.UUID, houseNumber, ownerName string) (*db.House, error)
	DeleteHouse(ctx context.Context, id uuid.UUID) error
	GetReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error)
	CreateReading(ctx context.Context, reading *db.MeterReading) error
	UpdateReading(ctx context.Context, id uuid.UUID, mutate func(*db.MeterReading) error) (*db.MeterReading, error)
	DeleteReading(ctx context.Context, id uuid.UUID) error
	LatestReading(ctx context.Context, houseID uuid.UUID) (*db.MeterReading, error)
	RecentUsage(ctx context.Context, houseID uuid.UUID, limit int) ([]float64, error)
}

// RateStore persists water unit rates
type RateStore interface {
	ActiveRate(ctx context.Context) (db.WaterUnitRate, error)
	SetActiveRate(ctx context.Context, rate float64) (db.WaterUnitRate, error)
	History(ctx context.Context) ([]db.WaterUnitRate, error)
}

// RateResolver picks the rate new readings are billed with
type RateResolver interface {
	Resolve(ctx context.Context) (float64, error)
	Remember(ctx context.Context, rate float64)
}

// Queue stores writes made while the database is unreachable
type Queue interface {
	Enqueue(ctx context.Context, kind offline.Kind, payload any) (uuid.UUID, error)
	PutCache(ctx context.Context, key string, value any) error
	GetCache(ctx context.Context, key string, dst any) (bool, error)
}

// ConnectivityListener is told when a database call fails on connectivity
type ConnectivityListener interface {
	MarkOffline()
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// Routing keys of published events
const (
	EventHouseCreated   = "house.created"
	EventHouseUpdated   = "house.updated"
	EventHouseDeleted   = "house.deleted"
	EventReadingCreated = "reading.recorded"
	EventReadingUpdated = "reading.updated"
	EventReadingDeleted = "reading.deleted"
	EventRateChanged    = "rate.changed"
)

const housesCacheKey = "houses"

// Outcome tells the caller whether a write reached the database or was queued
type Outcome struct {
	Queued  bool      `json:"queued"`
	EntryID uuid.UUID `json:"entry_id,omitempty"`
}

// Options holds the service's tunables
type Options struct {
	HistoryWindow int
}

// BillingService implements the water billing operations
type BillingService struct {
	repo      Repository
	rates     RateStore
	resolver  RateResolver
	queue     Queue
	publisher EventPublisher
	detector  *anomaly.Detector
	validator *validator.Validator
	metrics   *metrics.Metrics
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	listenerMu sync.RWMutex
	listener   ConnectivityListener
}

// NewBillingService creates a new billing service
func NewBillingService(
	repo Repository,
	rates RateStore,
	resolver RateResolver,
	queue Queue,
	publisher EventPublisher,
	detector *anomaly.Detector,
	validator *validator.Validator,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *BillingService {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}
	return &BillingService{
		repo:      repo,
		rates:     rates,
		resolver:  resolver,
		queue:     queue,
		publisher: publisher,
		detector:  detector,
		validator: validator,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetConnectivityListener registers l to hear about connectivity failures
func (s *BillingService) SetConnectivityListener(l ConnectivityListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = l
}

func (s *BillingService) connectivityLost() {
	s.listenerMu.RLock()
	l := s.listener
	s.listenerMu.RUnlock()
	if l != nil {
		l.MarkOffline()
	}
}

// enqueue stores a write for replay after a connectivity failure
func (s *BillingService) enqueue(ctx context.Context, kind offline.Kind, payload any, cause error) (Outcome, error) {
	s.connectivityLost()
	id, err := s.queue.Enqueue(ctx, kind, payload)
	if err != nil {
		s.logger.Error("failed to queue offline write",
			zap.String("kind", string(kind)),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return Outcome{}, err
	}
	s.metrics.WriteQueued(string(kind))
	s.logger.Warn("database unreachable, write queued",
		zap.String("kind", string(kind)),
		zap.String("entry_id", id.String()),
		zap.NamedError("cause", cause))
	return Outcome{Queued: true, EntryID: id}, nil
}

// publish sends an event; failures are logged and never returned
func (s *BillingService) publish(ctx context.Context, routingKey string, data any) {
	if err := s.publisher.Publish(ctx, routingKey, data); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}
