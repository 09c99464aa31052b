package rate

import (
	"context"

	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"go.uber.org/zap"
)

// CacheKey is the offline cache key holding the last rate read from the database
const CacheKey = "water_rate.active"

// Source looks up the active rate
type Source interface {
	ActiveRate(ctx context.Context) (db.WaterUnitRate, error)
}

// Cache stores last-known values locally
type Cache interface {
	PutCache(ctx context.Context, key string, value any) error
	GetCache(ctx context.Context, key string, dst any) (bool, error)
}

// Resolver picks the rate to bill new readings with
type Resolver struct {
	source      Source
	cache       Cache
	defaultRate float64
	fallback    bool
	logger      *zap.Logger
}

// NewResolver creates a resolver. With fallback disabled, Resolve surfaces
// apperr.ErrRateNotConfigured instead of billing at the default rate.
func NewResolver(source Source, cache Cache, defaultRate float64, fallback bool, logger *zap.Logger) *Resolver {
	return &Resolver{
		source:      source,
		cache:       cache,
		defaultRate: defaultRate,
		fallback:    fallback,
		logger:      logger,
	}
}

// CurrentRate never fails: active rate, then the cached rate, then the default
func (r *Resolver) CurrentRate(ctx context.Context) float64 {
	active, err := r.source.ActiveRate(ctx)
	if err == nil {
		r.Remember(ctx, active.RatePerUnit)
		return active.RatePerUnit
	}

	if cached, ok := r.cached(ctx); ok {
		r.logger.Warn("using cached water rate",
			zap.Float64("rate", cached),
			zap.Error(err))
		return cached
	}

	r.logger.Warn("using default water rate",
		zap.Float64("rate", r.defaultRate),
		zap.Error(err))
	return r.defaultRate
}

// Resolve returns the rate new readings are billed with
func (r *Resolver) Resolve(ctx context.Context) (float64, error) {
	if r.fallback {
		return r.CurrentRate(ctx), nil
	}

	active, err := r.source.ActiveRate(ctx)
	if err == nil {
		r.Remember(ctx, active.RatePerUnit)
		return active.RatePerUnit, nil
	}
	if apperr.IsKind(err, apperr.KindConnectivity) {
		if cached, ok := r.cached(ctx); ok {
			r.logger.Warn("database unreachable, using cached water rate", zap.Float64("rate", cached))
			return cached, nil
		}
		return 0, apperr.ErrRateNotConfigured
	}
	return 0, err
}

// Remember caches rate as the last known active rate
func (r *Resolver) Remember(ctx context.Context, rate float64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.PutCache(ctx, CacheKey, rate); err != nil {
		r.logger.Warn("failed to cache water rate", zap.Error(err))
	}
}

func (r *Resolver) cached(ctx context.Context) (float64, bool) {
	if r.cache == nil {
		return 0, false
	}
	var rate float64
	ok, err := r.cache.GetCache(ctx, CacheKey, &rate)
	if err != nil {
		r.logger.Warn("failed to read cached water rate", zap.Error(err))
		return 0, false
	}
	if !ok || rate <= 0 {
		return 0, false
	}
	return rate, true
}
