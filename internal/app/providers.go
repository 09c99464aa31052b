package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/septivank/water-billing/internal/anomaly"
	"github.com/septivank/water-billing/internal/config"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/logging"
	"github.com/septivank/water-billing/internal/metrics"
	"github.com/septivank/water-billing/internal/mq"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/rate"
	"github.com/septivank/water-billing/internal/repository"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"github.com/septivank/water-billing/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Core provides the storage, offline queue and billing service shared by
// the server and the command line tool
var Core = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		ProvideMetrics,
		ProvideDBPool,
		ProvideRepository,
		ProvideRateStore,
		ProvideOfflineQueue,
		ProvideRateResolver,
		ProvideAnomalyDetector,
		ProvideValidator,
		ProvideMQConnection,
		ProvidePublisher,
		ProvideBillingService,
		ProvideFlusher,
		ProvideInvoiceRenderer,
		ProvideSampleGenerator,
	),
)

// NewLogger creates the application logger
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

// ProvideMetrics creates the metrics registry
func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.ApplySchema)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideRateStore creates the water rate store
func ProvideRateStore(pool *db.Pool) *rate.Store {
	return rate.NewStore(pool)
}

// ProvideOfflineQueue opens the offline queue and closes it when the app stops
func ProvideOfflineQueue(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*offline.Queue, error) {
	path := cfg.Offline.QueuePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	queue, err := offline.Open(path)
	if err != nil {
		return nil, err
	}
	logger.Info("offline queue opened", zap.String("path", path))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing offline queue")
			return queue.Close()
		},
	})
	return queue, nil
}

// ProvideRateResolver creates the resolver that picks the billing rate
func ProvideRateResolver(store *rate.Store, queue *offline.Queue, cfg *config.Config, logger *zap.Logger) *rate.Resolver {
	return rate.NewResolver(store, queue, cfg.Billing.DefaultRate, cfg.Billing.RateFallback, logger)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.MaxImageBytes)
}

// ProvideMQConnection connects to RabbitMQ. It returns nil when no broker is configured.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, events and reading submissions are disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// ProvidePublisher creates the event publisher, or a no-op one without a broker
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	if conn == nil {
		return mq.NewNopPublisher(logger), nil
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.ServiceName, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideBillingService creates the billing service
func ProvideBillingService(
	repo *repository.Repository,
	rates *rate.Store,
	resolver *rate.Resolver,
	queue *offline.Queue,
	publisher service.EventPublisher,
	detector *anomaly.Detector,
	validator *validator.Validator,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.BillingService {
	return service.NewBillingService(repo, rates, resolver, queue, publisher, detector, validator, m,
		service.Options{HistoryWindow: cfg.Anomaly.HistoryWindow}, logger)
}

// ProvideFlusher creates the flusher that replays queued writes through the service
func ProvideFlusher(queue *offline.Queue, svc *service.BillingService, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *offline.Flusher {
	return offline.NewFlusher(queue, svc, cfg.Offline.MaxAttempts, logger, m)
}

// ProvideInvoiceRenderer loads the invoice profile, or the default one when no path is set
func ProvideInvoiceRenderer(cfg *config.Config) (*invoice.Renderer, error) {
	profile := invoice.DefaultProfile()
	if cfg.Invoice.ProfilePath != "" {
		loaded, err := invoice.LoadProfile(cfg.Invoice.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}
	return invoice.NewRenderer(profile)
}

// ProvideSampleGenerator creates the sample data generator
func ProvideSampleGenerator(cfg *config.Config, logger *zap.Logger) *sample.Generator {
	return sample.NewGenerator(cfg.Sample.APIURL, cfg.Sample.APIKey, cfg.Sample.Model, cfg.Sample.Timeout, logger)
}
