package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/septivank/water-billing/internal/api"
	"github.com/septivank/water-billing/internal/config"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/metrics"
	"github.com/septivank/water-billing/internal/mq"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Server runs the HTTP API, the connectivity monitor and the reading
// submission consumer on top of Core
var Server = fx.Options(
	Core,
	fx.Provide(
		ProvideMonitor,
		ProvideAPIServer,
	),
	fx.Invoke(
		startMonitor,
		startHTTPServer,
		startSubmissionConsumer,
	),
)

// ProvideMonitor creates the database connectivity monitor. With
// DATABASE_APPLY_SCHEMA set the schema is applied on every reconnect, so a
// database that was unreachable at startup gets its tables before the flush.
func ProvideMonitor(
	pool *db.Pool,
	flusher *offline.Flusher,
	queue *offline.Queue,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *offline.Monitor {
	monitorCfg := offline.MonitorConfig{
		Pinger:   pool,
		Flusher:  flusher,
		Backlog:  queue,
		Interval: cfg.Offline.CheckInterval,
		Logger:   logger,
		Metrics:  m,
	}
	if cfg.Database.ApplySchema {
		monitorCfg.OnReconnect = func(ctx context.Context) error {
			return db.EnsureSchema(ctx, pool)
		}
	}
	return offline.NewMonitor(monitorCfg)
}

// ProvideAPIServer creates the HTTP API
func ProvideAPIServer(
	svc *service.BillingService,
	queue *offline.Queue,
	flusher *offline.Flusher,
	monitor *offline.Monitor,
	renderer *invoice.Renderer,
	generator *sample.Generator,
	conn *mq.Connection,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *api.Server {
	deps := api.Dependencies{
		Billing:        svc,
		Queue:          queue,
		Flusher:        flusher,
		Invoices:       renderer,
		Samples:        generator,
		DatabaseOnline: monitor.Online,
		Metrics:        m,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   api.BodyLimit(cfg.Validation.MaxImageBytes),
		Logger:         logger,
	}
	if conn != nil {
		deps.BrokerHealthy = conn.Healthy
	}
	return api.NewServer(deps)
}

func startMonitor(lc fx.Lifecycle, monitor *offline.Monitor, svc *service.BillingService) {
	svc.SetConnectivityListener(monitor)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			monitor.Start(ctx)
			return nil
		},
		OnStop: monitor.Stop,
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *api.Server, cfg *config.Config, logger *zap.Logger) {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", httpServer.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] failed to listen on %s: %w", httpServer.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", httpServer.Addr))
			go func() {
				if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			logger.Info("shutting down http server")
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}

// startSubmissionConsumer feeds reading submissions from RabbitMQ into the service
func startSubmissionConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.BillingService,
) error {
	if conn == nil {
		return nil
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.SubmitQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.SubmitExchange,
		RoutingKey:    cfg.RabbitMQ.SubmitRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       svc.HandleSubmission,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting reading submission consumer",
				zap.String("queue", cfg.RabbitMQ.SubmitQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := consumer.Stop(ctx); err != nil {
				logger.Error("failed to stop consumer", zap.Error(err))
				return err
			}
			logger.Info("submission consumer stopped gracefully")
			return nil
		},
	})
	return nil
}
