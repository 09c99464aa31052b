package offline

import (
	"context"
	"sync"
	"time"

	"github.com/septivank/water-billing/internal/metrics"
	"go.uber.org/zap"
)

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// FlushRunner runs one flush pass
type FlushRunner interface {
	Flush(ctx context.Context) (FlushReport, error)
}

// Backlog reports how many entries are waiting
type Backlog interface {
	Stats(ctx context.Context) (Stats, error)
}

// MonitorConfig holds monitor dependencies. Backlog and OnReconnect are optional.
type MonitorConfig struct {
	Pinger   Pinger
	Flusher  FlushRunner
	Backlog  Backlog
	Interval time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	// OnReconnect runs on every offline to online transition before the
	// flush. A failure keeps the monitor offline until the next check.
	OnReconnect func(ctx context.Context) error
}

// Monitor pings the database and flushes the queue whenever it comes back
// or entries are waiting
type Monitor struct {
	pinger      Pinger
	flusher     FlushRunner
	backlog     Backlog
	onReconnect func(ctx context.Context) error
	interval    time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. It starts in the offline state, so the first
// successful check flushes anything left over from a previous run.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Monitor{
		pinger:      cfg.Pinger,
		flusher:     cfg.Flusher,
		backlog:     cfg.Backlog,
		onReconnect: cfg.OnReconnect,
		interval:    cfg.Interval,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Online reports the last known connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// MarkOffline records a connectivity failure seen outside the check, so the
// next successful check is treated as a reconnect
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	wasOnline := m.online
	m.online = false
	m.mu.Unlock()

	m.metrics.SetDatabaseOnline(false)
	if wasOnline {
		m.logger.Warn("database write failed on connectivity, writes will be queued")
	}
}

// Check pings once. It flushes on an offline to online transition, and
// while online whenever the backlog still holds pending entries.
func (m *Monitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout())
	err := m.pinger.Ping(pingCtx)
	cancel()

	m.mu.Lock()
	wasOnline := m.online
	m.online = err == nil
	m.mu.Unlock()

	m.metrics.SetDatabaseOnline(err == nil)

	if err != nil {
		if wasOnline {
			m.logger.Warn("database connection lost, writes will be queued", zap.Error(err))
		}
		return
	}

	if !wasOnline {
		if m.onReconnect != nil {
			if err := m.onReconnect(ctx); err != nil {
				m.logger.Error("database reconnect hook failed, staying offline", zap.Error(err))
				m.mu.Lock()
				m.online = false
				m.mu.Unlock()
				m.metrics.SetDatabaseOnline(false)
				return
			}
		}
		m.logger.Info("database reachable, flushing offline queue")
		m.flush(ctx)
		return
	}

	if m.hasBacklog(ctx) {
		m.logger.Info("pending offline entries found, flushing")
		m.flush(ctx)
	}
}

func (m *Monitor) flush(ctx context.Context) {
	if _, err := m.flusher.Flush(ctx); err != nil {
		m.logger.Error("offline queue flush failed", zap.Error(err))
	}
}

func (m *Monitor) hasBacklog(ctx context.Context) bool {
	if m.backlog == nil {
		return false
	}
	stats, err := m.backlog.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read offline queue stats", zap.Error(err))
		return false
	}
	return stats.Pending > 0
}

// Start launches the check loop
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(runCtx, m.done)
}

// Stop ends the check loop and waits for it to exit
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) pingTimeout() time.Duration {
	if m.interval > 0 && m.interval < 5*time.Second {
		return m.interval
	}
	return 5 * time.Second
}
