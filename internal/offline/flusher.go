package offline

import (
	"context"
	"sync"

	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/metrics"
	"go.uber.org/zap"
)

// Replayer applies a queued write against the database
type Replayer interface {
	Replay(ctx context.Context, entry Entry) error
}

// FlushReport summarises one flush pass
type FlushReport struct {
	Synced       int  `json:"synced"`
	Failed       int  `json:"failed"`
	DeadLettered int  `json:"dead_lettered"`
	Remaining    int  `json:"remaining"`
	Interrupted  bool `json:"interrupted"`
}

// Flusher replays pending entries in enqueue order
type Flusher struct {
	mu          sync.Mutex
	queue       *Queue
	replayer    Replayer
	maxAttempts int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewFlusher creates a flusher. maxAttempts of 0 retries forever.
func NewFlusher(queue *Queue, replayer Replayer, maxAttempts int, logger *zap.Logger, m *metrics.Metrics) *Flusher {
	return &Flusher{
		queue:       queue,
		replayer:    replayer,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     m,
	}
}

// Flush replays every pending entry. A connectivity failure ends the pass and
// leaves the entry pending without counting an attempt. Conflicts, validation
// failures and missing records are dead-lettered at once.
func (f *Flusher) Flush(ctx context.Context) (FlushReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var report FlushReport
	entries, err := f.queue.ListUnsynced(ctx)
	if err != nil {
		return report, err
	}
	if len(entries) == 0 {
		return report, nil
	}

	f.logger.Info("flushing offline queue", zap.Int("pending", len(entries)))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			report.Remaining += len(entries) - i
			break
		}

		replayErr := f.replayer.Replay(ctx, entry)
		switch {
		case replayErr == nil:
			if err := f.queue.MarkSynced(ctx, entry.ID); err != nil {
				return f.finish(report), err
			}
			report.Synced++

		case apperr.IsKind(replayErr, apperr.KindConnectivity):
			f.logger.Warn("database unreachable during flush, stopping",
				zap.String("entry_id", entry.ID.String()),
				zap.Error(replayErr))
			report.Interrupted = true
			report.Remaining += len(entries) - i

		case apperr.IsKind(replayErr, apperr.KindConflict),
			apperr.IsKind(replayErr, apperr.KindValidation),
			apperr.IsKind(replayErr, apperr.KindNotFound):
			f.logger.Error("offline entry rejected, dead-lettering",
				zap.String("entry_id", entry.ID.String()),
				zap.String("kind", string(entry.Kind)),
				zap.Error(replayErr))
			if err := f.queue.MarkDead(ctx, entry.ID, replayErr); err != nil {
				return f.finish(report), err
			}
			report.DeadLettered++

		default:
			dead, err := f.queue.MarkFailed(ctx, entry.ID, replayErr, f.maxAttempts)
			if err != nil {
				return f.finish(report), err
			}
			if dead {
				f.logger.Error("offline entry exhausted retries, dead-lettering",
					zap.String("entry_id", entry.ID.String()),
					zap.Int("max_attempts", f.maxAttempts),
					zap.Error(replayErr))
				report.DeadLettered++
			} else {
				f.logger.Warn("offline entry replay failed",
					zap.String("entry_id", entry.ID.String()),
					zap.Error(replayErr))
				report.Failed++
				report.Remaining++
			}
		}

		if report.Interrupted {
			break
		}
	}

	report = f.finish(report)
	f.logger.Info("offline queue flush finished",
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("remaining", report.Remaining))
	return report, nil
}

func (f *Flusher) finish(report FlushReport) FlushReport {
	f.metrics.EntriesFlushed("synced", report.Synced)
	f.metrics.EntriesFlushed("failed", report.Failed)
	f.metrics.EntriesFlushed("dead", report.DeadLettered)

	stats, err := f.queue.Stats(context.Background())
	if err != nil {
		f.logger.Warn("failed to read offline queue stats", zap.Error(err))
		return report
	}
	f.metrics.SetQueueDepth(stats.Pending, stats.Dead)
	return report
}
