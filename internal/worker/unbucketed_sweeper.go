// Package worker provides in-process background loops.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/formbricks/buckets/internal/jobs"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 500
)

// UnbucketedSweeper periodically enqueues classification for requests that have no bucket,
// e.g. members orphaned by a bucket delete or requests whose inline classification failed.
type UnbucketedSweeper struct {
	lister    jobs.UnbucketedLister
	enqueuer  jobs.BatchEnqueuer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewUnbucketedSweeper creates a sweeper. Non-positive interval or batchSize use defaults.
func NewUnbucketedSweeper(
	lister jobs.UnbucketedLister, enqueuer jobs.BatchEnqueuer, interval time.Duration, batchSize int, logger *slog.Logger,
) *UnbucketedSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &UnbucketedSweeper{
		lister:    lister,
		enqueuer:  enqueuer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start runs a sweep immediately and then every interval until ctx is cancelled.
func (w *UnbucketedSweeper) Start(ctx context.Context) {
	w.logger.Info("unbucketed sweeper started", "interval", w.interval, "batch_size", w.batchSize)

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("unbucketed sweeper stopped")

			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *UnbucketedSweeper) runOnce(ctx context.Context) {
	stats, err := jobs.BackfillUnbucketed(ctx, w.lister, w.enqueuer, "", w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "unbucketed sweep failed", "error", err)

		return
	}

	if stats.Enqueued > 0 {
		w.logger.InfoContext(ctx, "unbucketed sweep enqueued classifications", "enqueued", stats.Enqueued)
	} else {
		w.logger.DebugContext(ctx, "unbucketed sweep found nothing to classify")
	}
}
