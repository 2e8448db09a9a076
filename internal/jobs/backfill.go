package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultBackfillBatchSize is the number of requests enqueued per batch.
const DefaultBackfillBatchSize = 500

// UnbucketedLister lists requests without a bucket, oldest first. Implemented by repository.FeatureRequestsRepository.
type UnbucketedLister interface {
	ListUnbucketedIDs(ctx context.Context, tenantID string, limit int) ([]uuid.UUID, error)
}

// BatchEnqueuer enqueues classification jobs in batches. Implemented by ClassificationEnqueuer.
type BatchEnqueuer interface {
	EnqueueMany(ctx context.Context, featureRequestIDs []uuid.UUID) (int, error)
}

// BackfillStats holds statistics from a backfill operation.
type BackfillStats struct {
	Listed   int
	Enqueued int
}

// BackfillUnbucketed enqueues a classification job for every request that has no bucket.
// Empty tenantID covers all tenants. At most maxRequests are listed (0 uses DefaultBackfillBatchSize)
// and enqueued in batches of DefaultBackfillBatchSize; jobs that are already pending are deduplicated by River.
func BackfillUnbucketed(
	ctx context.Context, lister UnbucketedLister, enqueuer BatchEnqueuer, tenantID string, maxRequests int,
) (*BackfillStats, error) {
	if maxRequests <= 0 {
		maxRequests = DefaultBackfillBatchSize
	}

	ids, err := lister.ListUnbucketedIDs(ctx, tenantID, maxRequests)
	if err != nil {
		return nil, fmt.Errorf("list unbucketed feature requests: %w", err)
	}

	stats := &BackfillStats{Listed: len(ids)}

	for start := 0; start < len(ids); start += DefaultBackfillBatchSize {
		end := min(start+DefaultBackfillBatchSize, len(ids))

		n, err := enqueuer.EnqueueMany(ctx, ids[start:end])
		if err != nil {
			return stats, fmt.Errorf("enqueue batch at offset %d: %w", start, err)
		}

		stats.Enqueued += n

		slog.InfoContext(ctx, "backfill: batch enqueued", "offset", start, "count", n)
	}

	return stats, nil
}
