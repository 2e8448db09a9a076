package service

import (
	"context"
	"log/slog"

	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/observability"
	"github.com/formbricks/buckets/internal/repository"
)

// DefaultSimilarityThreshold is the cosine similarity at or above which a request joins a bucket.
const DefaultSimilarityThreshold = 0.78

// CentroidSearcher finds the most similar bucket centroid within a tenant.
// Implemented by repository.BucketsRepository and by every repository.ClusterTx.
type CentroidSearcher interface {
	NearestBucket(ctx context.Context, tenantID string, vector []float32) (*models.BucketMatch, error)
}

// Resolver decides whether a vector belongs to an existing bucket of its tenant.
type Resolver struct {
	searcher  CentroidSearcher
	threshold float64
	metrics   observability.ClusteringMetrics
	logger    *slog.Logger
}

// NewResolver creates a Resolver. A threshold outside (0, 1] uses DefaultSimilarityThreshold. metrics may be nil.
func NewResolver(
	searcher CentroidSearcher, threshold float64, metrics observability.ClusteringMetrics, logger *slog.Logger,
) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{searcher: searcher, threshold: threshold, metrics: metrics, logger: logger}
}

// Threshold returns the configured similarity threshold.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve returns the best matching bucket, or nil when no centroid reaches the threshold.
// A failed search is logged and treated as no match, so the caller creates a new bucket.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, vector []float32) *models.BucketMatch {
	match, err := r.searcher.NearestBucket(ctx, tenantID, vector)

	return r.decide(ctx, tenantID, match, err)
}

// ResolveInTx is Resolve inside an open transaction. The search runs in a savepoint: a failed
// query rolls back to it and leaves tx usable for creating the bucket instead.
func (r *Resolver) ResolveInTx(
	ctx context.Context, tx repository.ClusterTx, tenantID string, vector []float32,
) *models.BucketMatch {
	var match *models.BucketMatch

	err := tx.Savepoint(ctx, func(sp repository.ClusterTx) error {
		var err error

		match, err = sp.NearestBucket(ctx, tenantID, vector)

		return err
	})

	return r.decide(ctx, tenantID, match, err)
}

func (r *Resolver) decide(ctx context.Context, tenantID string, match *models.BucketMatch, err error) *models.BucketMatch {
	if err != nil {
		r.logger.WarnContext(ctx, "resolver: similarity search failed, treating as no match",
			"tenant_id", tenantID,
			"error", err,
		)

		if r.metrics != nil {
			r.metrics.RecordResolverFallback(ctx, "search_failed")
		}

		return nil
	}

	if match == nil || match.Similarity < r.threshold {
		return nil
	}

	return match
}
