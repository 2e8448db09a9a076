// Package workers provides River job workers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/jobs"
	"github.com/formbricks/buckets/internal/models"
)

const classificationTimeout = 60 * time.Second

// Classifier assigns one feature request to a bucket. Implemented by service.ClusteringService.
type Classifier interface {
	Classify(ctx context.Context, featureRequestID uuid.UUID) (*models.ClassificationResult, error)
}

// ClassificationWorker runs queued classifications.
type ClassificationWorker struct {
	river.WorkerDefaults[jobs.ClassifyFeatureRequestArgs]

	classifier Classifier
	logger     *slog.Logger
}

// NewClassificationWorker creates a ClassificationWorker.
func NewClassificationWorker(classifier Classifier, logger *slog.Logger) *ClassificationWorker {
	if logger == nil {
		logger = slog.Default()
	}

	return &ClassificationWorker{classifier: classifier, logger: logger}
}

// Timeout limits how long a single classification can run (embedding, labeling and the locked section).
func (w *ClassificationWorker) Timeout(*river.Job[jobs.ClassifyFeatureRequestArgs]) time.Duration {
	return classificationTimeout
}

// Work classifies the request. A deleted request or one with nothing to embed is not retried;
// other failures are retried until the last attempt.
func (w *ClassificationWorker) Work(ctx context.Context, job *river.Job[jobs.ClassifyFeatureRequestArgs]) error {
	id := job.Args.FeatureRequestID

	result, err := w.classifier.Classify(ctx, id)
	if err == nil {
		w.logger.DebugContext(ctx, "classification job done",
			"feature_request_id", id,
			"bucket_id", result.BucketID,
			"created_new_bucket", result.CreatedNewBucket,
		)

		return nil
	}

	if errors.Is(err, huberrors.ErrNotFound) || errors.Is(err, huberrors.ErrValidation) {
		w.logger.WarnContext(ctx, "classification job dropped", "feature_request_id", id, "error", err)

		return nil
	}

	if job.Attempt >= job.MaxAttempts {
		w.logger.ErrorContext(ctx, "classification failed (final attempt)",
			"feature_request_id", id,
			"attempt", job.Attempt,
			"error", err,
		)

		return nil
	}

	return fmt.Errorf("classify feature request: %w", err)
}
