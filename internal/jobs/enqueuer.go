package jobs

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/observability"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	backoffMultiplier     = 2
)

// ClassificationEnqueuer enqueues classification jobs. Batch inserts are retried with
// exponential backoff and jitter on transient River/DB errors.
type ClassificationEnqueuer struct {
	inserter       Inserter
	queue          string
	maxAttempts    int
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	metrics        observability.ClusteringMetrics
}

// ClassificationEnqueuerConfig configures ClassificationEnqueuer. Zero values take defaults;
// Metrics may be nil.
type ClassificationEnqueuerConfig struct {
	Queue          string
	MaxAttempts    int           // River attempts per job; 0 uses the River default.
	MaxRetries     int           // Retries of a failed batch insert (total attempts = 1 + MaxRetries).
	InitialBackoff time.Duration // Backoff after the first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration
	Metrics        observability.ClusteringMetrics
}

// NewClassificationEnqueuer creates a ClassificationEnqueuer.
func NewClassificationEnqueuer(inserter Inserter, cfg ClassificationEnqueuerConfig) *ClassificationEnqueuer {
	if cfg.Queue == "" {
		cfg.Queue = ClassificationQueueName
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}

	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &ClassificationEnqueuer{
		inserter:       inserter,
		queue:          cfg.Queue,
		maxAttempts:    cfg.MaxAttempts,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		metrics:        cfg.Metrics,
	}
}

func (e *ClassificationEnqueuer) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       e.queue,
		MaxAttempts: e.maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: uniqueStates,
		},
	}
}

// Enqueue inserts one classification job. Duplicate is true when an unfinished job for the
// same request already existed; JobID is then that job's ID.
func (e *ClassificationEnqueuer) Enqueue(
	ctx context.Context, featureRequestID uuid.UUID,
) (*models.EnqueueClassificationResponse, error) {
	res, err := e.inserter.Insert(ctx, ClassifyFeatureRequestArgs{FeatureRequestID: featureRequestID}, e.insertOpts())
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordEnqueueError(ctx)
		}

		slog.ErrorContext(ctx, "classification: enqueue failed", "feature_request_id", featureRequestID, "error", err)

		return nil, fmt.Errorf("enqueue classification: %w", err)
	}

	if e.metrics != nil && !res.UniqueSkippedAsDuplicate {
		e.metrics.RecordJobsEnqueued(ctx, 1)
	}

	out := &models.EnqueueClassificationResponse{
		FeatureID: featureRequestID,
		Duplicate: res.UniqueSkippedAsDuplicate,
	}

	if res.Job != nil {
		out.JobID = res.Job.ID
	}

	return out, nil
}

// EnqueueMany inserts one job per ID in a single batch and returns how many rows River reported.
func (e *ClassificationEnqueuer) EnqueueMany(ctx context.Context, featureRequestIDs []uuid.UUID) (int, error) {
	if len(featureRequestIDs) == 0 {
		return 0, nil
	}

	opts := e.insertOpts()
	params := make([]river.InsertManyParams, len(featureRequestIDs))

	for i, id := range featureRequestIDs {
		params[i] = river.InsertManyParams{Args: ClassifyFeatureRequestArgs{FeatureRequestID: id}, InsertOpts: opts}
	}

	results, err := e.insertManyWithRetry(ctx, params)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordEnqueueError(ctx)
		}

		return 0, fmt.Errorf("enqueue classification batch: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordJobsEnqueued(ctx, int64(len(results)))
	}

	return len(results), nil
}

func (e *ClassificationEnqueuer) insertManyWithRetry(
	ctx context.Context, params []river.InsertManyParams,
) ([]*rivertype.JobInsertResult, error) {
	var lastErr error

	backoff := e.initialBackoff

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		results, err := e.inserter.InsertMany(ctx, params)
		if err == nil {
			return results, nil
		}

		lastErr = err

		if attempt == e.maxRetries {
			break
		}

		sleep := jitter(backoff)
		slog.WarnContext(ctx, "classification: batch enqueue failed, retrying after backoff",
			"attempt", attempt+1,
			"max_attempts", e.maxRetries+1,
			"backoff", sleep,
			"error", err,
		)

		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, err
		}

		backoff = min(backoff*backoffMultiplier, e.maxBackoff)
	}

	return nil, lastErr
}

// jitter returns a duration between 50% and 100% of duration.
func jitter(duration time.Duration) time.Duration {
	const jitterHalf = 2

	half := duration / jitterHalf
	if half <= 0 {
		return duration
	}

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	jitterNanos := int64(randVal % uint64(half.Nanoseconds()))

	return half + time.Duration(jitterNanos)
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
