package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/formbricks/buckets/internal/datatypes"
	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/observability"
	"github.com/formbricks/buckets/internal/repository"
)

const bucketSourceClassification = "classification"

// FeatureRequestReader loads feature requests.
type FeatureRequestReader interface {
	GetFeatureRequest(ctx context.Context, id uuid.UUID) (*models.FeatureRequest, error)
}

// EmbeddingWriter stores the embedding of a feature request.
type EmbeddingWriter interface {
	UpsertEmbedding(ctx context.Context, featureRequestID uuid.UUID, model string, embedding []float32) error
}

// Embedder turns text into a vector. Implemented by EmbeddingGenerator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// ClusterStore opens transactions over buckets and assignments. Implemented by repository.ClusterStore.
type ClusterStore interface {
	InTx(ctx context.Context, fn func(repository.ClusterTx) error) error
	WithTenantLock(ctx context.Context, tenantID string, fn func(repository.ClusterTx) error) error
}

// ClusteringService assigns feature requests to buckets: it embeds the request, resolves the nearest
// bucket and either joins it or creates a new one, then keeps the centroid current.
type ClusteringService struct {
	requests   FeatureRequestReader
	embeddings EmbeddingWriter
	embedder   Embedder
	labeler    LabelingClient
	resolver   *Resolver
	centroids  *CentroidMaintainer
	store      ClusterStore
	metrics    observability.ClusteringMetrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// ClusteringServiceParams configures ClusteringService. Labeler and Metrics may be nil
// (labels then always come from FallbackLabel).
type ClusteringServiceParams struct {
	Requests   FeatureRequestReader
	Embeddings EmbeddingWriter
	Embedder   Embedder
	Labeler    LabelingClient
	Resolver   *Resolver
	Centroids  *CentroidMaintainer
	Store      ClusterStore
	Metrics    observability.ClusteringMetrics
	Logger     *slog.Logger
}

// NewClusteringService creates a ClusteringService.
func NewClusteringService(p ClusteringServiceParams) *ClusteringService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	centroids := p.Centroids
	if centroids == nil {
		centroids = NewCentroidMaintainer(logger)
	}

	return &ClusteringService{
		requests:   p.Requests,
		embeddings: p.Embeddings,
		embedder:   p.Embedder,
		labeler:    p.Labeler,
		resolver:   p.Resolver,
		centroids:  centroids,
		store:      p.Store,
		metrics:    p.Metrics,
		tracer:     observability.Tracer("clustering"),
		logger:     logger,
	}
}

type resolvedLabel struct {
	label    models.BucketLabel
	fallback bool
}

// Classify embeds a feature request and assigns it to a bucket, creating one when nothing in the
// tenant is similar enough. Embedding failures abort; labeling and centroid failures do not.
// It trusts the caller with any tenant; the River worker uses it.
func (s *ClusteringService) Classify(
	ctx context.Context, featureRequestID uuid.UUID,
) (*models.ClassificationResult, error) {
	return s.classify(ctx, "", featureRequestID)
}

// ClassifyForTenant is Classify for a request that must belong to tenantID. A request of another
// tenant is reported as not found.
func (s *ClusteringService) ClassifyForTenant(
	ctx context.Context, tenantID string, featureRequestID uuid.UUID,
) (*models.ClassificationResult, error) {
	if tenantID == "" {
		return nil, errTenantRequired()
	}

	return s.classify(ctx, tenantID, featureRequestID)
}

// classify runs the pipeline. An empty tenantID skips the ownership check.
func (s *ClusteringService) classify(
	ctx context.Context, tenantID string, featureRequestID uuid.UUID,
) (result *models.ClassificationResult, err error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "clustering.classify",
		trace.WithAttributes(attribute.String("feature_request.id", featureRequestID.String())),
	)

	defer func() {
		outcome := observability.OutcomeFailed

		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result.CreatedNewBucket:
			outcome = observability.OutcomeCreated
		default:
			outcome = observability.OutcomeAssigned
		}

		if s.metrics != nil {
			s.metrics.RecordClassification(ctx, outcome, time.Since(start))
		}

		span.End()
	}()

	req, err := loadFeatureRequest(ctx, s.requests, tenantID, featureRequestID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("tenant.id", req.TenantID))

	vector, err := s.embedder.Embed(ctx, req.ClassificationText())
	if err != nil {
		s.logger.ErrorContext(ctx, "clustering: embedding failed", "feature_request_id", req.ID, "error", err)

		return nil, fmt.Errorf("embed feature request: %w", err)
	}

	if err := s.embeddings.UpsertEmbedding(ctx, req.ID, s.embedder.Model(), vector); err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}

	// Label before taking the tenant lock so no provider call runs while it is held.
	var label *resolvedLabel
	if s.resolver.Resolve(ctx, req.TenantID, vector) == nil {
		l := s.label(ctx, req)
		label = &l
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("classification cancelled: %w", err)
	}

	err = s.store.WithTenantLock(ctx, req.TenantID, func(tx repository.ClusterTx) error {
		var txErr error

		result, txErr = s.assign(ctx, tx, req, vector, label)

		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("assign feature request: %w", err)
	}

	span.SetAttributes(
		attribute.String("bucket.id", result.BucketID.String()),
		attribute.Bool("bucket.created", result.CreatedNewBucket),
	)

	s.logger.InfoContext(ctx, "clustering: feature request classified",
		"feature_request_id", req.ID,
		"tenant_id", req.TenantID,
		"bucket_id", result.BucketID,
		"created_new_bucket", result.CreatedNewBucket,
	)

	return result, nil
}

// assign runs under the tenant lock. The bucket is resolved again so two near-duplicates that both
// missed outside the lock end up in one bucket.
func (s *ClusteringService) assign(
	ctx context.Context, tx repository.ClusterTx, req *models.FeatureRequest, vector []float32, label *resolvedLabel,
) (*models.ClassificationResult, error) {
	match := s.resolver.ResolveInTx(ctx, tx, req.TenantID, vector)

	var (
		bucketID   uuid.UUID
		created    bool
		similarity = 1.0
	)

	if match != nil {
		bucketID = match.BucketID
		similarity = match.Similarity
	} else {
		if label == nil {
			// Matched outside the lock, but that bucket is gone now.
			l := s.fallbackLabel(ctx, req, "lost_race")
			label = &l
		}

		bucket, err := s.createBucket(ctx, tx, req, vector, label)
		if err != nil {
			return nil, err
		}

		bucketID = bucket.ID
		created = true
	}

	previous, err := tx.AssignRequest(ctx, req.ID, bucketID)
	if err != nil {
		return nil, fmt.Errorf("assign request to bucket: %w", err)
	}

	moved := previous != nil && *previous != bucketID
	if moved {
		if _, err := tx.AppendActivity(ctx, &models.NewBucketActivity{
			BucketID: bucketID,
			Type:     datatypes.RequestMoved.String(),
			Payload: models.RequestMovedPayload{
				FeatureRequestID: req.ID,
				FromBucketID:     *previous,
				Similarity:       similarity,
			},
		}); err != nil {
			return nil, fmt.Errorf("append request_moved activity: %w", err)
		}
	}

	s.recomputeCentroid(ctx, tx, bucketID)

	if moved {
		s.recomputeCentroid(ctx, tx, *previous)
	}

	return &models.ClassificationResult{
		FeatureID:        req.ID,
		BucketID:         bucketID,
		CreatedNewBucket: created,
	}, nil
}

func (s *ClusteringService) createBucket(
	ctx context.Context, tx repository.ClusterTx, req *models.FeatureRequest, vector []float32, label *resolvedLabel,
) (*models.Bucket, error) {
	var summary *string
	if label.label.Summary != "" {
		summary = &label.label.Summary
	}

	bucket, err := tx.CreateBucket(ctx, &models.NewBucket{
		TenantID:  req.TenantID,
		Title:     label.label.Title,
		Summary:   summary,
		Centroid:  vector,
		Status:    models.BucketStatusBacklog,
		Priority:  models.BucketPriorityLow,
		GoalVotes: models.DefaultGoalVotes,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	if _, err := tx.AppendActivity(ctx, &models.NewBucketActivity{
		BucketID: bucket.ID,
		Type:     datatypes.BucketCreated.String(),
		Payload: models.BucketCreatedPayload{
			FeatureRequestID: &req.ID,
			Source:           bucketSourceClassification,
			LabelFallback:    label.fallback,
		},
	}); err != nil {
		return nil, fmt.Errorf("append bucket_created activity: %w", err)
	}

	s.logger.InfoContext(ctx, "clustering: bucket created",
		"bucket_id", bucket.ID,
		"tenant_id", req.TenantID,
		"title", bucket.Title,
		"label_fallback", label.fallback,
	)

	return bucket, nil
}

// recomputeCentroid runs in a savepoint; a failure rolls back only the centroid write.
func (s *ClusteringService) recomputeCentroid(ctx context.Context, tx repository.ClusterTx, bucketID uuid.UUID) {
	err := tx.Savepoint(ctx, func(sp repository.ClusterTx) error {
		return s.centroids.Recompute(ctx, sp, bucketID)
	})
	if err == nil {
		return
	}

	s.logger.ErrorContext(ctx, "clustering: centroid recompute failed, keeping previous centroid",
		"bucket_id", bucketID,
		"error", err,
	)

	if s.metrics != nil {
		s.metrics.RecordCentroidRecomputeError(ctx)
	}
}

func (s *ClusteringService) label(ctx context.Context, req *models.FeatureRequest) resolvedLabel {
	if s.labeler == nil {
		return s.fallbackLabel(ctx, req, "disabled")
	}

	generated, err := s.labeler.GenerateLabel(ctx, []models.Exemplar{req.Exemplar()})
	if err != nil {
		s.logger.WarnContext(ctx, "clustering: label generation failed, using request text",
			"feature_request_id", req.ID,
			"error", err,
		)

		return s.fallbackLabel(ctx, req, "upstream_error")
	}

	l, ok := sanitizeLabel(generated)
	if !ok {
		return s.fallbackLabel(ctx, req, "empty_label")
	}

	return resolvedLabel{label: l}
}

func (s *ClusteringService) fallbackLabel(ctx context.Context, req *models.FeatureRequest, reason string) resolvedLabel {
	if s.metrics != nil {
		s.metrics.RecordLabelingFallback(ctx, reason)
	}

	return resolvedLabel{label: FallbackLabel(req), fallback: true}
}
