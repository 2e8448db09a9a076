package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
)

// Enqueuer queues one classification job. Implemented by jobs.ClassificationEnqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, featureRequestID uuid.UUID) (*models.EnqueueClassificationResponse, error)
}

// ClassificationQueue queues classification jobs on behalf of API callers. Only requests of the
// caller's tenant are queued.
type ClassificationQueue struct {
	requests FeatureRequestReader
	enqueuer Enqueuer
}

// NewClassificationQueue creates a ClassificationQueue.
func NewClassificationQueue(requests FeatureRequestReader, enqueuer Enqueuer) *ClassificationQueue {
	return &ClassificationQueue{requests: requests, enqueuer: enqueuer}
}

// Enqueue queues classification of featureRequestID. A request of another tenant is reported as
// not found and nothing is queued.
func (q *ClassificationQueue) Enqueue(
	ctx context.Context, tenantID string, featureRequestID uuid.UUID,
) (*models.EnqueueClassificationResponse, error) {
	if tenantID == "" {
		return nil, errTenantRequired()
	}

	if _, err := loadFeatureRequest(ctx, q.requests, tenantID, featureRequestID); err != nil {
		return nil, err
	}

	return q.enqueuer.Enqueue(ctx, featureRequestID) //nolint:wrapcheck // enqueuer already wraps
}

func errTenantRequired() error {
	return huberrors.NewValidationError("tenant_id", "X-Tenant-ID header is required")
}

// loadFeatureRequest loads a request and, when tenantID is set, hides requests of other tenants.
func loadFeatureRequest(
	ctx context.Context, requests FeatureRequestReader, tenantID string, id uuid.UUID,
) (*models.FeatureRequest, error) {
	req, err := requests.GetFeatureRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load feature request: %w", err)
	}

	if tenantID != "" && req.TenantID != tenantID {
		return nil, huberrors.NewNotFoundError("feature_request", "feature request not found")
	}

	return req, nil
}
