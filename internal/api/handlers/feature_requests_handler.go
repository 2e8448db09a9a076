package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/api/middleware"
	"github.com/formbricks/buckets/internal/api/response"
	"github.com/formbricks/buckets/internal/models"
)

// Classifier assigns a feature request of the caller's tenant to a bucket.
type Classifier interface {
	ClassifyForTenant(ctx context.Context, tenantID string, featureRequestID uuid.UUID) (*models.ClassificationResult, error)
}

// ClassificationEnqueuer queues a classification job for a request of the caller's tenant.
type ClassificationEnqueuer interface {
	Enqueue(
		ctx context.Context, tenantID string, featureRequestID uuid.UUID,
	) (*models.EnqueueClassificationResponse, error)
}

// FeatureRequestsHandler handles classification requests for feature requests.
type FeatureRequestsHandler struct {
	classifier Classifier
	enqueuer   ClassificationEnqueuer
}

// NewFeatureRequestsHandler creates a new feature requests handler. enqueuer may be nil,
// in which case the async endpoint answers 503.
func NewFeatureRequestsHandler(classifier Classifier, enqueuer ClassificationEnqueuer) *FeatureRequestsHandler {
	return &FeatureRequestsHandler{classifier: classifier, enqueuer: enqueuer}
}

// ProcessEmbedding handles POST /v1/feature-requests/{id}/process-embedding
// @Summary Classify a feature request
// @Description Embeds the request and assigns it to the most similar bucket of its tenant, creating one when none is similar enough
// @Tags Feature Requests
// @Produce json
// @Param id path string true "Feature Request ID (UUID)"
// @Success 200 {object} ClassificationResult
// @Param X-Tenant-ID header string true "Tenant ID"
// @Failure 400 {object} ProblemDetails "Invalid UUID, missing tenant or nothing to embed"
// @Failure 404 {object} ProblemDetails "Feature request not found in the caller's tenant"
// @Failure 502 {object} ProblemDetails "Embedding provider failed"
// @Security BearerAuth
// @Router /v1/feature-requests/{id}/process-embedding [post]
func (h *FeatureRequestsHandler) ProcessEmbedding(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "Feature request ID")
	if !ok {
		return
	}

	tenantID := middleware.CallerFromContext(r.Context()).TenantID

	result, err := h.classifier.ClassifyForTenant(r.Context(), tenantID, id)
	if err != nil {
		respondServiceError(w, r, err, "Feature request not found")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// ProcessEmbeddingAsync handles POST /v1/feature-requests/{id}/process-embedding/async
// @Summary Queue classification of a feature request
// @Description Enqueues a classification job; a job already pending for the request is reused
// @Tags Feature Requests
// @Produce json
// @Param id path string true "Feature Request ID (UUID)"
// @Param X-Tenant-ID header string true "Tenant ID"
// @Success 202 {object} EnqueueClassificationResponse
// @Failure 400 {object} ProblemDetails "Invalid UUID or missing tenant"
// @Failure 404 {object} ProblemDetails "Feature request not found in the caller's tenant"
// @Failure 503 {object} ProblemDetails "Job queue unavailable"
// @Security BearerAuth
// @Router /v1/feature-requests/{id}/process-embedding/async [post]
func (h *FeatureRequestsHandler) ProcessEmbeddingAsync(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		response.RespondServiceUnavailable(w, "Background classification is not enabled")

		return
	}

	id, ok := parseIDParam(w, r, "Feature request ID")
	if !ok {
		return
	}

	res, err := h.enqueuer.Enqueue(r.Context(), middleware.CallerFromContext(r.Context()).TenantID, id)
	if err != nil {
		respondServiceError(w, r, err, "Feature request not found")

		return
	}

	response.RespondJSON(w, http.StatusAccepted, res)
}

// parseIDParam reads the {id} path value. On failure it writes 400 and returns false.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		response.RespondBadRequest(w, name+" is required")

		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		response.RespondBadRequest(w, "Invalid UUID format")

		return uuid.Nil, false
	}

	return id, true
}
