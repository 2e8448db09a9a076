package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/api/middleware"
	"github.com/formbricks/buckets/internal/api/response"
	"github.com/formbricks/buckets/internal/api/validation"
	"github.com/formbricks/buckets/internal/models"
)

// BucketsService defines the bucket operations exposed over HTTP.
type BucketsService interface {
	GetBucket(ctx context.Context, tenantID string, id uuid.UUID, callerUserID *string) (*models.BucketDetail, error)
	ListBuckets(ctx context.Context, filters *models.ListBucketsFilters) (*models.ListBucketsResponse, error)
	CreateBucket(ctx context.Context, tenantID string, req *models.CreateBucketRequest, actorUserID *string) (*models.Bucket, error)
	UpdateBucket(
		ctx context.Context, tenantID string, id uuid.UUID, req *models.UpdateBucketRequest, actorUserID *string,
	) (*models.Bucket, error)
	DeleteBucket(ctx context.Context, tenantID string, id uuid.UUID) error
}

// BucketsHandler handles HTTP requests for feature buckets. The tenant and caller come from
// middleware.Identity.
type BucketsHandler struct {
	service BucketsService
}

// NewBucketsHandler creates a new buckets handler.
func NewBucketsHandler(service BucketsService) *BucketsHandler {
	return &BucketsHandler{service: service}
}

// List handles GET /v1/feature-buckets
// @Summary List feature buckets
// @Description Lists the tenant's buckets with vote rollups
// @Tags Feature Buckets
// @Produce json
// @Param X-Tenant-ID header string true "Tenant ID"
// @Param sort query string false "hot (default), top or new"
// @Param status query string false "Filter by status"
// @Param limit query int false "Number of results (default 20, max 100)"
// @Success 200 {object} ListBucketsResponse
// @Failure 400 {object} ProblemDetails
// @Security BearerAuth
// @Router /v1/feature-buckets [get]
func (h *BucketsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListBucketsFilters{}

	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	filters.TenantID = middleware.CallerFromContext(r.Context()).TenantID

	result, err := h.service.ListBuckets(r.Context(), filters)
	if err != nil {
		respondServiceError(w, r, err, "Bucket not found")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Get handles GET /v1/feature-buckets/{id}
// @Summary Get a feature bucket
// @Description Returns a bucket with rollups, its top requests and recent activity
// @Tags Feature Buckets
// @Produce json
// @Param id path string true "Bucket ID (UUID)"
// @Success 200 {object} BucketDetail
// @Failure 400 {object} ProblemDetails "Invalid UUID format"
// @Failure 404 {object} ProblemDetails "Bucket not found"
// @Security BearerAuth
// @Router /v1/feature-buckets/{id} [get]
func (h *BucketsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "Bucket ID")
	if !ok {
		return
	}

	caller := middleware.CallerFromContext(r.Context())

	detail, err := h.service.GetBucket(r.Context(), caller.TenantID, id, caller.UserID)
	if err != nil {
		respondServiceError(w, r, err, "Bucket not found")

		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// Create handles POST /v1/feature-buckets
// @Summary Create a feature bucket
// @Description Creates a bucket by hand. Requires the admin capability.
// @Tags Feature Buckets
// @Accept json
// @Produce json
// @Param request body CreateBucketRequest true "Bucket to create"
// @Success 201 {object} Bucket
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails "Missing admin capability"
// @Security BearerAuth
// @Router /v1/feature-buckets [post]
func (h *BucketsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	caller := middleware.CallerFromContext(r.Context())

	bucket, err := h.service.CreateBucket(r.Context(), caller.TenantID, &req, caller.UserID)
	if err != nil {
		respondServiceError(w, r, err, "Bucket not found")

		return
	}

	response.RespondJSON(w, http.StatusCreated, bucket)
}

// Update handles PATCH /v1/feature-buckets/{id}
// @Summary Update a feature bucket
// @Description Partially updates a bucket; a status change is recorded in its activity log. Requires the admin capability.
// @Tags Feature Buckets
// @Accept json
// @Produce json
// @Param id path string true "Bucket ID (UUID)"
// @Param request body UpdateBucketRequest true "Fields to update"
// @Success 200 {object} Bucket
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails "Missing admin capability"
// @Failure 404 {object} ProblemDetails "Bucket not found"
// @Security BearerAuth
// @Router /v1/feature-buckets/{id} [patch]
func (h *BucketsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "Bucket ID")
	if !ok {
		return
	}

	var req models.UpdateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	caller := middleware.CallerFromContext(r.Context())

	bucket, err := h.service.UpdateBucket(r.Context(), caller.TenantID, id, &req, caller.UserID)
	if err != nil {
		respondServiceError(w, r, err, "Bucket not found")

		return
	}

	response.RespondJSON(w, http.StatusOK, bucket)
}

// Delete handles DELETE /v1/feature-buckets/{id}
// @Summary Delete a feature bucket
// @Description Deletes a bucket; its requests become unassigned. Requires the admin capability.
// @Tags Feature Buckets
// @Param id path string true "Bucket ID (UUID)"
// @Success 204 "No Content"
// @Failure 400 {object} ProblemDetails "Invalid UUID format"
// @Failure 401 {object} ProblemDetails "Missing admin capability"
// @Failure 404 {object} ProblemDetails "Bucket not found"
// @Security BearerAuth
// @Router /v1/feature-buckets/{id} [delete]
func (h *BucketsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "Bucket ID")
	if !ok {
		return
	}

	if err := h.service.DeleteBucket(r.Context(), middleware.CallerFromContext(r.Context()).TenantID, id); err != nil {
		respondServiceError(w, r, err, "Bucket not found")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
