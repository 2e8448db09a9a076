package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
)

// FeatureRequestsRepository reads feature requests and writes their bucket assignment.
// Other columns belong to the submission surface and are never written here.
type FeatureRequestsRepository struct {
	db DBTX
}

// NewFeatureRequestsRepository creates a new feature requests repository.
func NewFeatureRequestsRepository(db DBTX) *FeatureRequestsRepository {
	return &FeatureRequestsRepository{db: db}
}

// GetFeatureRequest retrieves a single feature request by ID.
func (r *FeatureRequestsRepository) GetFeatureRequest(ctx context.Context, id uuid.UUID) (*models.FeatureRequest, error) {
	query := `
		SELECT id, tenant_id, user_id, title, description, status, bucket_id, created_at, updated_at
		FROM feature_requests
		WHERE id = $1
	`

	var fr models.FeatureRequest

	err := r.db.QueryRow(ctx, query, id).Scan(
		&fr.ID, &fr.TenantID, &fr.UserID, &fr.Title, &fr.Description,
		&fr.Status, &fr.BucketID, &fr.CreatedAt, &fr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("feature request", "feature request not found")
		}

		return nil, fmt.Errorf("failed to get feature request: %w", err)
	}

	return &fr, nil
}

// AssignRequest points a feature request at bucketID and returns the bucket it was in before (nil if none).
func (r *FeatureRequestsRepository) AssignRequest(
	ctx context.Context, requestID, bucketID uuid.UUID,
) (*uuid.UUID, error) {
	query := `
		UPDATE feature_requests fr
		SET bucket_id = $2, updated_at = $3
		FROM (SELECT id, bucket_id FROM feature_requests WHERE id = $1 FOR UPDATE) prev
		WHERE fr.id = prev.id
		RETURNING prev.bucket_id
	`

	var previous *uuid.UUID

	err := r.db.QueryRow(ctx, query, requestID, bucketID, time.Now()).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("feature request", "feature request not found")
		}

		return nil, fmt.Errorf("failed to assign feature request: %w", err)
	}

	return previous, nil
}

// UnassignMembers clears bucket_id on every request of a bucket and returns how many were orphaned.
func (r *FeatureRequestsRepository) UnassignMembers(ctx context.Context, bucketID uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE feature_requests SET bucket_id = NULL, updated_at = $2 WHERE bucket_id = $1`,
		bucketID, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to unassign bucket members: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListUnbucketedIDs returns IDs of requests with no bucket, oldest first. Empty tenantID means all tenants.
func (r *FeatureRequestsRepository) ListUnbucketedIDs(
	ctx context.Context, tenantID string, limit int,
) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM feature_requests
		WHERE bucket_id IS NULL
		  AND ($1 = '' OR tenant_id = $1)
		  AND trim(title) != ''
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unbucketed feature requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan feature request id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unbucketed feature requests: %w", err)
	}

	return ids, nil
}
