package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/datatypes"
	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/repository"
)

// Detail view sizes.
const (
	BucketDetailMemberLimit   = 10
	BucketDetailActivityLimit = 10
)

const bucketSourceManual = "manual"

// BucketsReader provides the read side of buckets.
type BucketsReader interface {
	GetBucket(ctx context.Context, id uuid.UUID) (*models.BucketWithStats, error)
	ListBuckets(ctx context.Context, filters *models.ListBucketsFilters) ([]models.BucketWithStats, error)
	TopMembers(ctx context.Context, bucketID uuid.UUID, callerUserID *string, limit int) ([]models.BucketMember, error)
}

// ActivityReader lists a bucket's audit log.
type ActivityReader interface {
	ListRecentActivity(ctx context.Context, bucketID uuid.UUID, limit int) ([]models.BucketActivity, error)
}

// BucketsService handles bucket reads and admin mutations. All operations are scoped to a tenant;
// a bucket of another tenant is reported as not found.
type BucketsService struct {
	buckets  BucketsReader
	activity ActivityReader
	store    ClusterStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewBucketsService creates a BucketsService.
func NewBucketsService(buckets BucketsReader, activity ActivityReader, store ClusterStore, logger *slog.Logger) *BucketsService {
	if logger == nil {
		logger = slog.Default()
	}

	return &BucketsService{
		buckets:  buckets,
		activity: activity,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

func bucketNotFound() error {
	return huberrors.NewNotFoundError("bucket", "bucket not found")
}

// GetBucket returns a bucket with rollups, its top members and recent activity.
// callerUserID drives user_has_voted; nil means anonymous.
func (s *BucketsService) GetBucket(
	ctx context.Context, tenantID string, id uuid.UUID, callerUserID *string,
) (*models.BucketDetail, error) {
	bucket, err := s.buckets.GetBucket(ctx, id)
	if err != nil {
		return nil, err
	}

	if bucket.TenantID != tenantID {
		return nil, bucketNotFound()
	}

	members, err := s.buckets.TopMembers(ctx, id, callerUserID, BucketDetailMemberLimit)
	if err != nil {
		return nil, fmt.Errorf("list bucket members: %w", err)
	}

	activity, err := s.activity.ListRecentActivity(ctx, id, BucketDetailActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("list bucket activity: %w", err)
	}

	return &models.BucketDetail{
		Bucket:   *bucket,
		Requests: members,
		Activity: activity,
	}, nil
}

// ListBuckets returns a tenant's buckets. Sort defaults to hot; limit defaults to
// DefaultBucketListLimit and is capped at MaxBucketListLimit.
func (s *BucketsService) ListBuckets(
	ctx context.Context, filters *models.ListBucketsFilters,
) (*models.ListBucketsResponse, error) {
	if filters.TenantID == "" {
		return nil, errTenantRequired()
	}

	if filters.Sort == "" {
		filters.Sort = models.BucketSortHot
	}

	if filters.Limit <= 0 {
		filters.Limit = models.DefaultBucketListLimit
	}

	if filters.Limit > models.MaxBucketListLimit {
		filters.Limit = models.MaxBucketListLimit
	}

	buckets, err := s.buckets.ListBuckets(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	return &models.ListBucketsResponse{Data: buckets, Limit: filters.Limit}, nil
}

// CreateBucket creates a bucket by hand. It has no centroid until a request is assigned to it,
// so classification never matches it before then.
func (s *BucketsService) CreateBucket(
	ctx context.Context, tenantID string, req *models.CreateBucketRequest, actorUserID *string,
) (*models.Bucket, error) {
	if tenantID == "" {
		return nil, errTenantRequired()
	}

	nb := &models.NewBucket{
		TenantID:    tenantID,
		Title:       req.Title,
		Summary:     req.Summary,
		Description: req.Description,
		Tags:        req.Tags,
	}

	if req.Status != nil {
		nb.Status = *req.Status
	}

	if req.Priority != nil {
		nb.Priority = *req.Priority
	}

	if req.GoalVotes != nil {
		nb.GoalVotes = *req.GoalVotes
	}

	var bucket *models.Bucket

	err := s.store.InTx(ctx, func(tx repository.ClusterTx) error {
		var err error

		bucket, err = tx.CreateBucket(ctx, nb)
		if err != nil {
			return err
		}

		_, err = tx.AppendActivity(ctx, &models.NewBucketActivity{
			BucketID: bucket.ID,
			UserID:   actorUserID,
			Type:     datatypes.BucketCreated.String(),
			Payload:  models.BucketCreatedPayload{Source: bucketSourceManual},
		})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	s.logger.InfoContext(ctx, "bucket created manually", "bucket_id", bucket.ID, "tenant_id", tenantID)

	return bucket, nil
}

// UpdateBucket applies a partial update. Moving into shipped stamps shipped_at; any status change
// appends one status_change activity with the old and new status and the optional note.
// The update and its activity commit together.
func (s *BucketsService) UpdateBucket(
	ctx context.Context, tenantID string, id uuid.UUID, req *models.UpdateBucketRequest, actorUserID *string,
) (*models.Bucket, error) {
	if !req.HasFieldChanges() {
		return nil, huberrors.NewValidationError("body", "at least one field must be provided")
	}

	if req.Note != nil && req.Status == nil {
		return nil, huberrors.NewValidationError("note", "note is only recorded with a status change")
	}

	var (
		updated   *models.Bucket
		oldStatus models.BucketStatus
	)

	err := s.store.InTx(ctx, func(tx repository.ClusterTx) error {
		current, err := tx.GetBucketForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if current.TenantID != tenantID {
			return bucketNotFound()
		}

		oldStatus = current.Status

		var shippedAt *time.Time

		if req.Status != nil && *req.Status == models.BucketStatusShipped && current.Status != models.BucketStatusShipped {
			now := s.now()
			shippedAt = &now
		}

		updated, err = tx.UpdateBucket(ctx, id, req, shippedAt)
		if err != nil {
			return err
		}

		if updated.Status == oldStatus {
			return nil
		}

		_, err = tx.AppendActivity(ctx, &models.NewBucketActivity{
			BucketID: id,
			UserID:   actorUserID,
			Type:     datatypes.StatusChange.String(),
			Payload:  models.StatusChangePayload{Old: oldStatus, New: updated.Status, Note: req.Note},
		})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update bucket: %w", err)
	}

	if updated.Status != oldStatus {
		s.logger.InfoContext(ctx, "bucket status changed",
			"bucket_id", id,
			"old_status", oldStatus,
			"new_status", updated.Status,
		)
	}

	if updated.Status == models.BucketStatusShipped && oldStatus != models.BucketStatusShipped {
		// TODO: notify the bucket's voters once the notification service exposes a fan-out endpoint.
		s.logger.InfoContext(ctx, "bucket shipped", "bucket_id", id, "target_version", updated.TargetVersion)
	}

	return updated, nil
}

// DeleteBucket removes a bucket under the tenant's clustering lock. Member requests become
// unassigned first; their embeddings are kept so they can be classified again.
func (s *BucketsService) DeleteBucket(ctx context.Context, tenantID string, id uuid.UUID) error {
	if tenantID == "" {
		return errTenantRequired()
	}

	var orphaned int64

	err := s.store.WithTenantLock(ctx, tenantID, func(tx repository.ClusterTx) error {
		current, err := tx.GetBucketForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if current.TenantID != tenantID {
			return bucketNotFound()
		}

		orphaned, err = tx.UnassignMembers(ctx, id)
		if err != nil {
			return err
		}

		return tx.DeleteBucket(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}

	s.logger.InfoContext(ctx, "bucket deleted", "bucket_id", id, "tenant_id", tenantID, "orphaned_requests", orphaned)

	return nil
}
