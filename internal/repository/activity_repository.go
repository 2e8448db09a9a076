package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/models"
)

// ActivityRepository appends and reads the bucket audit log. Entries are never updated.
type ActivityRepository struct {
	db DBTX
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db DBTX) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// AppendActivity inserts an activity entry; Payload is stored as JSON.
func (r *ActivityRepository) AppendActivity(
	ctx context.Context, a *models.NewBucketActivity,
) (*models.BucketActivity, error) {
	payload := []byte("{}")

	if a.Payload != nil {
		var err error

		payload, err = json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal activity payload: %w", err)
		}
	}

	out := models.BucketActivity{
		BucketID: a.BucketID,
		UserID:   a.UserID,
		Type:     a.Type,
		Payload:  payload,
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO feature_bucket_activity (bucket_id, user_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING id, created_at`,
		a.BucketID, a.UserID, a.Type, string(payload), time.Now(),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append bucket activity: %w", err)
	}

	return &out, nil
}

// ListRecentActivity returns the newest entries of a bucket first.
func (r *ActivityRepository) ListRecentActivity(
	ctx context.Context, bucketID uuid.UUID, limit int,
) ([]models.BucketActivity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, bucket_id, user_id, type, payload, created_at
		FROM feature_bucket_activity
		WHERE bucket_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		bucketID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket activity: %w", err)
	}
	defer rows.Close()

	activity := []models.BucketActivity{}

	for rows.Next() {
		var (
			a       models.BucketActivity
			payload []byte
		)

		if err := rows.Scan(&a.ID, &a.BucketID, &a.UserID, &a.Type, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bucket activity: %w", err)
		}

		a.Payload = payload
		activity = append(activity, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bucket activity: %w", err)
	}

	return activity, nil
}
