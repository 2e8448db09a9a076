package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
)

// BucketsRepository handles data access for feature buckets.
type BucketsRepository struct {
	db DBTX
}

// NewBucketsRepository creates a new buckets repository.
func NewBucketsRepository(db DBTX) *BucketsRepository {
	return &BucketsRepository{db: db}
}

const bucketColumns = `b.id, b.tenant_id, b.title, b.summary, b.description, b.status, b.priority,
	b.vote_weight_override, b.tags, b.goal_votes, b.shipped_at, b.target_version, b.decline_reason,
	b.created_at, b.updated_at`

// bucketStatsFrom joins per-bucket rollups: member count, vote count and votes cast in the last 7 days.
const bucketStatsFrom = `
	FROM feature_buckets b
	LEFT JOIN LATERAL (
		SELECT COUNT(DISTINCT fr.id) AS request_count,
		       COUNT(v.user_id) AS votes_count,
		       COUNT(v.user_id) FILTER (WHERE v.created_at >= NOW() - INTERVAL '7 days') AS momentum_7d
		FROM feature_requests fr
		LEFT JOIN feature_votes v ON v.feature_request_id = fr.id
		WHERE fr.bucket_id = b.id
	) s ON TRUE`

func bucketScanDest(b *models.Bucket, status, priority *string) []any {
	return []any{
		&b.ID, &b.TenantID, &b.Title, &b.Summary, &b.Description, status, priority,
		&b.VoteWeightOverride, &b.Tags, &b.GoalVotes, &b.ShippedAt, &b.TargetVersion, &b.DeclineReason,
		&b.CreatedAt, &b.UpdatedAt,
	}
}

func scanBucket(row pgx.Row, extra ...any) (*models.Bucket, error) {
	var (
		b                models.Bucket
		status, priority string
	)

	dest := append(bucketScanDest(&b, &status, &priority), extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	b.Status = models.BucketStatus(status)
	b.Priority = models.BucketPriority(priority)

	if b.Tags == nil {
		b.Tags = []string{}
	}

	return &b, nil
}

func scanBucketWithStats(row pgx.Row) (*models.BucketWithStats, error) {
	var out models.BucketWithStats

	b, err := scanBucket(row, &out.RequestCount, &out.VotesCount, &out.Momentum7d)
	if err != nil {
		return nil, err
	}

	out.Bucket = *b
	out.ProgressPercent = ProgressPercent(out.VotesCount, out.GoalVotes)

	return &out, nil
}

// ProgressPercent is votes/goal as a percentage rounded to one decimal. A non-positive goal uses DefaultGoalVotes.
func ProgressPercent(votes, goal int) float64 {
	if goal <= 0 {
		goal = models.DefaultGoalVotes
	}

	return math.Round(float64(votes)/float64(goal)*1000) / 10
}

// GetBucket returns a bucket with its rollups.
func (r *BucketsRepository) GetBucket(ctx context.Context, id uuid.UUID) (*models.BucketWithStats, error) {
	query := `SELECT ` + bucketColumns + `,
		COALESCE(s.request_count, 0), COALESCE(s.votes_count, 0), COALESCE(s.momentum_7d, 0)` +
		bucketStatsFrom + `
		WHERE b.id = $1`

	b, err := scanBucketWithStats(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
		}

		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return b, nil
}

// GetBucketForUpdate returns a bucket and locks its row until the surrounding transaction ends.
func (r *BucketsRepository) GetBucketForUpdate(ctx context.Context, id uuid.UUID) (*models.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM feature_buckets b WHERE b.id = $1 FOR UPDATE`

	b, err := scanBucket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
		}

		return nil, fmt.Errorf("failed to get bucket for update: %w", err)
	}

	return b, nil
}

// ListBuckets returns a tenant's buckets with rollups, ordered by filters.Sort.
func (r *BucketsRepository) ListBuckets(
	ctx context.Context, filters *models.ListBucketsFilters,
) ([]models.BucketWithStats, error) {
	query := `SELECT ` + bucketColumns + `,
		COALESCE(s.request_count, 0), COALESCE(s.votes_count, 0), COALESCE(s.momentum_7d, 0)` +
		bucketStatsFrom + `
		WHERE b.tenant_id = $1`
	args := []any{filters.TenantID}

	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		query += fmt.Sprintf(" AND b.status = $%d", len(args))
	}

	query += " ORDER BY " + bucketOrderBy(filters.Sort)

	args = append(args, filters.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	buckets := []models.BucketWithStats{}

	for rows.Next() {
		b, err := scanBucketWithStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}

		buckets = append(buckets, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buckets: %w", err)
	}

	return buckets, nil
}

// bucketOrderBy maps a sort name to its ORDER BY clause. Unknown values sort as hot.
func bucketOrderBy(sort string) string {
	switch sort {
	case models.BucketSortTop:
		return "COALESCE(b.vote_weight_override, s.votes_count, 0) DESC, b.created_at DESC, b.id"
	case models.BucketSortNew:
		return "b.created_at DESC, b.id"
	default:
		return "COALESCE(s.momentum_7d, 0) DESC, COALESCE(s.votes_count, 0) DESC, b.created_at DESC, b.id"
	}
}

// TopMembers returns up to limit requests of a bucket by votes desc then created_at desc.
// UserHasVoted is set for callerUserID; a nil caller never has voted.
func (r *BucketsRepository) TopMembers(
	ctx context.Context, bucketID uuid.UUID, callerUserID *string, limit int,
) ([]models.BucketMember, error) {
	query := `
		SELECT fr.id, fr.title, fr.description, fr.status, fr.created_at,
		       COUNT(v.user_id) AS votes_count,
		       COALESCE(BOOL_OR(v.user_id = $2::text), FALSE) AS user_has_voted
		FROM feature_requests fr
		LEFT JOIN feature_votes v ON v.feature_request_id = fr.id
		WHERE fr.bucket_id = $1
		GROUP BY fr.id
		ORDER BY votes_count DESC, fr.created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, bucketID, callerUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket members: %w", err)
	}
	defer rows.Close()

	members := []models.BucketMember{}

	for rows.Next() {
		var m models.BucketMember
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Description, &m.Status, &m.CreatedAt, &m.VotesCount, &m.UserHasVoted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bucket member: %w", err)
		}

		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bucket members: %w", err)
	}

	return members, nil
}

// NearestBucket returns the tenant bucket whose centroid is most cosine-similar to vector,
// or nil when the tenant has no bucket with a centroid.
func (r *BucketsRepository) NearestBucket(
	ctx context.Context, tenantID string, vector []float32,
) (*models.BucketMatch, error) {
	query := `
		SELECT id, title, 1 - (centroid <=> $1) AS similarity
		FROM feature_buckets
		WHERE tenant_id = $2 AND centroid IS NOT NULL
		ORDER BY centroid <=> $1
		LIMIT 1
	`

	var m models.BucketMatch

	err := r.db.QueryRow(ctx, query, pgvector.NewVector(vector), tenantID).Scan(&m.BucketID, &m.Title, &m.Similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // no bucket is a valid outcome
		}

		return nil, fmt.Errorf("nearest bucket search: %w", err)
	}

	return &m, nil
}

// CreateBucket inserts a bucket. Zero-valued status, priority and goal take their defaults.
func (r *BucketsRepository) CreateBucket(ctx context.Context, nb *models.NewBucket) (*models.Bucket, error) {
	status := nb.Status
	if status == "" {
		status = models.BucketStatusBacklog
	}

	priority := nb.Priority
	if priority == "" {
		priority = models.BucketPriorityLow
	}

	goal := nb.GoalVotes
	if goal <= 0 {
		goal = models.DefaultGoalVotes
	}

	tags := nb.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO feature_buckets AS b (tenant_id, title, summary, description, centroid, status, priority, tags, goal_votes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + bucketColumns

	b, err := scanBucket(r.db.QueryRow(ctx, query,
		nb.TenantID, nb.Title, nb.Summary, nb.Description, vectorArg(nb.Centroid),
		string(status), string(priority), tags, goal,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	b.Centroid = nb.Centroid

	return b, nil
}

// UpdateBucket applies the non-nil fields of req. shippedAt, when set, stamps shipped_at.
func (r *BucketsRepository) UpdateBucket(
	ctx context.Context, id uuid.UUID, req *models.UpdateBucketRequest, shippedAt *time.Time,
) (*models.Bucket, error) {
	query, args, hasUpdates := buildBucketUpdateQuery(req, id, shippedAt, time.Now())
	if !hasUpdates {
		return r.GetBucketForUpdate(ctx, id)
	}

	b, err := scanBucket(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
		}

		return nil, fmt.Errorf("failed to update bucket: %w", err)
	}

	return b, nil
}

func buildBucketUpdateQuery(
	req *models.UpdateBucketRequest, id uuid.UUID, shippedAt *time.Time, updatedAt time.Time,
) (query string, args []any, hasUpdates bool) {
	var updates []string

	set := func(column string, value any) {
		args = append(args, value)
		updates = append(updates, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Title != nil {
		set("title", *req.Title)
	}

	if req.Summary != nil {
		set("summary", *req.Summary)
	}

	if req.Description != nil {
		set("description", *req.Description)
	}

	if req.Status != nil {
		set("status", string(*req.Status))
	}

	if req.Priority != nil {
		set("priority", string(*req.Priority))
	}

	if req.VoteWeightOverride != nil {
		set("vote_weight_override", *req.VoteWeightOverride)
	}

	if req.Tags != nil {
		set("tags", req.Tags)
	}

	if req.TargetVersion != nil {
		set("target_version", *req.TargetVersion)
	}

	if req.DeclineReason != nil {
		set("decline_reason", *req.DeclineReason)
	}

	if req.GoalVotes != nil {
		set("goal_votes", *req.GoalVotes)
	}

	if shippedAt != nil {
		set("shipped_at", *shippedAt)
	}

	if len(updates) == 0 {
		return "", nil, false
	}

	set("updated_at", updatedAt)

	args = append(args, id)

	query = fmt.Sprintf(`
		UPDATE feature_buckets b
		SET %s
		WHERE b.id = $%d
		RETURNING %s`,
		strings.Join(updates, ", "), len(args), bucketColumns,
	)

	return query, args, true
}

// UpdateCentroid overwrites a bucket's centroid.
func (r *BucketsRepository) UpdateCentroid(ctx context.Context, bucketID uuid.UUID, centroid []float32) error {
	result, err := r.db.Exec(ctx,
		`UPDATE feature_buckets SET centroid = $1, updated_at = $2 WHERE id = $3`,
		vectorArg(centroid), time.Now(), bucketID,
	)
	if err != nil {
		return fmt.Errorf("failed to update bucket centroid: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	return nil
}

// DeleteBucket removes a bucket. Activity rows cascade; member requests are set to NULL by the FK.
func (r *BucketsRepository) DeleteBucket(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM feature_buckets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	return nil
}
