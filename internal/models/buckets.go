package models

import (
	"time"

	"github.com/google/uuid"
)

// BucketStatus is the roadmap lifecycle of a bucket.
type BucketStatus string

// Bucket statuses.
const (
	BucketStatusBacklog    BucketStatus = "backlog"
	BucketStatusPlanned    BucketStatus = "planned"
	BucketStatusInProgress BucketStatus = "in_progress"
	BucketStatusShipped    BucketStatus = "shipped"
	BucketStatusDeclined   BucketStatus = "declined"
)

// BucketPriority is the admin-assigned weight of a bucket.
type BucketPriority string

// Bucket priorities.
const (
	BucketPriorityLow      BucketPriority = "low"
	BucketPriorityMedium   BucketPriority = "medium"
	BucketPriorityHigh     BucketPriority = "high"
	BucketPriorityCritical BucketPriority = "critical"
)

// IsValid reports whether s is a known status.
func (s BucketStatus) IsValid() bool {
	switch s {
	case BucketStatusBacklog, BucketStatusPlanned, BucketStatusInProgress, BucketStatusShipped, BucketStatusDeclined:
		return true
	default:
		return false
	}
}

// IsValid reports whether p is a known priority.
func (p BucketPriority) IsValid() bool {
	switch p {
	case BucketPriorityLow, BucketPriorityMedium, BucketPriorityHigh, BucketPriorityCritical:
		return true
	default:
		return false
	}
}

// DefaultGoalVotes is the vote target used for progress when none is set.
const DefaultGoalVotes = 100

// Bucket is a semantic cluster of feature requests.
type Bucket struct {
	ID                 uuid.UUID      `json:"id"`
	TenantID           string         `json:"tenant_id"`
	Title              string         `json:"title"`
	Summary            *string        `json:"summary,omitempty"`
	Description        *string        `json:"description,omitempty"`
	Centroid           []float32      `json:"-"`
	Status             BucketStatus   `json:"status"`
	Priority           BucketPriority `json:"priority"`
	VoteWeightOverride *int           `json:"vote_weight_override,omitempty"`
	Tags               []string       `json:"tags"`
	GoalVotes          int            `json:"goal_votes"`
	ShippedAt          *time.Time     `json:"shipped_at,omitempty"`
	TargetVersion      *string        `json:"target_version,omitempty"`
	DeclineReason      *string        `json:"decline_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// BucketWithStats is a bucket with its vote rollups.
type BucketWithStats struct {
	Bucket

	VotesCount      int     `json:"votes_count"`
	RequestCount    int     `json:"request_count"`
	Momentum7d      int     `json:"momentum_7d"`
	ProgressPercent float64 `json:"progress_percent"`
}

// BucketMember is a feature request shown in a bucket's detail view.
type BucketMember struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description,omitempty"`
	Status       string    `json:"status"`
	VotesCount   int       `json:"votes_count"`
	UserHasVoted bool      `json:"user_has_voted"`
	CreatedAt    time.Time `json:"created_at"`
}

// BucketDetail is the read model for GET /v1/feature-buckets/{id}.
type BucketDetail struct {
	Bucket   BucketWithStats  `json:"bucket"`
	Requests []BucketMember   `json:"requests"`
	Activity []BucketActivity `json:"activity"`
}

// BucketMatch is the nearest bucket found for a vector.
type BucketMatch struct {
	BucketID   uuid.UUID `json:"bucket_id"`
	Title      string    `json:"title"`
	Similarity float64   `json:"similarity"`
}

// NewBucket holds the fields of a bucket being inserted.
type NewBucket struct {
	TenantID    string
	Title       string
	Summary     *string
	Description *string
	Centroid    []float32
	Status      BucketStatus
	Priority    BucketPriority
	Tags        []string
	GoalVotes   int
}

// CreateBucketRequest is the payload of POST /v1/feature-buckets.
type CreateBucketRequest struct {
	Title       string          `json:"title" validate:"required,no_null_bytes,min=1,max=255"`
	Summary     *string         `json:"summary,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
	Description *string         `json:"description,omitempty" validate:"omitempty,no_null_bytes,max=5000"`
	Status      *BucketStatus   `json:"status,omitempty" validate:"omitempty,bucket_status"`
	Priority    *BucketPriority `json:"priority,omitempty" validate:"omitempty,bucket_priority"`
	Tags        []string        `json:"tags,omitempty" validate:"omitempty,max=20,dive,min=1,max=50,no_null_bytes"`
	GoalVotes   *int            `json:"goal_votes,omitempty" validate:"omitempty,min=1"`
}

// UpdateBucketRequest is the payload of PATCH /v1/feature-buckets/{id}.
// Nil fields are left unchanged. Note is recorded on the status_change activity only.
type UpdateBucketRequest struct {
	Title              *string         `json:"title,omitempty" validate:"omitempty,no_null_bytes,min=1,max=255"`
	Summary            *string         `json:"summary,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
	Description        *string         `json:"description,omitempty" validate:"omitempty,no_null_bytes,max=5000"`
	Status             *BucketStatus   `json:"status,omitempty" validate:"omitempty,bucket_status"`
	Priority           *BucketPriority `json:"priority,omitempty" validate:"omitempty,bucket_priority"`
	VoteWeightOverride *int            `json:"vote_weight_override,omitempty" validate:"omitempty,min=0"`
	Tags               []string        `json:"tags,omitempty" validate:"omitempty,max=20,dive,min=1,max=50,no_null_bytes"`
	TargetVersion      *string         `json:"target_version,omitempty" validate:"omitempty,no_null_bytes,max=50"`
	DeclineReason      *string         `json:"decline_reason,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
	GoalVotes          *int            `json:"goal_votes,omitempty" validate:"omitempty,min=1"`
	Note               *string         `json:"note,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
}

// HasFieldChanges reports whether any bucket column would change (Note alone does not count).
func (r *UpdateBucketRequest) HasFieldChanges() bool {
	return r.Title != nil || r.Summary != nil || r.Description != nil || r.Status != nil ||
		r.Priority != nil || r.VoteWeightOverride != nil || r.Tags != nil ||
		r.TargetVersion != nil || r.DeclineReason != nil || r.GoalVotes != nil
}

// Bucket list sort orders.
const (
	BucketSortHot = "hot"
	BucketSortTop = "top"
	BucketSortNew = "new"
)

// Bucket list limits.
const (
	DefaultBucketListLimit = 20
	MaxBucketListLimit     = 100
)

// ListBucketsFilters are the query parameters of GET /v1/feature-buckets.
type ListBucketsFilters struct {
	TenantID string        `form:"-"`
	Sort     string        `form:"sort" validate:"omitempty,oneof=hot top new"`
	Status   *BucketStatus `form:"status" validate:"omitempty,bucket_status"`
	Limit    int           `form:"limit" validate:"omitempty,min=1"`
}

// ListBucketsResponse is the response of GET /v1/feature-buckets.
type ListBucketsResponse struct {
	Data  []BucketWithStats `json:"data"`
	Limit int               `json:"limit"`
}

// BucketLabel is the generated (or fallback) name of a new bucket.
type BucketLabel struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}
